package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/md-checkout/internal/cache"
	"github.com/example/md-checkout/internal/domain/product"
	"golang.org/x/sync/errgroup"
)

const (
	validationTimeout = 10 * time.Second
	batchConcurrency  = 4
)

// ValidationResult describes what a validation pass did to the lines of
// one product.
type ValidationResult struct {
	ProductID string `json:"product_id"`
	Valid     bool   `json:"valid"`
	Removed   int    `json:"removed"`
	Adjusted  int    `json:"adjusted"`
	FromCache bool   `json:"from_cache,omitempty"`
}

// ValidateSingleProduct checks productID against the catalog and reconciles
// the matching lines. An unavailable product (inactive, out of stock or
// unknown) has all its lines removed; a product with less stock than a line
// holds gets the line clamped and flagged Adjusted. Catalog errors leave the
// cart untouched and are returned.
func (c *Cart) ValidateSingleProduct(ctx context.Context, productID string) (*ValidationResult, error) {
	c.validating.Add(1)
	defer c.validating.Add(-1)

	p, err := c.catalog.GetProduct(ctx, productID)
	if errors.Is(err, product.ErrProductNotFound) {
		p, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("validate product %s: %w", productID, err)
	}

	res := c.reconcile(ctx, productID, p)

	entry := &cache.Entry{ProductID: productID, Valid: res.Valid, Product: p, CachedAt: c.clock.Now()}
	if c.cache != nil {
		if err := c.cache.Set(ctx, entry); err != nil {
			log.Printf("[Cart] Failed to cache validation of %s: %v", productID, err)
		}
	}
	return res, nil
}

// BatchValidateProducts validates each distinct id. Ids with a fresh cache
// entry are reconciled from the cache without calling the catalog. Lookups
// that fail are logged and retried on the next scheduled pass.
func (c *Cart) BatchValidateProducts(ctx context.Context, productIDs []string) []ValidationResult {
	var pending []string
	var results []ValidationResult

	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}

		if c.cache != nil {
			entry, err := c.cache.Get(ctx, id)
			if err == nil {
				res := c.reconcileCached(ctx, entry)
				results = append(results, *res)
				continue
			}
			if !errors.Is(err, cache.ErrCacheMiss) {
				log.Printf("[Cart] Validation cache read failed for %s: %v", id, err)
			}
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return results
	}

	fetched := make([]*ValidationResult, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, id := range pending {
		g.Go(func() error {
			res, err := c.ValidateSingleProduct(gctx, id)
			if err != nil {
				log.Printf("[Cart] %v", err)
				return nil
			}
			fetched[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range fetched {
		if res != nil {
			results = append(results, *res)
		}
	}
	return results
}

// ValidateAll validates every product currently in the cart.
func (c *Cart) ValidateAll(ctx context.Context) []ValidationResult {
	return c.BatchValidateProducts(ctx, c.ProductIDs())
}

func (c *Cart) reconcileCached(ctx context.Context, entry *cache.Entry) *ValidationResult {
	if entry.Valid && entry.Product == nil {
		return &ValidationResult{ProductID: entry.ProductID, Valid: true, FromCache: true}
	}
	var p *product.Product
	if entry.Valid {
		p = entry.Product
	}
	res := c.reconcile(ctx, entry.ProductID, p)
	res.FromCache = true
	return res
}

// reconcile applies the catalog state p (nil when unavailable) to the
// current lines. Quantities are derived from the stock seen now, not from
// the state when validation was requested.
func (c *Cart) reconcile(ctx context.Context, productID string, p *product.Product) *ValidationResult {
	res := &ValidationResult{ProductID: productID, Valid: p != nil && p.Available()}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexByProduct(productID) < 0 {
		return res
	}

	if !res.Valid {
		kept := c.items[:0]
		for _, it := range c.items {
			if it.Product.ID == productID {
				res.Removed++
				continue
			}
			kept = append(kept, it)
		}
		c.items = kept
		log.Printf("[Cart] Removed %d unavailable line(s) of %s from cart %s", res.Removed, productID, c.sessionID)
		c.touchLocked(ctx)
		return res
	}

	for i := range c.items {
		line := &c.items[i]
		if line.Product.ID != productID {
			continue
		}
		line.Product = *p
		if line.Quantity > p.Stock {
			line.Quantity = p.Stock
			line.Adjusted = true
			res.Adjusted++
		}
	}
	if res.Adjusted > 0 {
		log.Printf("[Cart] Adjusted %s to available stock %d in cart %s", productID, p.Stock, c.sessionID)
	}
	c.touchLocked(ctx)
	return res
}

// ScheduleValidation queues ids for the next debounced validation pass.
func (c *Cart) ScheduleValidation(productIDs ...string) {
	if c.catalog == nil {
		return
	}
	c.debouncer.Trigger(productIDs...)
}

// FlushValidation runs any pending debounced validation immediately.
func (c *Cart) FlushValidation() {
	c.debouncer.Flush()
}

// StartBackgroundValidation begins the periodic sweep. It returns false when
// background validation is disabled or already running.
func (c *Cart) StartBackgroundValidation(ctx context.Context) bool {
	if !c.cfg.BackgroundValidation || c.catalog == nil {
		return false
	}
	return c.sweeper.Start(ctx)
}

// StopBackgroundValidation stops the sweep. No sweep runs after it returns.
func (c *Cart) StopBackgroundValidation() {
	c.sweeper.Stop()
}

func (c *Cart) BackgroundValidationRunning() bool {
	return c.sweeper.Running()
}

func (c *Cart) runScheduledValidation(productIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), validationTimeout)
	defer cancel()
	c.BatchValidateProducts(ctx, productIDs)
}

func (c *Cart) sweep(ctx context.Context) {
	ids := c.ProductIDs()
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, validationTimeout)
	defer cancel()
	c.BatchValidateProducts(ctx, ids)
}
