package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/md-checkout/internal/cache"
	"github.com/example/md-checkout/internal/clock"
	"github.com/example/md-checkout/internal/domain/product"
	"github.com/example/md-checkout/internal/ids"
	"github.com/example/md-checkout/internal/storage"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrInvalidProduct     = errors.New("product_id is required")
	ErrQuantityTooLarge   = errors.New("quantity exceeds the per-item limit")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrProductUnavailable = errors.New("product is not available")
	ErrItemNotFound       = errors.New("cart item not found")
)

// MaxQuantity is the largest quantity a single line may hold.
const MaxQuantity = 99

type LineItem struct {
	ID       string          `json:"id"`
	Product  product.Product `json:"product"`
	Quantity int             `json:"quantity"`
	AddedAt  time.Time       `json:"added_at"`
	// Adjusted is set when validation lowered the quantity to match stock
	Adjusted bool `json:"adjusted,omitempty"`
}

// Total is price × quantity rounded to cents.
func (i LineItem) Total() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity))).Round(2)
}

func (i LineItem) LowStock(threshold int) bool {
	return i.Product.LowStock(threshold)
}

type Config struct {
	DebounceDelay        time.Duration
	BackgroundInterval   time.Duration
	BackgroundValidation bool
	MaxQuantity          int
}

func DefaultConfig() Config {
	return Config{
		DebounceDelay:        time.Second,
		BackgroundInterval:   30 * time.Second,
		BackgroundValidation: true,
		MaxQuantity:          MaxQuantity,
	}
}

type Deps struct {
	Catalog product.Catalog
	Cache   cache.ValidationCache
	Storage storage.Storage
	Clock   clock.Clock
}

// Cart is the line-item collection of one session. All methods are safe for
// concurrent use; validation callbacks run on timer goroutines.
type Cart struct {
	mu        sync.Mutex
	sessionID string
	items     []LineItem
	updatedAt time.Time

	catalog product.Catalog
	cache   cache.ValidationCache
	storage storage.Storage
	clock   clock.Clock
	ids     *ids.Generator
	cfg     Config

	debouncer  *Debouncer
	sweeper    *Sweeper
	validating atomic.Int32
	loading    atomic.Bool
}

func New(sessionID string, deps Deps, cfg Config) *Cart {
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = MaxQuantity
	}
	c := &Cart{
		sessionID: sessionID,
		catalog:   deps.Catalog,
		cache:     deps.Cache,
		storage:   deps.Storage,
		clock:     deps.Clock,
		ids:       ids.NewGenerator(deps.Clock),
		cfg:       cfg,
	}
	c.debouncer = NewDebouncer(cfg.DebounceDelay, c.runScheduledValidation)
	c.sweeper = NewSweeper(cfg.BackgroundInterval, c.sweep)
	return c
}

func (c *Cart) SessionID() string {
	return c.sessionID
}

// AddItem puts qty units of p into the cart. Adding a product that is
// already present merges into the existing line, clamped to p.Stock.
func (c *Cart) AddItem(ctx context.Context, p product.Product, qty int) (LineItem, error) {
	if p.ID == "" {
		return LineItem{}, ErrInvalidProduct
	}
	if qty <= 0 {
		return LineItem{}, ErrInvalidQuantity
	}
	if qty > c.cfg.MaxQuantity {
		return LineItem{}, ErrQuantityTooLarge
	}
	if !p.Available() {
		return LineItem{}, ErrProductUnavailable
	}
	if qty > p.Stock {
		return LineItem{}, fmt.Errorf("%w: only %d available", ErrInsufficientStock, p.Stock)
	}

	c.mu.Lock()
	var result LineItem
	if idx := c.indexByProduct(p.ID); idx >= 0 {
		line := &c.items[idx]
		line.Quantity = min(line.Quantity+qty, p.Stock, c.cfg.MaxQuantity)
		line.Product = p
		line.Adjusted = false
		result = *line
	} else {
		result = LineItem{
			ID:       c.ids.Lower("item", 9),
			Product:  p,
			Quantity: qty,
			AddedAt:  c.clock.Now(),
		}
		c.items = append(c.items, result)
	}
	c.touchLocked(ctx)
	c.mu.Unlock()

	log.Printf("[Cart] Added %d x %s to cart %s", qty, p.ID, c.sessionID)
	c.ScheduleValidation(p.ID)
	return result, nil
}

// AddProduct looks productID up in the catalog and adds it.
func (c *Cart) AddProduct(ctx context.Context, productID string, qty int) (LineItem, error) {
	if productID == "" {
		return LineItem{}, ErrInvalidProduct
	}
	p, err := c.catalog.GetProduct(ctx, productID)
	if errors.Is(err, product.ErrProductNotFound) {
		return LineItem{}, fmt.Errorf("%w: %s", ErrProductUnavailable, productID)
	}
	if err != nil {
		return LineItem{}, fmt.Errorf("failed to load product %s: %w", productID, err)
	}
	return c.AddItem(ctx, *p, qty)
}

// UpdateQuantity sets the quantity of a line. Zero removes the line; other
// values are clamped to the last known stock of the product.
func (c *Cart) UpdateQuantity(ctx context.Context, itemID string, qty int) error {
	if qty < 0 {
		return ErrInvalidQuantity
	}
	if qty == 0 {
		return c.RemoveItem(ctx, itemID)
	}
	if qty > c.cfg.MaxQuantity {
		return ErrQuantityTooLarge
	}

	c.mu.Lock()
	idx := c.indexByID(itemID)
	if idx < 0 {
		c.mu.Unlock()
		return ErrItemNotFound
	}
	line := &c.items[idx]
	line.Adjusted = false
	if stock := line.Product.Stock; stock > 0 && qty > stock {
		qty = stock
		line.Adjusted = true
	}
	line.Quantity = qty
	productID := line.Product.ID
	c.touchLocked(ctx)
	c.mu.Unlock()

	c.ScheduleValidation(productID)
	return nil
}

// RemoveItem deletes a line. Removing an unknown id is a no-op.
func (c *Cart) RemoveItem(ctx context.Context, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexByID(itemID)
	if idx < 0 {
		return nil
	}
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	c.touchLocked(ctx)
	return nil
}

// Clear empties the cart.
func (c *Cart) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = nil
	c.touchLocked(ctx)
	log.Printf("[Cart] Cleared cart %s", c.sessionID)
	return nil
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []LineItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LineItem(nil), c.items...)
}

func (c *Cart) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items) == 0
}

// ItemCount is the sum of all line quantities.
func (c *Cart) ItemCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, it := range c.items {
		n += it.Quantity
	}
	return n
}

func (c *Cart) Subtotal() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := decimal.Zero
	for _, it := range c.items {
		total = total.Add(it.Total())
	}
	return total.Round(2)
}

func (c *Cart) FindByProduct(productID string) (LineItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.indexByProduct(productID); idx >= 0 {
		return c.items[idx], true
	}
	return LineItem{}, false
}

// ProductIDs returns the distinct product ids in the cart.
func (c *Cart) ProductIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]struct{}, len(c.items))
	out := make([]string, 0, len(c.items))
	for _, it := range c.items {
		if _, ok := seen[it.Product.ID]; ok {
			continue
		}
		seen[it.Product.ID] = struct{}{}
		out = append(out, it.Product.ID)
	}
	return out
}

func (c *Cart) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

// Validating reports whether a catalog validation is in flight.
func (c *Cart) Validating() bool {
	return c.validating.Load() > 0
}

// Loading reports whether the cart is being restored from storage.
func (c *Cart) Loading() bool {
	return c.loading.Load()
}

// Close stops scheduled and background validation.
func (c *Cart) Close() {
	c.StopBackgroundValidation()
	c.debouncer.Stop()
}

func (c *Cart) indexByID(itemID string) int {
	for i := range c.items {
		if c.items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Cart) indexByProduct(productID string) int {
	for i := range c.items {
		if c.items[i].Product.ID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) touchLocked(ctx context.Context) {
	c.updatedAt = c.clock.Now()
	if err := c.persistLocked(ctx); err != nil {
		log.Printf("[Cart] Failed to persist cart %s: %v", c.sessionID, err)
	}
}
