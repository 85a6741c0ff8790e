// Package cache holds recent product validation results so the cart does not
// hit the catalog for every line on every pass.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/example/md-checkout/internal/domain/product"
)

// DefaultTTL is how long a validation result stays fresh.
const DefaultTTL = 5 * time.Minute

var ErrCacheMiss = errors.New("cache miss")

// Entry is the outcome of validating one product against the catalog.
type Entry struct {
	ProductID string           `json:"product_id"`
	Valid     bool             `json:"valid"`
	Product   *product.Product `json:"product,omitempty"`
	CachedAt  time.Time        `json:"cached_at"`
}

// ValidationCache stores Entries keyed by product id. Entries older than the
// cache TTL are reported as ErrCacheMiss.
type ValidationCache interface {
	Get(ctx context.Context, productID string) (*Entry, error)
	Set(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, productID string) error
}

func fresh(e *Entry, now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CachedAt) < ttl
}
