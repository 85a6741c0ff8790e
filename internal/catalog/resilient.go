// Package catalog wraps product lookups with request collapsing and a
// circuit breaker so a slow or failing catalog does not stall carts.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/md-checkout/internal/domain/product"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("catalog temporarily unavailable")

type Settings struct {
	// Timeout bounds a single lookup
	Timeout time.Duration
	// FailureThreshold consecutive failures open the breaker
	FailureThreshold uint32
	// OpenFor is how long the breaker stays open before probing again
	OpenFor time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Timeout:          3 * time.Second,
		FailureThreshold: 5,
		OpenFor:          30 * time.Second,
	}
}

// Resilient is a product.Catalog decorator.
type Resilient struct {
	next    product.Catalog
	timeout time.Duration
	group   singleflight.Group
	breaker *gobreaker.CircuitBreaker[*product.Product]
}

func NewResilient(next product.Catalog, s Settings) *Resilient {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = DefaultSettings().FailureThreshold
	}
	threshold := s.FailureThreshold

	breaker := gobreaker.NewCircuitBreaker[*product.Product](gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 1,
		Timeout:     s.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// an unknown product is an answer, not an outage
			return err == nil || errors.Is(err, product.ErrProductNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[Catalog] Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Resilient{next: next, timeout: s.Timeout, breaker: breaker}
}

func (r *Resilient) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	v, err, _ := r.group.Do(id, func() (any, error) {
		return r.breaker.Execute(func() (*product.Product, error) {
			lookupCtx := ctx
			if r.timeout > 0 {
				var cancel context.CancelFunc
				lookupCtx, cancel = context.WithTimeout(ctx, r.timeout)
				defer cancel()
			}
			return r.next.GetProduct(lookupCtx, id)
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}

	// callers sharing a flight must not share the pointer
	p := *v.(*product.Product)
	return &p, nil
}

// State reports the breaker state, e.g. "closed" or "open".
func (r *Resilient) State() string {
	return r.breaker.State().String()
}
