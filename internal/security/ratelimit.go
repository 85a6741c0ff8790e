package security

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/md-checkout/internal/clock"
)

var ErrRateLimited = errors.New("too many requests")

// Operation names used as rate-limit and CSRF scopes.
const (
	OpGetCSRFToken   = "getCSRFToken"
	OpAddItem        = "addItem"
	OpUpdateQuantity = "updateQuantity"
	OpRemoveItem     = "removeItem"
	OpClearCart      = "clearCart"
	OpValidateCart   = "validateCart"
	OpGetCart        = "getCart"
	OpCheckout       = "checkout"
	OpPlaceOrder     = "placeOrder"
)

// Rule is a fixed-window limit.
type Rule struct {
	MaxRequests int
	Window      time.Duration
}

var DefaultRule = Rule{MaxRequests: 10, Window: time.Minute}

// Rules maps operation names to their limits.
type Rules map[string]Rule

func DefaultRules() Rules {
	return Rules{
		OpAddItem:        {MaxRequests: 10, Window: time.Minute},
		OpUpdateQuantity: {MaxRequests: 20, Window: time.Minute},
		OpRemoveItem:     {MaxRequests: 10, Window: time.Minute},
		OpClearCart:      {MaxRequests: 3, Window: time.Minute},
		OpValidateCart:   {MaxRequests: 30, Window: time.Minute},
		OpGetCSRFToken:   {MaxRequests: 30, Window: time.Minute},
		OpGetCart:        {MaxRequests: 60, Window: time.Minute},
		OpCheckout:       {MaxRequests: 30, Window: time.Minute},
		OpPlaceOrder:     {MaxRequests: 5, Window: time.Minute},
	}
}

// For returns the rule of op, or DefaultRule for unknown operations.
func (r Rules) For(op string) Rule {
	if rule, ok := r[op]; ok {
		return rule
	}
	return DefaultRule
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the window resets, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// Limiter counts requests per key inside fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (Decision, error)
}

// RateLimitKey scopes a counter to one client, session and operation.
func RateLimitKey(client, sessionID, op string) string {
	return client + ":" + sessionID + ":" + op
}

type bucket struct {
	count   int
	resetAt time.Time
}

const pruneEvery = 1000

// MemoryLimiter keeps counters in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	buckets map[string]*bucket
	calls   int
}

func NewMemoryLimiter(clk clock.Clock) *MemoryLimiter {
	return &MemoryLimiter{clock: clk, buckets: make(map[string]*bucket)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, rule Rule) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.calls++
	if l.calls%pruneEvery == 0 {
		l.pruneLocked(now)
	}

	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{resetAt: now.Add(rule.Window)}
		l.buckets[key] = b
	}

	if b.count >= rule.MaxRequests {
		return Decision{Allowed: false, Limit: rule.MaxRequests, Remaining: 0, ResetAt: b.resetAt}, nil
	}
	b.count++
	return Decision{
		Allowed:   true,
		Limit:     rule.MaxRequests,
		Remaining: rule.MaxRequests - b.count,
		ResetAt:   b.resetAt,
	}, nil
}

// Prune drops expired buckets.
func (l *MemoryLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.clock.Now())
}

func (l *MemoryLimiter) pruneLocked(now time.Time) {
	for k, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, k)
		}
	}
}

// Len returns the number of live buckets.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
