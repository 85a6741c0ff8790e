package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/md-checkout/internal/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRules_For(t *testing.T) {
	rules := DefaultRules()

	assert.Equal(t, Rule{MaxRequests: 10, Window: time.Minute}, rules.For(OpAddItem))
	assert.Equal(t, Rule{MaxRequests: 20, Window: time.Minute}, rules.For(OpUpdateQuantity))
	assert.Equal(t, Rule{MaxRequests: 3, Window: time.Minute}, rules.For(OpClearCart))
	assert.Equal(t, Rule{MaxRequests: 30, Window: time.Minute}, rules.For(OpValidateCart))
	assert.Equal(t, DefaultRule, rules.For("somethingElse"))
}

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "10.0.0.1:cart_1_a:addItem", RateLimitKey("10.0.0.1", "cart_1_a", OpAddItem))
}

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	clk := clock.NewManual(epoch)
	l := NewMemoryLimiter(clk)
	ctx := context.Background()
	rule := DefaultRules().For(OpAddItem)
	key := RateLimitKey("1.2.3.4", "cart_1_a", OpAddItem)

	for i := 1; i <= 10; i++ {
		d, err := l.Allow(ctx, key, rule)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 10-i, d.Remaining)
		assert.Equal(t, 10, d.Limit)
	}

	d, err := l.Allow(ctx, key, rule)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.True(t, d.ResetAt.After(clk.Now()))
	assert.Equal(t, time.Minute, d.RetryAfter(clk.Now()))

	clk.Advance(time.Minute + time.Millisecond)

	d, err = l.Allow(ctx, key, rule)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 9, d.Remaining)
}

func TestMemoryLimiter_WindowBoundaryIsInclusive(t *testing.T) {
	clk := clock.NewManual(epoch)
	l := NewMemoryLimiter(clk)
	rule := Rule{MaxRequests: 1, Window: time.Minute}
	ctx := context.Background()

	d, _ := l.Allow(ctx, "k", rule)
	require.True(t, d.Allowed)

	clk.Advance(time.Minute)
	d, _ = l.Allow(ctx, "k", rule)
	assert.False(t, d.Allowed, "window resets strictly after it elapses")

	clk.Advance(time.Nanosecond)
	d, _ = l.Allow(ctx, "k", rule)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(clock.NewManual(epoch))
	rule := Rule{MaxRequests: 1, Window: time.Minute}
	ctx := context.Background()

	d, _ := l.Allow(ctx, RateLimitKey("ip", "s1", OpClearCart), rule)
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, RateLimitKey("ip", "s2", OpClearCart), rule)
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, RateLimitKey("ip", "s1", OpAddItem), rule)
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, RateLimitKey("ip", "s1", OpClearCart), rule)
	assert.False(t, d.Allowed)
}

func TestMemoryLimiter_Prune(t *testing.T) {
	clk := clock.NewManual(epoch)
	l := NewMemoryLimiter(clk)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "a", Rule{MaxRequests: 5, Window: time.Second})
	_, _ = l.Allow(ctx, "b", Rule{MaxRequests: 5, Window: time.Hour})
	clk.Advance(2 * time.Second)
	l.Prune()

	assert.Equal(t, 1, l.Len())
}

func TestDecision_RetryAfterNeverNegative(t *testing.T) {
	d := Decision{ResetAt: epoch}
	assert.Equal(t, time.Duration(0), d.RetryAfter(epoch.Add(time.Second)))
}

func setupTestRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, clock.NewManual(epoch)), mr
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	l, mr := setupTestRedisLimiter(t)
	ctx := context.Background()
	rule := DefaultRules().For(OpAddItem)
	key := RateLimitKey("1.2.3.4", "cart_1_a", OpAddItem)

	for i := 1; i <= 10; i++ {
		d, err := l.Allow(ctx, key, rule)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 10-i, d.Remaining)
	}

	d, err := l.Allow(ctx, key, rule)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.True(t, d.ResetAt.After(epoch))

	mr.FastForward(time.Minute + time.Second)

	d, err = l.Allow(ctx, key, rule)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 9, d.Remaining)
}

func TestRedisLimiter_SetsExpiryOnFirstHit(t *testing.T) {
	l, mr := setupTestRedisLimiter(t)

	_, err := l.Allow(context.Background(), "k", Rule{MaxRequests: 5, Window: 30 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, mr.TTL("ratelimit:k"))
}

func TestRedisLimiter_ConnectionError(t *testing.T) {
	l, mr := setupTestRedisLimiter(t)
	mr.Close()

	_, err := l.Allow(context.Background(), "k", DefaultRule)
	assert.Error(t, err)
}
