package security

import (
	"context"
	"fmt"

	"github.com/example/md-checkout/internal/clock"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares counters across API instances. The first hit of a
// window sets the key expiry; the window ends when the key expires.
type RedisLimiter struct {
	client *redis.Client
	clock  clock.Clock
}

func NewRedisLimiter(client *redis.Client, clk clock.Clock) *RedisLimiter {
	return &RedisLimiter{client: client, clock: clk}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, rule Rule) (Decision, error) {
	k := "ratelimit:" + key

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr failed: %w", err)
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, k, rule.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit expire failed: %w", err)
		}
	}

	ttl, err := l.client.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit ttl failed: %w", err)
	}
	if ttl <= 0 {
		// key lost its expiry; start the window over
		if err := l.client.PExpire(ctx, k, rule.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit expire failed: %w", err)
		}
		ttl = rule.Window
	}

	d := Decision{
		Limit:   rule.MaxRequests,
		ResetAt: l.clock.Now().Add(ttl),
	}
	if int(count) > rule.MaxRequests {
		return d, nil
	}
	d.Allowed = true
	d.Remaining = rule.MaxRequests - int(count)
	return d, nil
}
