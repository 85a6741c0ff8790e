package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/md-checkout/internal/clock"
	"github.com/redis/go-redis/v9"
)

// Redis shares validation results between API instances.
type Redis struct {
	client *redis.Client
	clock  clock.Clock
	ttl    time.Duration
}

func NewRedis(client *redis.Client, clk clock.Clock, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, clock: clk, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, productID string) (*Entry, error) {
	data, err := r.client.Get(ctx, cacheKey(productID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal validation entry failed: %w", err)
	}
	if !fresh(&entry, r.clock.Now(), r.ttl) {
		return nil, ErrCacheMiss
	}
	return &entry, nil
}

func (r *Redis) Set(ctx context.Context, entry *Entry) error {
	cp := *entry
	if cp.CachedAt.IsZero() {
		cp.CachedAt = r.clock.Now()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal validation entry failed: %w", err)
	}
	if err := r.client.Set(ctx, cacheKey(cp.ProductID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, productID string) error {
	if err := r.client.Del(ctx, cacheKey(productID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(productID string) string {
	return fmt.Sprintf("validation:%s", productID)
}
