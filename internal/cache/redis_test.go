package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/md-checkout/internal/clock"
	"github.com/example/md-checkout/internal/domain/product"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis, *clock.Manual) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewManual(epoch)
	return NewRedis(client, clk, DefaultTTL), mr, clk
}

func TestRedis_SetThenGet(t *testing.T) {
	c, mr, _ := setupTestRedis(t)
	ctx := context.Background()

	p := &product.Product{ID: "p1", Name: "Feteasca Neagra", Price: decimal.RequireFromString("18.90"), Stock: 7, IsActive: true}
	require.NoError(t, c.Set(ctx, &Entry{ProductID: "p1", Valid: true, Product: p}))

	assert.True(t, mr.Exists("validation:p1"))

	entry, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, entry.Valid)
	assert.Equal(t, "Feteasca Neagra", entry.Product.Name)
	assert.True(t, p.Price.Equal(entry.Product.Price))
	assert.Equal(t, epoch, entry.CachedAt.UTC())
}

func TestRedis_GetMiss(t *testing.T) {
	c, _, _ := setupTestRedis(t)

	entry, err := c.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, entry)
}

func TestRedis_StaleEntryIsMiss(t *testing.T) {
	c, _, clk := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, &Entry{ProductID: "p1", Valid: true}))

	clk.Advance(DefaultTTL + time.Second)

	_, err := c.Get(ctx, "p1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedis_KeyExpires(t *testing.T) {
	c, mr, _ := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, &Entry{ProductID: "p1", Valid: true}))

	mr.FastForward(DefaultTTL + time.Second)

	_, err := c.Get(ctx, "p1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedis_InvalidJSON(t *testing.T) {
	c, mr, _ := setupTestRedis(t)
	require.NoError(t, mr.Set("validation:p1", "{not json"))

	_, err := c.Get(context.Background(), "p1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestRedis_Delete(t *testing.T) {
	c, mr, _ := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, &Entry{ProductID: "p1"}))

	require.NoError(t, c.Delete(ctx, "p1"))
	assert.False(t, mr.Exists("validation:p1"))
}

func TestRedis_ConnectionError(t *testing.T) {
	c, mr, _ := setupTestRedis(t)
	mr.Close()

	_, err := c.Get(context.Background(), "p1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}
