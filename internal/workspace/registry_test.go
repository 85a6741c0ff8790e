package workspace

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/md-checkout/internal/cache"
	"github.com/example/md-checkout/internal/clock"
	"github.com/example/md-checkout/internal/domain/product"
	"github.com/example/md-checkout/internal/infrastructure/store/mocks"
	"github.com/example/md-checkout/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*Registry, *storage.Memory, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(epoch)
	st := storage.NewMemory()
	wine := product.Product{ID: "wine-1", Name: "Purcari Negru", Price: decimal.RequireFromString("10.00"), Stock: 10, IsActive: true}

	cfg := DefaultConfig()
	cfg.Cart.DebounceDelay = time.Hour
	cfg.Cart.BackgroundValidation = false

	r := NewRegistry(Deps{
		Catalog:  mocks.NewMockCatalog(wine),
		Cache:    cache.NewMemory(clk, cache.DefaultTTL, 100),
		Storage:  st,
		Clock:    clk,
		Orders:   mocks.NewMockOrderCreator(),
		Payments: mocks.NewMockAuthorizer(),
	}, cfg)
	t.Cleanup(r.Close)
	return r, st, clk
}

func TestRegistry_GetReturnsSameWorkspace(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	a, err := r.Get(ctx, "cart_1_a")
	require.NoError(t, err)
	b, err := r.Get(ctx, "cart_1_a")
	require.NoError(t, err)
	c, err := r.Get(ctx, "cart_1_b")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ReleaseKeepsStoredState(t *testing.T) {
	r, st, _ := newTestRegistry(t)
	ctx := context.Background()

	ws, err := r.Get(ctx, "cart_1_a")
	require.NoError(t, err)
	_, err = ws.Cart.AddProduct(ctx, "wine-1", 2)
	require.NoError(t, err)
	require.NoError(t, ws.Checkout.InitializeCheckout(ctx, ws.Cart.Items()))

	r.Release("cart_1_a")
	assert.Zero(t, r.Len())

	_, ok, _ := st.Get(ctx, "session:cart_1_a:cart")
	assert.True(t, ok)

	again, err := r.Get(ctx, "cart_1_a")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Cart.ItemCount())
	assert.Equal(t, ws.Checkout.ID(), again.Checkout.ID())
}

// gatedStorage holds reads of one key until open is closed.
type gatedStorage struct {
	storage.Storage
	key     string
	entered chan struct{}
	open    chan struct{}
	reads   atomic.Int32
	once    sync.Once
}

func newGatedStorage(inner storage.Storage, key string) *gatedStorage {
	return &gatedStorage{Storage: inner, key: key, entered: make(chan struct{}), open: make(chan struct{})}
}

func (g *gatedStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if key == g.key {
		g.reads.Add(1)
		g.once.Do(func() { close(g.entered) })
		<-g.open
	}
	return g.Storage.Get(ctx, key)
}

func newGatedRegistry(t *testing.T, gate *gatedStorage) *Registry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Cart.DebounceDelay = time.Hour
	cfg.Cart.BackgroundValidation = false
	clk := clock.NewManual(epoch)
	r := NewRegistry(Deps{
		Catalog:  mocks.NewMockCatalog(),
		Cache:    cache.NewMemory(clk, cache.DefaultTTL, 100),
		Storage:  gate,
		Clock:    clk,
		Orders:   mocks.NewMockOrderCreator(),
		Payments: mocks.NewMockAuthorizer(),
	}, cfg)
	t.Cleanup(r.Close)
	return r
}

func TestRegistry_SlowLoadDoesNotBlockOtherSessions(t *testing.T) {
	gate := newGatedStorage(storage.NewMemory(), "session:cart_1_slowslows:cart")
	r := newGatedRegistry(t, gate)
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() {
		_, err := r.Get(ctx, "cart_1_slowslows")
		slow <- err
	}()
	<-gate.entered

	fast := make(chan error, 1)
	go func() {
		_, err := r.Get(ctx, "cart_1_fastfastf")
		fast <- err
	}()
	select {
	case err := <-fast:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Get for another session waited on a pending load")
	}

	close(gate.open)
	require.NoError(t, <-slow)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ConcurrentGetsShareOneLoad(t *testing.T) {
	gate := newGatedStorage(storage.NewMemory(), "session:cart_1_sharedses:cart")
	r := newGatedRegistry(t, gate)
	ctx := context.Background()

	const callers = 8
	results := make(chan *Workspace, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, err := r.Get(ctx, "cart_1_sharedses")
			assert.NoError(t, err)
			results <- ws
		}()
	}
	<-gate.entered
	close(gate.open)
	wg.Wait()
	close(results)

	first := <-results
	require.NotNil(t, first)
	for ws := range results {
		assert.Same(t, first, ws)
	}
	assert.EqualValues(t, 1, gate.reads.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_SessionsAreIsolated(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	a, err := r.Get(ctx, "cart_1_a")
	require.NoError(t, err)
	_, err = a.Cart.AddProduct(ctx, "wine-1", 1)
	require.NoError(t, err)

	b, err := r.Get(ctx, "cart_1_b")
	require.NoError(t, err)
	assert.True(t, b.Cart.IsEmpty())
}

func TestRegistry_EvictIdle(t *testing.T) {
	r, _, clk := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Get(ctx, "cart_1_a")
	require.NoError(t, err)
	clk.Advance(20 * time.Minute)
	_, err = r.Get(ctx, "cart_1_b")
	require.NoError(t, err)
	clk.Advance(20 * time.Minute)

	assert.Equal(t, 1, r.EvictIdle(30*time.Minute))
	assert.Equal(t, 1, r.Len())
}
