package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/md-checkout/internal/domain/product"
	"github.com/example/md-checkout/internal/infrastructure/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResilient(products ...product.Product) (*Resilient, *mocks.MockCatalog) {
	inner := mocks.NewMockCatalog(products...)
	return NewResilient(inner, Settings{Timeout: time.Second, FailureThreshold: 2, OpenFor: time.Hour}), inner
}

func TestResilient_GetProduct_PassesThrough(t *testing.T) {
	r, inner := newTestResilient(product.Product{ID: "p1", Name: "Honey", Stock: 3, IsActive: true})

	p, err := r.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Honey", p.Name)
	assert.Equal(t, 1, inner.CallCount())
}

func TestResilient_NotFoundDoesNotTrip(t *testing.T) {
	r, _ := newTestResilient()

	for i := 0; i < 5; i++ {
		_, err := r.GetProduct(context.Background(), "missing")
		assert.ErrorIs(t, err, product.ErrProductNotFound)
	}
	assert.Equal(t, "closed", r.State())
}

func TestResilient_OpensAfterConsecutiveFailures(t *testing.T) {
	r, inner := newTestResilient(product.Product{ID: "p1", Stock: 1, IsActive: true})
	inner.GetErr = errors.New("connection refused")
	ctx := context.Background()

	_, err := r.GetProduct(ctx, "p1")
	require.Error(t, err)
	_, err = r.GetProduct(ctx, "p1")
	require.Error(t, err)
	assert.Equal(t, "open", r.State())

	_, err = r.GetProduct(ctx, "p1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, inner.CallCount(), "open breaker must not reach the catalog")
}

func TestResilient_CollapsesConcurrentLookups(t *testing.T) {
	r, inner := newTestResilient(product.Product{ID: "p1", Stock: 1, IsActive: true})
	inner.Block = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]*product.Product, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.GetProduct(context.Background(), "p1")
			if err == nil {
				results[i] = p
			}
		}(i)
	}

	require.Eventually(t, func() bool { return inner.CallCount() >= 1 }, time.Second, 5*time.Millisecond)
	// give the other goroutines time to join the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(inner.Block)
	wg.Wait()

	assert.Equal(t, 1, inner.CallCount())
	for _, p := range results {
		require.NotNil(t, p)
		assert.Equal(t, "p1", p.ID)
	}
	results[0].Stock = 99
	assert.Equal(t, 1, results[1].Stock)
}
