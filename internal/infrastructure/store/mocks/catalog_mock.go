package mocks

import (
	"context"
	"sync"

	"github.com/example/md-checkout/internal/domain/product"
)

// MockCatalog is an in-memory product.Catalog that records lookups.
type MockCatalog struct {
	mu       sync.Mutex
	products map[string]product.Product
	errs     map[string]error

	// GetCalls lists every product id requested, in order
	GetCalls []string
	// GetErr, when set, is returned for every lookup
	GetErr error
	// Block, when set, is waited on before each lookup returns
	Block chan struct{}
}

func NewMockCatalog(products ...product.Product) *MockCatalog {
	m := &MockCatalog{
		products: make(map[string]product.Product),
		errs:     make(map[string]error),
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

// Put adds or replaces a product.
func (m *MockCatalog) Put(p product.Product) {
	m.mu.Lock()
	m.products[p.ID] = p
	m.mu.Unlock()
}

// SetStock changes the stock of an existing product.
func (m *MockCatalog) SetStock(id string, stock int) {
	m.mu.Lock()
	p := m.products[id]
	p.Stock = stock
	m.products[id] = p
	m.mu.Unlock()
}

// Delete removes a product so lookups return ErrProductNotFound.
func (m *MockCatalog) Delete(id string) {
	m.mu.Lock()
	delete(m.products, id)
	m.mu.Unlock()
}

// FailFor makes lookups of id return err.
func (m *MockCatalog) FailFor(id string, err error) {
	m.mu.Lock()
	if err == nil {
		delete(m.errs, id)
	} else {
		m.errs[id] = err
	}
	m.mu.Unlock()
}

func (m *MockCatalog) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	m.GetCalls = append(m.GetCalls, id)
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	if err, ok := m.errs[id]; ok {
		return nil, err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrProductNotFound
	}
	return &p, nil
}

// CallCount returns how many lookups were made.
func (m *MockCatalog) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.GetCalls)
}

// Calls returns a copy of GetCalls.
func (m *MockCatalog) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.GetCalls...)
}

// Reset clears recorded calls.
func (m *MockCatalog) Reset() {
	m.mu.Lock()
	m.GetCalls = nil
	m.mu.Unlock()
}
