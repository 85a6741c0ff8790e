package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/md-checkout/internal/domain/order"
	"github.com/example/md-checkout/internal/payment"
)

// MockOrderCreator records created orders and returns a fixed result.
type MockOrderCreator struct {
	mu     sync.Mutex
	Inputs []order.CreateInput
	// Err, when set, is returned instead of creating the order
	Err error
	// Block, when set, is waited on before Create returns
	Block chan struct{}
	seq   int
}

func NewMockOrderCreator() *MockOrderCreator {
	return &MockOrderCreator{}
}

func (m *MockOrderCreator) Create(ctx context.Context, in order.CreateInput) (*order.Result, error) {
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Inputs = append(m.Inputs, in)
	if m.Err != nil {
		return nil, m.Err
	}
	m.seq++
	ps := order.DerivePaymentStatus(in.PaymentMethod, in.Payment)
	return &order.Result{
		ID:            fmt.Sprintf("order-%d", m.seq),
		OrderNumber:   fmt.Sprintf("ORD-1700000000000-ABC%03d", m.seq%1000),
		Status:        order.DeriveStatus(ps),
		PaymentStatus: ps,
		Total:         in.Total,
		Currency:      in.Currency,
		CreatedAt:     time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (m *MockOrderCreator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Inputs)
}

// LastInput returns the most recent input, or the zero value.
func (m *MockOrderCreator) LastInput() order.CreateInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Inputs) == 0 {
		return order.CreateInput{}
	}
	return m.Inputs[len(m.Inputs)-1]
}

// MockAuthorizer approves every request unless Decline or Err is set.
type MockAuthorizer struct {
	mu       sync.Mutex
	Requests []payment.Request
	Decline  string
	Err      error
}

func NewMockAuthorizer() *MockAuthorizer {
	return &MockAuthorizer{}
}

func (m *MockAuthorizer) Authorize(_ context.Context, req payment.Request) (payment.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return payment.Result{}, m.Err
	}
	if m.Decline != "" {
		return payment.Result{Success: false, Error: m.Decline}, nil
	}
	return payment.Result{Success: true, TransactionID: "txn_mock"}, nil
}

func (m *MockAuthorizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// MockCartClearer counts Clear calls.
type MockCartClearer struct {
	mu    sync.Mutex
	calls int
	Err   error
}

func (m *MockCartClearer) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.Err
}

func (m *MockCartClearer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
