package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/md-checkout/internal/clock"
	"github.com/example/md-checkout/internal/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepository keeps products and orders in memory and restores the
// product table when a transaction fails.
type fakeRepository struct {
	mu       sync.Mutex
	products map[string]StockRecord
	locked   map[string]bool
	orders   []*Order
	inTx     bool

	InsertErr error
}

func newFakeRepository(records ...StockRecord) *fakeRepository {
	r := &fakeRepository{products: make(map[string]StockRecord), locked: make(map[string]bool)}
	for _, rec := range records {
		r.products[rec.ProductID] = rec
	}
	return r
}

func (r *fakeRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	saved := make(map[string]StockRecord, len(r.products))
	for k, v := range r.products {
		saved[k] = v
	}
	savedOrders := len(r.orders)
	r.inTx = true
	r.mu.Unlock()

	err := fn(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inTx = false
	if err != nil {
		r.products = saved
		r.orders = r.orders[:savedOrders]
	}
	return err
}

func (r *fakeRepository) LockProduct(_ context.Context, productID string) (StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inTx {
		return StockRecord{}, errors.New("lock outside transaction")
	}
	if r.locked[productID] {
		return StockRecord{}, ErrConcurrentProcessing
	}
	rec, ok := r.products[productID]
	if !ok {
		return StockRecord{}, fmt.Errorf("%w: %s", ErrProductUnavailable, productID)
	}
	return rec, nil
}

func (r *fakeRepository) InsertOrder(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.InsertErr != nil {
		return r.InsertErr
	}
	r.orders = append(r.orders, o)
	return nil
}

func (r *fakeRepository) DecrementStock(_ context.Context, productID string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.products[productID]
	if rec.Stock < qty {
		return ErrInsufficientStock
	}
	rec.Stock -= qty
	r.products[productID] = rec
	return nil
}

func (r *fakeRepository) stock(productID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[productID].Stock
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
	keys   []string
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.events = append(p.events, event.(Event))
	return nil
}

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestOrderService(records ...StockRecord) (*Service, *fakeRepository, *fakePublisher) {
	repo := newFakeRepository(records...)
	pub := &fakePublisher{}
	return NewService(repo, pub, clock.NewManual(epoch)), repo, pub
}

func defaultRecords() []StockRecord {
	return []StockRecord{
		{ProductID: "wine-1", Stock: 10, Active: true, Price: d("10.00")},
		{ProductID: "honey-1", Stock: 3, Active: true, Price: d("15.00")},
	}
}

func validInput() CreateInput {
	return CreateInput{
		SessionID:     "checkout_1_abc",
		CustomerEmail: "ion@example.md",
		CustomerName:  "Ion Popescu",
		Items: []Item{
			{ProductID: "wine-1", Name: "Wine", UnitPrice: d("10.00"), Quantity: 2, Total: d("20.00")},
			{ProductID: "honey-1", Name: "Honey", UnitPrice: d("15.00"), Quantity: 1, Total: d("15.00")},
		},
		ShippingAddress: Address{FirstName: "Ion", LastName: "Popescu", Street: "Str. Stefan cel Mare 1", City: "Chisinau", PostalCode: "MD-2001", Country: "MD"},
		ShippingMethod:  "standard",
		PaymentMethod:   payment.CreditCard,
		Payment:         payment.Result{Success: true, TransactionID: "card_x"},
		Subtotal:        d("35.00"),
		ShippingCost:    d("0"),
		Tax:             d("7.35"),
		Discount:        d("0"),
		Total:           d("42.35"),
		Currency:        "EUR",
	}
}

// ============================================
// Create Tests
// ============================================

func TestService_Create_Success(t *testing.T) {
	svc, repo, pub := newTestOrderService(defaultRecords()...)

	res, err := svc.Create(context.Background(), validInput())

	require.NoError(t, err)
	assert.Regexp(t, NumberPattern, res.OrderNumber)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, StatusProcessing, res.Status)
	assert.Equal(t, PaymentPaid, res.PaymentStatus)
	assert.True(t, d("42.35").Equal(res.Total))
	assert.Equal(t, epoch, res.CreatedAt)

	assert.Equal(t, 8, repo.stock("wine-1"))
	assert.Equal(t, 2, repo.stock("honey-1"))

	require.Len(t, repo.orders, 1)
	stored := repo.orders[0]
	assert.Equal(t, "stripe", stored.PaymentProvider)
	assert.Equal(t, "card_x", stored.TransactionID)
	assert.Len(t, stored.Items, 2)

	require.Len(t, pub.events, 1)
	assert.Equal(t, EventOrderPlaced, pub.events[0].EventType)
	assert.Equal(t, res.ID, pub.keys[0])
	var placed OrderPlaced
	require.NoError(t, json.Unmarshal(pub.events[0].Data, &placed))
	assert.Equal(t, res.OrderNumber, placed.OrderNumber)
	assert.Equal(t, "ion@example.md", placed.CustomerEmail)
}

func TestService_Create_CashIsPending(t *testing.T) {
	svc, repo, _ := newTestOrderService(defaultRecords()...)
	in := validInput()
	in.PaymentMethod = payment.Cash
	in.Payment = payment.Result{Success: true, TransactionID: "cash_1"}

	res, err := svc.Create(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, PaymentPending, res.PaymentStatus)
	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, "cod", repo.orders[0].PaymentProvider)
}

func TestService_Create_RejectsUpFront(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*CreateInput)
		expected error
	}{
		{"failed payment", func(in *CreateInput) { in.Payment = payment.Result{Success: false} }, ErrPaymentNotAuthorized},
		{"no items", func(in *CreateInput) { in.Items = nil }, ErrEmptyOrder},
		{"zero quantity", func(in *CreateInput) { in.Items[0].Quantity = 0 }, ErrInvalidQuantity},
		{"wrong line total", func(in *CreateInput) { in.Items[0].Total = d("19.99") }, ErrTotalMismatch},
		{"wrong subtotal", func(in *CreateInput) { in.Subtotal = d("30.00") }, ErrTotalMismatch},
		{"wrong total", func(in *CreateInput) { in.Total = d("1.00") }, ErrTotalMismatch},
		{"tax not at rate", func(in *CreateInput) { in.Tax = d("0"); in.Total = d("35.00") }, ErrTotalMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, pub := newTestOrderService(defaultRecords()...)
			in := validInput()
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), in)

			assert.ErrorIs(t, err, tt.expected)
			assert.Empty(t, repo.orders)
			assert.Equal(t, 10, repo.stock("wine-1"))
			assert.Empty(t, pub.events)
		})
	}
}

func TestService_Create_InsufficientStockRollsBack(t *testing.T) {
	svc, repo, pub := newTestOrderService(
		StockRecord{ProductID: "wine-1", Stock: 10, Active: true, Price: d("10.00")},
		StockRecord{ProductID: "honey-1", Stock: 0, Active: true, Price: d("15.00")},
	)

	_, err := svc.Create(context.Background(), validInput())

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.True(t, IsConflict(err))
	assert.Empty(t, repo.orders)
	assert.Equal(t, 10, repo.stock("wine-1"))
	assert.Empty(t, pub.events)
}

func TestService_Create_InactiveProduct(t *testing.T) {
	svc, repo, _ := newTestOrderService(
		StockRecord{ProductID: "wine-1", Stock: 10, Active: false, Price: d("10.00")},
		StockRecord{ProductID: "honey-1", Stock: 5, Active: true, Price: d("15.00")},
	)

	_, err := svc.Create(context.Background(), validInput())

	assert.ErrorIs(t, err, ErrProductUnavailable)
	assert.Equal(t, 5, repo.stock("honey-1"))
}

func TestService_Create_UnknownProduct(t *testing.T) {
	svc, _, _ := newTestOrderService(StockRecord{ProductID: "wine-1", Stock: 10, Active: true, Price: d("10.00")})

	_, err := svc.Create(context.Background(), validInput())

	assert.ErrorIs(t, err, ErrProductUnavailable)
}

func TestService_Create_LockedRow(t *testing.T) {
	svc, repo, _ := newTestOrderService(defaultRecords()...)
	repo.locked["honey-1"] = true

	_, err := svc.Create(context.Background(), validInput())

	assert.ErrorIs(t, err, ErrConcurrentProcessing)
	assert.True(t, IsConflict(err))
	assert.Equal(t, 10, repo.stock("wine-1"))
}

func TestService_Create_InsertFailureRollsBack(t *testing.T) {
	svc, repo, _ := newTestOrderService(defaultRecords()...)
	repo.InsertErr = errors.New("disk full")

	_, err := svc.Create(context.Background(), validInput())

	require.Error(t, err)
	assert.Equal(t, 10, repo.stock("wine-1"))
	assert.Equal(t, 3, repo.stock("honey-1"))
}

func TestService_Create_MergesDuplicateLinesForStockCheck(t *testing.T) {
	svc, _, _ := newTestOrderService(StockRecord{ProductID: "honey-1", Stock: 3, Active: true, Price: d("15.00")})
	in := validInput()
	in.Items = []Item{
		{ProductID: "honey-1", UnitPrice: d("15.00"), Quantity: 2, Total: d("30.00")},
		{ProductID: "honey-1", UnitPrice: d("15.00"), Quantity: 2, Total: d("30.00")},
	}
	in.Subtotal = d("60.00")
	in.Tax = d("12.60")
	in.Total = d("72.60")

	_, err := svc.Create(context.Background(), in)

	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestService_Create_ChargesLockedPrice(t *testing.T) {
	svc, repo, pub := newTestOrderService(defaultRecords()...)
	in := validInput()
	in.Items = []Item{
		{ProductID: "wine-1", Name: "Wine", UnitPrice: d("0.01"), Quantity: 2, Total: d("0.02")},
		{ProductID: "honey-1", Name: "Honey", UnitPrice: d("0.01"), Quantity: 1, Total: d("0.01")},
	}
	in.Subtotal = d("0.03")
	in.Tax = d("0.01")
	in.Total = d("0.04")

	_, err := svc.Create(context.Background(), in)

	assert.ErrorIs(t, err, ErrPriceChanged)
	assert.True(t, IsConflict(err))
	assert.Empty(t, repo.orders)
	assert.Equal(t, 10, repo.stock("wine-1"))
	assert.Equal(t, 3, repo.stock("honey-1"))
	assert.Empty(t, pub.events)
}

func TestService_Create_PriceChangedSinceCartSnapshot(t *testing.T) {
	svc, repo, _ := newTestOrderService(
		StockRecord{ProductID: "wine-1", Stock: 10, Active: true, Price: d("12.50")},
		StockRecord{ProductID: "honey-1", Stock: 3, Active: true, Price: d("15.00")},
	)

	_, err := svc.Create(context.Background(), validInput())

	assert.ErrorIs(t, err, ErrPriceChanged)
	assert.Contains(t, err.Error(), "wine-1")
	assert.Empty(t, repo.orders)
}

func TestService_Create_PublishFailureIsNotFatal(t *testing.T) {
	svc, repo, pub := newTestOrderService(defaultRecords()...)
	pub.err = errors.New("broker down")

	res, err := svc.Create(context.Background(), validInput())

	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Len(t, repo.orders, 1)
}

func TestService_Create_WithoutPublisher(t *testing.T) {
	repo := newFakeRepository(defaultRecords()...)
	svc := NewService(repo, nil, clock.NewManual(epoch))

	_, err := svc.Create(context.Background(), validInput())
	assert.NoError(t, err)
}
