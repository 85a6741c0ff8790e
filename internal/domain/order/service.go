package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/example/md-checkout/internal/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockRecord is the locked catalog row of one product.
type StockRecord struct {
	ProductID string
	Stock     int
	Active    bool
	Price     decimal.Decimal
}

// Repository persists orders. WithTx runs fn inside one database
// transaction; the other methods join the transaction carried by ctx.
// LockProduct returns ErrConcurrentProcessing when the row is locked by
// another transaction and ErrProductUnavailable when it does not exist.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockProduct(ctx context.Context, productID string) (StockRecord, error)
	InsertOrder(ctx context.Context, o *Order) error
	DecrementStock(ctx context.Context, productID string, qty int) error
}

// Publisher sends events to the message bus.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Service struct {
	repo      Repository
	publisher Publisher
	clock     clock.Clock
	numbers   *NumberGenerator
}

func NewService(repo Repository, publisher Publisher, clk clock.Clock) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		clock:     clk,
		numbers:   NewNumberGenerator(clk),
	}
}

// Create persists an order and reserves its stock atomically. Every item is
// re-checked against a locked product row for availability, stock and unit
// price; any failure rolls the whole order back.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Result, error) {
	if !in.Payment.Success {
		return nil, ErrPaymentNotAuthorized
	}
	if len(in.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, it.ProductID)
		}
	}
	if err := checkTotals(in); err != nil {
		return nil, err
	}

	paymentStatus := DerivePaymentStatus(in.PaymentMethod, in.Payment)
	o := &Order{
		ID:              uuid.New().String(),
		OrderNumber:     s.numbers.Next(),
		SessionID:       in.SessionID,
		CustomerEmail:   in.CustomerEmail,
		CustomerName:    in.CustomerName,
		Items:           in.Items,
		ShippingAddress: in.ShippingAddress,
		ShippingMethod:  in.ShippingMethod,
		PaymentMethod:   in.PaymentMethod,
		PaymentProvider: in.PaymentMethod.Provider(),
		TransactionID:   in.Payment.TransactionID,
		PaymentStatus:   paymentStatus,
		Status:          DeriveStatus(paymentStatus),
		Subtotal:        in.Subtotal,
		ShippingCost:    in.ShippingCost,
		Tax:             in.Tax,
		Discount:        in.Discount,
		Total:           in.Total,
		Currency:        in.Currency,
		CreatedAt:       s.clock.Now(),
	}

	// lock rows in a fixed order so concurrent orders cannot deadlock
	quantities := make(map[string]int)
	for _, it := range in.Items {
		quantities[it.ProductID] += it.Quantity
	}
	productIDs := make([]string, 0, len(quantities))
	for id := range quantities {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		locked := make(map[string]StockRecord, len(productIDs))
		for _, id := range productIDs {
			rec, err := s.repo.LockProduct(ctx, id)
			if err != nil {
				return err
			}
			if !rec.Active {
				return fmt.Errorf("%w: %s", ErrProductUnavailable, id)
			}
			if rec.Stock < quantities[id] {
				return fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, id, rec.Stock, quantities[id])
			}
			locked[id] = rec
		}

		// lines are charged at the price of the locked row, not the cart snapshot
		for _, it := range in.Items {
			if price := locked[it.ProductID].Price; !it.UnitPrice.Equal(price) {
				return fmt.Errorf("%w: %s is %s, order has %s", ErrPriceChanged, it.ProductID, price.StringFixed(2), it.UnitPrice.StringFixed(2))
			}
		}

		if err := s.repo.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for _, id := range productIDs {
			if err := s.repo.DecrementStock(ctx, id, quantities[id]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[Order] Failed to create order for session %s: %v", in.SessionID, err)
		return nil, err
	}

	log.Printf("[Order] Created order %s (%s) status=%s payment=%s", o.OrderNumber, o.ID, o.Status, o.PaymentStatus)
	s.publishPlaced(ctx, o)

	return &Result{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Total:         o.Total,
		Currency:      o.Currency,
		CreatedAt:     o.CreatedAt,
	}, nil
}

func (s *Service) publishPlaced(ctx context.Context, o *Order) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(OrderPlaced{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		SessionID:     o.SessionID,
		CustomerEmail: o.CustomerEmail,
		CustomerName:  o.CustomerName,
		Items:         o.Items,
		Total:         o.Total,
		Currency:      o.Currency,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PlacedAt:      o.CreatedAt,
	})
	if err != nil {
		log.Printf("[Order] Failed to marshal OrderPlaced for %s: %v", o.ID, err)
		return
	}

	event := Event{
		ID:          uuid.New().String(),
		AggregateID: o.ID,
		EventType:   EventOrderPlaced,
		Data:        data,
		Timestamp:   s.clock.Now(),
	}
	if err := s.publisher.Publish(ctx, o.ID, event); err != nil {
		log.Printf("[Order] Failed to publish OrderPlaced for %s: %v", o.OrderNumber, err)
	}
}

// checkTotals recomputes the order amounts from the item lines and the
// tax rate.
func checkTotals(in CreateInput) error {
	subtotal := decimal.Zero
	for _, it := range in.Items {
		line := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2)
		if !line.Equal(it.Total) {
			return fmt.Errorf("%w: line %s is %s, expected %s", ErrTotalMismatch, it.ProductID, it.Total, line)
		}
		subtotal = subtotal.Add(line)
	}
	if !subtotal.Equal(in.Subtotal) {
		return fmt.Errorf("%w: subtotal %s, expected %s", ErrTotalMismatch, in.Subtotal, subtotal)
	}
	tax := in.Subtotal.Mul(TaxRate).Round(2)
	if !tax.Equal(in.Tax) {
		return fmt.Errorf("%w: tax %s, expected %s", ErrTotalMismatch, in.Tax, tax)
	}
	total := in.Subtotal.Add(in.Tax).Add(in.ShippingCost).Sub(in.Discount).Round(2)
	if !total.Equal(in.Total) {
		return fmt.Errorf("%w: total %s, expected %s", ErrTotalMismatch, in.Total, total)
	}
	return nil
}

// IsConflict reports whether err should be surfaced as a conflict with
// the current state of the catalog.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrConcurrentProcessing) || errors.Is(err, ErrPriceChanged)
}

// ClassifyMessage maps a raw database error message to a sentinel error.
// Stored procedures report failures as text, so this keeps the mapping in
// one place.
func ClassifyMessage(msg string) error {
	switch {
	case strings.Contains(msg, "Insufficient stock"):
		return ErrInsufficientStock
	case strings.Contains(msg, "currently being processed"):
		return ErrConcurrentProcessing
	case strings.Contains(msg, "not found or inactive"):
		return ErrProductUnavailable
	}
	return nil
}
