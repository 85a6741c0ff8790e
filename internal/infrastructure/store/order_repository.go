package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/md-checkout/internal/domain/order"
	"github.com/lib/pq"
)

// PostgresOrderRepository implements order.Repository.
type PostgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(db *sql.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

func (r *PostgresOrderRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.db, fn)
}

// LockProduct takes a row lock on the product without waiting. A row held
// by another transaction yields order.ErrConcurrentProcessing.
func (r *PostgresOrderRepository) LockProduct(ctx context.Context, productID string) (order.StockRecord, error) {
	const query = `
SELECT id, stock, is_active, price
FROM products
WHERE id = $1
FOR UPDATE NOWAIT`

	var rec order.StockRecord
	err := conn(ctx, r.db).QueryRowContext(ctx, query, productID).
		Scan(&rec.ProductID, &rec.Stock, &rec.Active, &rec.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return order.StockRecord{}, fmt.Errorf("%w: %s", order.ErrProductUnavailable, productID)
		}
		if isLockNotAvailable(err) {
			return order.StockRecord{}, fmt.Errorf("%w: %s", order.ErrConcurrentProcessing, productID)
		}
		return order.StockRecord{}, fmt.Errorf("lock product: %w", classify(err))
	}
	return rec, nil
}

func (r *PostgresOrderRepository) InsertOrder(ctx context.Context, o *order.Order) error {
	const orderStmt = `
INSERT INTO orders (
	id, order_number, session_id, customer_email, customer_name,
	shipping_address, shipping_method, payment_method, payment_provider,
	transaction_id, payment_status, status, subtotal, shipping_cost, tax,
	discount, total, currency, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	const itemStmt = `
INSERT INTO order_items (order_id, product_id, quantity, unit_price, total, product_snapshot)
VALUES ($1, $2, $3, $4, $5, $6)`

	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}

	q := conn(ctx, r.db)
	_, err = q.ExecContext(ctx, orderStmt,
		o.ID, o.OrderNumber, o.SessionID, nullString(o.CustomerEmail), nullString(o.CustomerName),
		addr, nullString(o.ShippingMethod), string(o.PaymentMethod), o.PaymentProvider,
		nullString(o.TransactionID), string(o.PaymentStatus), string(o.Status),
		o.Subtotal, o.ShippingCost, o.Tax, o.Discount, o.Total, o.Currency, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range o.Items {
		snap, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("marshal item snapshot: %w", err)
		}
		if _, err := q.ExecContext(ctx, itemStmt, o.ID, it.ProductID, it.Quantity, it.UnitPrice, it.Total, snap); err != nil {
			return fmt.Errorf("insert order item %s: %w", it.ProductID, classify(err))
		}
	}
	return nil
}

// DecrementStock lowers stock by qty, refusing to go below zero.
func (r *PostgresOrderRepository) DecrementStock(ctx context.Context, productID string, qty int) error {
	const stmt = `UPDATE products SET stock = stock - $2, updated_at = NOW() WHERE id = $1 AND stock >= $2`

	res, err := conn(ctx, r.db).ExecContext(ctx, stmt, productID, qty)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: %s", order.ErrInsufficientStock, productID)
		}
		return fmt.Errorf("decrement stock: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", order.ErrInsufficientStock, productID)
	}
	return nil
}

// classify maps database error messages raised by stock triggers to the
// order sentinels.
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	if sentinel := order.ClassifyMessage(pqErr.Message); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, pqErr.Message)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
