package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// ConnectPostgres opens and pings a PostgreSQL connection pool.
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// EnsureSchema creates the tables used by the checkout when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id         TEXT PRIMARY KEY,
	slug       TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL,
	price      NUMERIC(12,2) NOT NULL CHECK (price >= 0),
	stock      INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
	images     JSONB NOT NULL DEFAULT '[]',
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	order_number     TEXT NOT NULL UNIQUE,
	session_id       TEXT NOT NULL,
	customer_email   TEXT,
	customer_name    TEXT,
	shipping_address JSONB NOT NULL,
	shipping_method  TEXT,
	payment_method   TEXT NOT NULL,
	payment_provider TEXT NOT NULL,
	transaction_id   TEXT,
	payment_status   TEXT NOT NULL,
	status           TEXT NOT NULL,
	subtotal         NUMERIC(12,2) NOT NULL,
	shipping_cost    NUMERIC(12,2) NOT NULL,
	tax              NUMERIC(12,2) NOT NULL,
	discount         NUMERIC(12,2) NOT NULL,
	total            NUMERIC(12,2) NOT NULL,
	currency         TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS order_items (
	id               BIGSERIAL PRIMARY KEY,
	order_id         TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id       TEXT NOT NULL REFERENCES products(id),
	quantity         INTEGER NOT NULL CHECK (quantity > 0),
	unit_price       NUMERIC(12,2) NOT NULL,
	total            NUMERIC(12,2) NOT NULL,
	product_snapshot JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_session_id ON orders(session_id);
CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id);
`

type txKey struct{}

// withTx runs fn in a transaction carried by the context. Nested calls join
// the outer transaction.
func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func txFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func conn(ctx context.Context, db *sql.DB) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

func isLockNotAvailable(err error) bool {
	return pqCode(err) == "55P03"
}

func isCheckViolation(err error) bool {
	return pqCode(err) == "23514"
}
