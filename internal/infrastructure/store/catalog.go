package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/example/md-checkout/internal/domain/product"
)

// PostgresCatalog reads products from the products table.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	const query = `SELECT id, slug, name, price, stock, images, is_active FROM products WHERE id = $1`

	var p product.Product
	var images []byte
	err := conn(ctx, c.db).QueryRowContext(ctx, query, id).
		Scan(&p.ID, &p.Slug, &p.Name, &p.Price, &p.Stock, &images, &p.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, product.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &p.Images); err != nil {
			log.Printf("[PostgresCatalog] Ignoring malformed images of %s: %v", id, err)
			p.Images = nil
		}
	}
	return &p, nil
}

// UpsertProduct inserts or replaces a product row.
func (c *PostgresCatalog) UpsertProduct(ctx context.Context, p product.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	images, err := json.Marshal(p.Images)
	if err != nil {
		return err
	}
	if p.Images == nil {
		images = []byte("[]")
	}

	_, err = conn(ctx, c.db).ExecContext(ctx, `
		INSERT INTO products (id, slug, name, price, stock, images, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			images = EXCLUDED.images,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.Slug, p.Name, p.Price, p.Stock, images, p.IsActive)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}
