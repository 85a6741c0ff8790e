package product

import (
	"context"
	"errors"
	"regexp"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidProduct  = errors.New("product_id is required")
	ErrInvalidPrice    = errors.New("price must not be negative")
)

// DefaultLowStockThreshold is the stock level at or below which an item is
// shown as running low.
const DefaultLowStockThreshold = 5

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)

type Image struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// Product is the catalog snapshot carried by cart lines and order items.
type Product struct {
	ID       string          `json:"id"`
	Slug     string          `json:"slug"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Images   []Image         `json:"images,omitempty"`
	IsActive bool            `json:"is_active"`
}

// Catalog looks up the authoritative state of a product.
// Implementations return ErrProductNotFound for unknown ids.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
}

// Available reports whether the product can be put in a cart at all.
func (p Product) Available() bool {
	return p.IsActive && p.Stock > 0
}

// LowStock reports whether the remaining stock is at or below threshold.
// A non-positive threshold falls back to DefaultLowStockThreshold.
func (p Product) LowStock(threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultLowStockThreshold
	}
	return p.Stock > 0 && p.Stock <= threshold
}

// PrimaryImage returns the first image URL, or "" when there is none.
func (p Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0].URL
}

func (p Product) Validate() error {
	if p.ID == "" {
		return ErrInvalidProduct
	}
	if p.Price.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}

// IsValidID reports whether id only contains letters, digits, '-' and '_'.
func IsValidID(id string) bool {
	return idPattern.MatchString(id)
}
