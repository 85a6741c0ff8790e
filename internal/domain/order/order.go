package order

import (
	"errors"
	"regexp"
	"time"

	"github.com/example/md-checkout/internal/clock"
	"github.com/example/md-checkout/internal/ids"
	"github.com/example/md-checkout/internal/payment"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

var (
	ErrEmptyOrder           = errors.New("order must have at least one item")
	ErrInvalidQuantity      = errors.New("item quantity must be positive")
	ErrPaymentNotAuthorized = errors.New("payment was not authorized")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrConcurrentProcessing = errors.New("product is currently being processed by another order")
	ErrProductUnavailable   = errors.New("product not found or inactive")
	ErrTotalMismatch        = errors.New("order total does not match item prices")
	ErrPriceChanged         = errors.New("product price has changed")
)

// TaxRate is the VAT applied to the order subtotal.
var TaxRate = decimal.RequireFromString("0.21")

// NumberPattern matches order numbers produced by NumberGenerator.
var NumberPattern = regexp.MustCompile(`^ORD-\d+-[A-Z0-9]{6}$`)

type Address struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Company    string `json:"company,omitempty"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Province   string `json:"province,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug,omitempty"`
	Image     string          `json:"image,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
}

// CreateInput is everything needed to persist an order.
type CreateInput struct {
	SessionID       string
	CustomerEmail   string
	CustomerName    string
	Items           []Item
	ShippingAddress Address
	ShippingMethod  string
	PaymentMethod   payment.Type
	Payment         payment.Result
	Subtotal        decimal.Decimal
	ShippingCost    decimal.Decimal
	Tax             decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	Currency        string
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	SessionID       string          `json:"session_id"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	Items           []Item          `json:"items"`
	ShippingAddress Address         `json:"shipping_address"`
	ShippingMethod  string          `json:"shipping_method,omitempty"`
	PaymentMethod   payment.Type    `json:"payment_method"`
	PaymentProvider string          `json:"payment_provider"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	Status          Status          `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	Tax             decimal.Decimal `json:"tax"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Result is what callers learn about a created order.
type Result struct {
	ID            string          `json:"id"`
	OrderNumber   string          `json:"order_number"`
	Status        Status          `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	CreatedAt     time.Time       `json:"created_at"`
}

// DerivePaymentStatus maps the authorization outcome to a stored status.
// Cash is always collected later.
func DerivePaymentStatus(method payment.Type, r payment.Result) PaymentStatus {
	switch {
	case method == payment.Cash:
		return PaymentPending
	case r.Pending:
		return PaymentPending
	case r.Success:
		return PaymentPaid
	default:
		return PaymentPending
	}
}

// DeriveStatus starts paid orders in processing and everything else in
// pending.
func DeriveStatus(ps PaymentStatus) Status {
	if ps == PaymentPaid {
		return StatusProcessing
	}
	return StatusPending
}

// NumberGenerator produces ORD-<unix_ms>-<6 chars> numbers that are unique
// within the generator.
type NumberGenerator struct {
	gen *ids.Generator
}

func NewNumberGenerator(clk clock.Clock) *NumberGenerator {
	return &NumberGenerator{gen: ids.NewGenerator(clk)}
}

func (g *NumberGenerator) Next() string {
	return g.gen.Upper("ORD", 6)
}
