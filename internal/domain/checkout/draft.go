package checkout

import (
	"github.com/example/md-checkout/internal/domain/cart"
	"github.com/example/md-checkout/internal/domain/order"
	"github.com/shopspring/decimal"
)

// TaxRate is the VAT applied to the subtotal. It must match the rate the
// order service re-checks.
var TaxRate = order.TaxRate

const DefaultCurrency = "EUR"

type OrderLine struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug,omitempty"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
}

// OrderDraft is the priced order being assembled during checkout.
type OrderDraft struct {
	Items         []OrderLine     `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ShippingCost  decimal.Decimal `json:"shippingCost"`
	Tax           decimal.Decimal `json:"tax"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	OrderID       string          `json:"orderId,omitempty"`
	OrderNumber   string          `json:"orderNumber,omitempty"`
	CustomerEmail string          `json:"customerEmail,omitempty"`
}

// BuildOrderDraft prices the cart lines.
func BuildOrderDraft(items []cart.LineItem, shippingCost decimal.Decimal, currency string) OrderDraft {
	if currency == "" {
		currency = DefaultCurrency
	}
	lines := make([]OrderLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, OrderLine{
			ProductID: it.Product.ID,
			Name:      it.Product.Name,
			Slug:      it.Product.Slug,
			Image:     it.Product.PrimaryImage(),
			Price:     it.Product.Price,
			Quantity:  it.Quantity,
			Total:     it.Total(),
		})
	}
	d := OrderDraft{
		Items:        lines,
		ShippingCost: shippingCost,
		Discount:     decimal.Zero,
		Currency:     currency,
	}
	d.recalculate()
	return d
}

// WithShipping returns a copy priced with the given shipping cost.
func (d OrderDraft) WithShipping(cost decimal.Decimal) OrderDraft {
	d.Items = append([]OrderLine(nil), d.Items...)
	d.ShippingCost = cost
	d.recalculate()
	return d
}

func (d *OrderDraft) recalculate() {
	subtotal := decimal.Zero
	for _, l := range d.Items {
		subtotal = subtotal.Add(l.Total)
	}
	d.Subtotal = subtotal.Round(2)
	d.ShippingCost = d.ShippingCost.Round(2)
	d.Discount = d.Discount.Round(2)
	d.Tax = d.Subtotal.Mul(TaxRate).Round(2)
	d.Total = d.Subtotal.Add(d.Tax).Add(d.ShippingCost).Sub(d.Discount).Round(2)
}
