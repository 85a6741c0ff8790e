package order

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const EventOrderPlaced = "OrderPlaced"

// Event is the envelope published to the message bus.
type Event struct {
	ID          string          `json:"id"`
	AggregateID string          `json:"aggregate_id"`
	EventType   string          `json:"event_type"`
	Data        json.RawMessage `json:"data"`
	Timestamp   time.Time       `json:"timestamp"`
}

type OrderPlaced struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	SessionID     string          `json:"session_id"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	CustomerName  string          `json:"customer_name,omitempty"`
	Items         []Item          `json:"items"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PlacedAt      time.Time       `json:"placed_at"`
}
