package notification

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/md-checkout/internal/domain/order"
	"github.com/example/md-checkout/internal/email"
)

// Handler processes events for sending notifications
type Handler struct {
	emailService email.Sender
}

// NewHandler creates a new notification handler
func NewHandler(emailSvc email.Sender) *Handler {
	return &Handler{emailService: emailSvc}
}

// HandleEvent processes an event from Kafka
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event order.Event
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("[Notifier] Failed to unmarshal event: %v", err)
		return err
	}

	// Only process OrderPlaced events
	if event.EventType == order.EventOrderPlaced {
		return h.handleOrderPlaced(event)
	}

	return nil
}

func (h *Handler) handleOrderPlaced(event order.Event) error {
	var e order.OrderPlaced
	if err := json.Unmarshal(event.Data, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal OrderPlaced event: %v", err)
		return err
	}

	log.Printf("[Notifier] Processing OrderPlaced event for order %s", e.OrderNumber)

	if e.CustomerEmail == "" {
		log.Printf("[Notifier] Order %s has no contact email, skipping", e.OrderNumber)
		return nil
	}

	items := make([]email.OrderItem, len(e.Items))
	for i, item := range e.Items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		items[i] = email.OrderItem{
			Name:      name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		}
	}

	c := email.Confirmation{
		OrderNumber:  e.OrderNumber,
		CustomerName: e.CustomerName,
		Items:        items,
		Total:        e.Total,
		Currency:     e.Currency,
		Pending:      e.PaymentStatus == order.PaymentPending,
	}
	if err := h.emailService.SendOrderConfirmation(e.CustomerEmail, c); err != nil {
		log.Printf("[Notifier] Failed to send email to %s: %v", e.CustomerEmail, err)
		return err
	}

	log.Printf("[Notifier] Order confirmation email sent to %s for order %s", e.CustomerEmail, e.OrderNumber)
	return nil
}
