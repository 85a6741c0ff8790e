package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/example/md-checkout/internal/api/middleware"
	"github.com/example/md-checkout/internal/catalog"
	"github.com/example/md-checkout/internal/clock"
	"github.com/example/md-checkout/internal/domain/cart"
	"github.com/example/md-checkout/internal/domain/checkout"
	"github.com/example/md-checkout/internal/domain/order"
	"github.com/example/md-checkout/internal/domain/product"
	"github.com/example/md-checkout/internal/security"
	"github.com/example/md-checkout/internal/workspace"
	"github.com/shopspring/decimal"
)

type Deps struct {
	Workspaces  *workspace.Registry
	CSRF        *security.CSRFService
	RateLimiter *middleware.RateLimiter
	Sessions    *security.SessionIDs
	Clock       clock.Clock
	// LowStockThreshold marks cart lines whose product is nearly sold out
	LowStockThreshold int
}

type Handlers struct {
	workspaces *workspace.Registry
	csrf       *security.CSRFService
	limiter    *middleware.RateLimiter
	sessions   *security.SessionIDs
	clock      clock.Clock
	lowStock   int
}

func NewHandlers(deps Deps) *Handlers {
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.LowStockThreshold <= 0 {
		deps.LowStockThreshold = product.DefaultLowStockThreshold
	}
	return &Handlers{
		workspaces: deps.Workspaces,
		csrf:       deps.CSRF,
		limiter:    deps.RateLimiter,
		sessions:   deps.Sessions,
		clock:      deps.Clock,
		lowStock:   deps.LowStockThreshold,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Cart view

type lineView struct {
	ID       string          `json:"id"`
	Product  product.Product `json:"product"`
	Quantity int             `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
	LowStock bool            `json:"low_stock"`
	Adjusted bool            `json:"adjusted,omitempty"`
	AddedAt  time.Time       `json:"added_at"`
}

type cartView struct {
	SessionID  string          `json:"session_id"`
	Items      []lineView      `json:"items"`
	ItemCount  int             `json:"item_count"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Validating bool            `json:"validating"`
}

func (h *Handlers) viewCart(c *cart.Cart) cartView {
	items := c.Items()
	lines := make([]lineView, len(items))
	for i, it := range items {
		lines[i] = lineView{
			ID:       it.ID,
			Product:  it.Product,
			Quantity: it.Quantity,
			Total:    it.Total(),
			LowStock: it.LowStock(h.lowStock),
			Adjusted: it.Adjusted,
			AddedAt:  it.AddedAt,
		}
	}
	return cartView{
		SessionID:  c.SessionID(),
		Items:      lines,
		ItemCount:  c.ItemCount(),
		Subtotal:   c.Subtotal(),
		UpdatedAt:  c.UpdatedAt(),
		Validating: c.Validating(),
	}
}

// Responses

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string, details ...string) {
	middleware.RespondError(w, status, middleware.ErrorResponse{Error: message, Code: code, Details: details})
}

// writeError maps domain errors to HTTP replies.
func writeError(w http.ResponseWriter, err error) {
	var ve *checkout.ValidationError
	var re *requestError
	switch {
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed", ve.Messages()...)
	case errors.As(err, &re):
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed", re.details...)

	case errors.Is(err, checkout.ErrSessionExpired):
		respondError(w, http.StatusGone, "SESSION_EXPIRED", err.Error())
	case errors.Is(err, checkout.ErrNoSession):
		respondError(w, http.StatusNotFound, "NO_CHECKOUT_SESSION", err.Error())
	case errors.Is(err, checkout.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "EMPTY_CART", err.Error())
	case errors.Is(err, checkout.ErrOrderInProgress),
		errors.Is(err, checkout.ErrCheckoutCompleted),
		errors.Is(err, checkout.ErrNotAtReview),
		errors.Is(err, checkout.ErrNoNextStep):
		respondError(w, http.StatusConflict, "INVALID_STEP", err.Error())
	case errors.Is(err, checkout.ErrPaymentDeclined),
		errors.Is(err, order.ErrPaymentNotAuthorized):
		respondError(w, http.StatusPaymentRequired, "PAYMENT_DECLINED", err.Error())
	case errors.Is(err, checkout.ErrUnknownPaymentType):
		respondError(w, http.StatusBadRequest, "INVALID_PAYMENT_METHOD", err.Error())

	case errors.Is(err, order.ErrInsufficientStock),
		errors.Is(err, cart.ErrInsufficientStock):
		respondError(w, http.StatusConflict, "INSUFFICIENT_STOCK", err.Error())
	case errors.Is(err, order.ErrPriceChanged):
		respondError(w, http.StatusConflict, "PRICE_CHANGED", err.Error())
	case errors.Is(err, order.ErrConcurrentProcessing):
		respondError(w, http.StatusConflict, "CONCURRENT_PROCESSING", err.Error())
	case errors.Is(err, order.ErrProductUnavailable),
		errors.Is(err, cart.ErrProductUnavailable):
		respondError(w, http.StatusBadRequest, "PRODUCT_UNAVAILABLE", err.Error())
	case errors.Is(err, order.ErrTotalMismatch),
		errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "INVALID_ORDER", err.Error())

	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrQuantityTooLarge),
		errors.Is(err, cart.ErrInvalidProduct):
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, cart.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "ITEM_NOT_FOUND", err.Error())
	case errors.Is(err, product.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", err.Error())
	case errors.Is(err, catalog.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "CATALOG_UNAVAILABLE", "Product catalog is temporarily unavailable")

	case security.IsCSRFError(err):
		respondError(w, http.StatusForbidden, "CSRF_TOKEN_INVALID", "Invalid or missing CSRF token")
	case errors.Is(err, security.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")

	default:
		log.Printf("[API] Internal error: %v", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
