package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/example/md-checkout/internal/api/middleware"
	"github.com/example/md-checkout/internal/domain/cart"
	"github.com/example/md-checkout/internal/domain/product"
	"github.com/example/md-checkout/internal/security"
)

// secureCartRequest is the body of POST /api/cart/secure.
type secureCartRequest struct {
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data,omitempty"`
	SessionID string          `json:"sessionId"`
	CSRFToken string          `json:"csrfToken,omitempty"`
}

type addItemData struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type updateQuantityData struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type removeItemData struct {
	ItemID string `json:"itemId"`
}

type validateCartData struct {
	// ProductIDs limits validation to these products; empty means all
	ProductIDs []string `json:"productIds,omitempty"`
}

type rateLimitInfo struct {
	Remaining string `json:"remaining"`
	Reset     string `json:"reset"`
}

var stateChangingOps = map[string]bool{
	security.OpAddItem:        true,
	security.OpUpdateQuantity: true,
	security.OpRemoveItem:     true,
	security.OpClearCart:      true,
}

// SecureCart runs one cart operation behind rate limiting, CSRF validation
// and input sanitization.
func (h *Handlers) SecureCart(w http.ResponseWriter, r *http.Request) {
	var req secureCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}

	sid, _ := h.sessions.Resolve(req.SessionID)
	op := req.Operation

	switch op {
	case security.OpGetCSRFToken, security.OpAddItem, security.OpUpdateQuantity,
		security.OpRemoveItem, security.OpClearCart, security.OpValidateCart, security.OpGetCart:
	default:
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Validation failed", fmt.Sprintf("Unknown operation: %s", op))
		return
	}

	if !h.limiter.Check(w, r, sid, op) {
		return
	}

	if op == security.OpGetCSRFToken {
		tok, err := h.csrf.Issue(r.Context(), sid)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"csrfToken": tok.Value,
			"expiresAt": tok.ExpiresAt,
			"sessionId": sid,
		})
		return
	}

	if stateChangingOps[op] && !middleware.CheckCSRF(w, r, h.csrf, sid, req.CSRFToken) {
		return
	}

	ws, err := h.workspaces.Get(r.Context(), sid)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.runCartOperation(r, ws.Cart, op, req.Data)
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"operation": op,
		"sessionId": sid,
		"data":      result,
		"cart":      h.viewCart(ws.Cart),
		"rateLimit": rateLimitInfo{
			Remaining: w.Header().Get("X-RateLimit-Remaining"),
			Reset:     w.Header().Get("X-RateLimit-Reset"),
		},
	})
}

func (h *Handlers) runCartOperation(r *http.Request, c *cart.Cart, op string, raw json.RawMessage) (any, error) {
	ctx := r.Context()
	now := h.clock.Now()

	switch op {
	case security.OpAddItem:
		var d addItemData
		if err := decodeData(raw, &d); err != nil {
			return nil, err
		}
		if !product.IsValidID(d.ProductID) {
			return nil, invalid("Invalid product ID format")
		}
		if d.Quantity < 1 || d.Quantity > cart.MaxQuantity {
			return nil, invalid(fmt.Sprintf("quantity: must be between 1 and %d", cart.MaxQuantity))
		}
		line, err := c.AddProduct(ctx, d.ProductID, d.Quantity)
		if err != nil {
			return nil, err
		}
		c.ScheduleValidation(d.ProductID)
		return map[string]any{"item": line, "validated": true, "timestamp": now}, nil

	case security.OpUpdateQuantity:
		var d updateQuantityData
		if err := decodeData(raw, &d); err != nil {
			return nil, err
		}
		if d.ItemID == "" {
			return nil, invalid("itemId: required")
		}
		if d.Quantity < 0 || d.Quantity > cart.MaxQuantity {
			return nil, invalid(fmt.Sprintf("quantity: must be between 0 and %d", cart.MaxQuantity))
		}
		if err := c.UpdateQuantity(ctx, d.ItemID, d.Quantity); err != nil {
			return nil, err
		}
		return map[string]any{"itemId": d.ItemID, "quantity": d.Quantity, "validated": true, "timestamp": now}, nil

	case security.OpRemoveItem:
		var d removeItemData
		if err := decodeData(raw, &d); err != nil {
			return nil, err
		}
		if d.ItemID == "" {
			return nil, invalid("itemId: required")
		}
		if err := c.RemoveItem(ctx, d.ItemID); err != nil {
			return nil, err
		}
		return map[string]any{"itemId": d.ItemID, "removed": true, "timestamp": now}, nil

	case security.OpClearCart:
		if err := c.Clear(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"cleared": true, "timestamp": now}, nil

	case security.OpValidateCart:
		var d validateCartData
		if err := decodeData(raw, &d); err != nil {
			return nil, err
		}
		for _, id := range d.ProductIDs {
			if !product.IsValidID(id) {
				return nil, invalid(fmt.Sprintf("Invalid product ID format for item: %s", id))
			}
		}
		var results []cart.ValidationResult
		if len(d.ProductIDs) > 0 {
			results = c.BatchValidateProducts(ctx, d.ProductIDs)
		} else {
			results = c.ValidateAll(ctx)
		}
		return map[string]any{"results": results, "validatedAt": h.clock.Now()}, nil

	case security.OpGetCart:
		return nil, nil
	}
	return nil, invalid("Unknown operation: " + op)
}

// GetCart returns the cart of the X-Session-ID session.
func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	ws, err := h.workspaces.Get(r.Context(), middleware.GetSessionID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.viewCart(ws.Cart))
}

// decodeData unmarshals the operation payload into dst and escapes its
// strings. A missing payload decodes as empty.
func decodeData(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Printf("[API] Rejected malformed cart payload: %v", err)
		return invalid("data: invalid payload")
	}
	security.Sanitize(dst)
	return nil
}

// requestError is a client input error reported as 400 with details.
type requestError struct {
	details []string
}

func (e *requestError) Error() string {
	return fmt.Sprintf("invalid request: %v", e.details)
}

func invalid(details ...string) error {
	return &requestError{details: details}
}
