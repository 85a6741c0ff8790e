package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/example/md-checkout/internal/api/middleware"
	"github.com/example/md-checkout/internal/domain/checkout"
	"github.com/example/md-checkout/internal/security"
	"github.com/example/md-checkout/internal/workspace"
)

const maxBodyBytes = 1 << 20

type initCheckoutRequest struct {
	ContactEmail string `json:"contactEmail,omitempty"`
}

type contactEmailRequest struct {
	Email string `json:"email"`
}

func (h *Handlers) loadWorkspace(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, bool) {
	ws, err := h.workspaces.Get(r.Context(), middleware.GetSessionID(r.Context()))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return ws, true
}

func (h *Handlers) respondState(w http.ResponseWriter, status int, s *checkout.Session) {
	respondJSON(w, status, s.State())
}

// GetCheckout returns the checkout state of the session.
func (h *Handlers) GetCheckout(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.loadWorkspace(w, r)
	if !ok {
		return
	}
	if ws.Checkout.IsSessionExpired() {
		_ = ws.Checkout.ResetCheckout(r.Context())
		writeError(w, checkout.ErrSessionExpired)
		return
	}
	h.respondState(w, http.StatusOK, ws.Checkout)
}

// InitCheckout re-validates the cart and starts a checkout from it.
func (h *Handlers) InitCheckout(w http.ResponseWriter, r *http.Request) {
	var req initCheckoutRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	ws, ok := h.loadWorkspace(w, r)
	if !ok {
		return
	}

	ws.Cart.ValidateAll(r.Context())
	if err := ws.Checkout.InitializeCheckout(r.Context(), ws.Cart.Items()); err != nil {
		writeError(w, err)
		return
	}
	if req.ContactEmail != "" {
		if err := ws.Checkout.UpdateContactEmail(r.Context(), req.ContactEmail); err != nil {
			writeError(w, err)
			return
		}
	}
	h.respondState(w, http.StatusCreated, ws.Checkout)
}

func (h *Handlers) UpdateShipping(w http.ResponseWriter, r *http.Request) {
	var info checkout.ShippingInformation
	if !decodeBody(w, r, &info, false) {
		return
	}
	ws, ok := h.loadWorkspace(w, r)
	if !ok {
		return
	}
	if err := ws.Checkout.UpdateShippingInfo(r.Context(), info); err != nil {
		writeError(w, err)
		return
	}
	h.respondState(w, http.StatusOK, ws.Checkout)
}

// UpdatePayment accepts {"type": ..., "creditCard"|"paypal"|"bankTransfer": {...}}.
func (h *Handlers) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "could not read body")
		return
	}
	pm, err := checkout.UnmarshalPaymentMethod(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYMENT_METHOD", err.Error())
		return
	}
	security.Sanitize(&pm)

	ws, ok := h.loadWorkspace(w, r)
	if !ok {
		return
	}
	if err := ws.Checkout.UpdatePaymentMethod(r.Context(), pm); err != nil {
		writeError(w, err)
		return
	}
	h.respondState(w, http.StatusOK, ws.Checkout)
}

func (h *Handlers) UpdateContactEmail(w http.ResponseWriter, r *http.Request) {
	var req contactEmailRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	ws, ok := h.loadWorkspace(w, r)
	if !ok {
		return
	}
	if err := ws.Checkout.UpdateContactEmail(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	h.respondState(w, http.StatusOK, ws.Checkout)
}

func (h *Handlers) UpdateConsent(w http.ResponseWriter, r *http.Request) {
	var req checkout.Consent
	if !decodeBody(w, r, &req, false) {
		return
	}
	ws, ok := h.loadWorkspace(w, r)
	if !ok {
		return
	}
	if err := ws.Checkout.UpdateConsent(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	h.respondState(w, http.StatusOK, ws.Checkout)
}

func (h *Handlers) UpdateGuestInfo(w http.ResponseWriter, r *http.Request) {
	var req checkout.GuestInfo
	if !decodeBody(w, r, &req, false) {
		return
	}
	ws, ok := h.loadWorkspace(w, r)
	if !ok {
		return
	}
	if err := ws.Checkout.UpdateGuestInfo(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	h.respondState(w, http.StatusOK, ws.Checkout)
}

// NextStep advances the checkout. From review this places the order.
func (h *Handlers) NextStep(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.loadWorkspace(w, r)
	if !ok {
		return
	}
	// proceeding from review places the order, so it shares the place budget
	if ws.Checkout.CurrentStep() == checkout.StepReview &&
		!h.limiter.Check(w, r, middleware.GetSessionID(r.Context()), security.OpPlaceOrder) {
		return
	}
	if _, err := ws.Checkout.ProceedToNextStep(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.respondState(w, http.StatusOK, ws.Checkout)
}

func (h *Handlers) PreviousStep(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.loadWorkspace(w, r)
	if !ok {
		return
	}
	if _, err := ws.Checkout.GoToPreviousStep(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.respondState(w, http.StatusOK, ws.Checkout)
}

func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.loadWorkspace(w, r)
	if !ok {
		return
	}
	res, err := ws.Checkout.PlaceOrder(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"order":    res,
		"checkout": ws.Checkout.State(),
	})
}

func (h *Handlers) ResetCheckout(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.loadWorkspace(w, r)
	if !ok {
		return
	}
	if err := ws.Checkout.ResetCheckout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.respondState(w, http.StatusOK, ws.Checkout)
}

// decodeBody reads a JSON body into dst and sanitizes it. With optional
// set, an empty body is accepted.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == io.EOF && optional {
		return true
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return false
	}
	security.Sanitize(dst)
	return true
}
