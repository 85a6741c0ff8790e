package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// StorageKey is the key of the checkout record inside the session storage.
const StorageKey = "checkout_session"

// record is the stored form of a session. Card number and CVV never reach
// it.
type record struct {
	SessionID        string               `json:"sessionId"`
	CurrentStep      Step                 `json:"currentStep"`
	ShippingInfo     *ShippingInformation `json:"shippingInfo,omitempty"`
	PaymentMethod    json.RawMessage      `json:"paymentMethod,omitempty"`
	OrderData        *OrderDraft          `json:"orderData,omitempty"`
	ContactEmail     string               `json:"contactEmail,omitempty"`
	GuestInfo        *GuestInfo           `json:"guestInfo,omitempty"`
	TermsAccepted    bool                 `json:"termsAccepted"`
	PrivacyAccepted  bool                 `json:"privacyAccepted"`
	MarketingConsent bool                 `json:"marketingConsent"`
	ExpiresAt        time.Time            `json:"sessionExpiresAt"`
}

// SaveToStorage writes the session to storage. Without an active session
// the stored record is removed.
func (s *Session) SaveToStorage(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		return s.removeStoredLocked(ctx)
	}
	return s.saveLocked(ctx)
}

// LoadFromStorage restores a stored session. It reports false when nothing
// usable was found; corrupt and expired records are removed.
func (s *Session) LoadFromStorage(ctx context.Context) (bool, error) {
	if s.storage == nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.loading = true
	defer func() { s.loading = false }()

	raw, ok, err := s.storage.Get(ctx, StorageKey)
	if err != nil {
		return false, fmt.Errorf("failed to read checkout session: %w", err)
	}
	if !ok {
		return false, nil
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.SessionID == "" || !rec.CurrentStep.Valid() {
		log.Printf("[Checkout] Discarding unreadable session record: %v", err)
		return false, s.removeStoredLocked(ctx)
	}
	if !rec.ExpiresAt.IsZero() && s.clock.Now().After(rec.ExpiresAt) {
		log.Printf("[Checkout] Discarding expired session %s", rec.SessionID)
		return false, s.removeStoredLocked(ctx)
	}

	var pm PaymentMethod
	if len(rec.PaymentMethod) > 0 && string(rec.PaymentMethod) != "null" {
		pm, err = UnmarshalPaymentMethod(rec.PaymentMethod)
		if err != nil {
			log.Printf("[Checkout] Dropping stored payment method of %s: %v", rec.SessionID, err)
			pm = nil
		}
	}

	s.clearLocked()
	s.id = rec.SessionID
	s.step = rec.CurrentStep
	s.shipping = rec.ShippingInfo
	s.paymentMethod = pm
	s.draft = rec.OrderData
	s.contactEmail = rec.ContactEmail
	s.guest = rec.GuestInfo
	s.consent = Consent{
		TermsAccepted:    rec.TermsAccepted,
		PrivacyAccepted:  rec.PrivacyAccepted,
		MarketingConsent: rec.MarketingConsent,
	}
	s.expiresAt = rec.ExpiresAt
	return true, nil
}

func (s *Session) saveLocked(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	rec := record{
		SessionID:        s.id,
		CurrentStep:      s.step,
		ShippingInfo:     s.shipping,
		OrderData:        s.draft,
		ContactEmail:     s.contactEmail,
		GuestInfo:        s.guest,
		TermsAccepted:    s.consent.TermsAccepted,
		PrivacyAccepted:  s.consent.PrivacyAccepted,
		MarketingConsent: s.consent.MarketingConsent,
		ExpiresAt:        s.expiresAt,
	}
	if s.paymentMethod != nil {
		pm, err := MarshalPaymentMethod(s.paymentMethod, true)
		if err != nil {
			return err
		}
		rec.PaymentMethod = pm
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal checkout session: %w", err)
	}
	if err := s.storage.Set(ctx, StorageKey, string(data)); err != nil {
		return err
	}
	s.lastSyncAt = s.clock.Now()
	return nil
}

// persistLocked saves after a mutation. Failures are logged; the in-memory
// state stays authoritative.
func (s *Session) persistLocked(ctx context.Context) {
	if err := s.saveLocked(ctx); err != nil {
		log.Printf("[Checkout] Failed to persist session %s: %v", s.id, err)
	}
}

func (s *Session) removeStoredLocked(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	return s.storage.Remove(ctx, StorageKey)
}

// LastSyncAt is when the session was last written to storage.
func (s *Session) LastSyncAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncAt
}
