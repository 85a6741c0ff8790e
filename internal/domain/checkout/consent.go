package checkout

import (
	"context"
	"strings"
)

// Consent holds the agreements the customer ticked during checkout.
type Consent struct {
	TermsAccepted    bool `json:"termsAccepted"`
	PrivacyAccepted  bool `json:"privacyAccepted"`
	MarketingConsent bool `json:"marketingConsent"`
}

// GuestInfo identifies a customer checking out without an account.
type GuestInfo struct {
	Email        string `json:"email"`
	EmailUpdates bool   `json:"emailUpdates"`
}

// UpdateConsent replaces the stored consent flags.
func (s *Session) UpdateConsent(ctx context.Context, c Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guardLocked(ctx); err != nil {
		return err
	}
	s.consent = c
	s.persistLocked(ctx)
	return nil
}

// UpdateGuestInfo stores the guest contact. Its email is used for the order
// when no contact email was given.
func (s *Session) UpdateGuestInfo(ctx context.Context, g GuestInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guardLocked(ctx); err != nil {
		return err
	}
	g.Email = strings.TrimSpace(g.Email)
	if !IsValidEmail(g.Email) {
		errs := []FieldError{{Field: "guest.email", Code: "INVALID_FORMAT", Message: "Invalid email format"}}
		return &ValidationError{Step: s.step, Errors: errs}
	}

	s.guest = &g
	s.persistLocked(ctx)
	return nil
}

func (s *Session) Consent() Consent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consent
}

// customerEmailLocked picks the draft email, then the contact email, then
// the guest email.
func (s *Session) customerEmailLocked() string {
	switch {
	case s.draft != nil && s.draft.CustomerEmail != "":
		return s.draft.CustomerEmail
	case s.contactEmail != "":
		return s.contactEmail
	case s.guest != nil:
		return s.guest.Email
	}
	return ""
}
