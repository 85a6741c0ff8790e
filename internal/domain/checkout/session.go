package checkout

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/example/md-checkout/internal/clock"
	"github.com/example/md-checkout/internal/domain/cart"
	"github.com/example/md-checkout/internal/domain/order"
	"github.com/example/md-checkout/internal/ids"
	"github.com/example/md-checkout/internal/payment"
	"github.com/example/md-checkout/internal/storage"
	"github.com/shopspring/decimal"
)

// DefaultSessionTTL is how long a checkout session lives after it starts.
const DefaultSessionTTL = 30 * time.Minute

// OrderCreator persists the order at the end of checkout.
type OrderCreator interface {
	Create(ctx context.Context, in order.CreateInput) (*order.Result, error)
}

// CartClearer empties the cart after a successful order.
type CartClearer interface {
	Clear(ctx context.Context) error
}

type Config struct {
	SessionTTL time.Duration
	Currency   string
	// ShippingMethods, when set, is the authoritative list; a submitted
	// method is replaced by the entry with the same id.
	ShippingMethods []ShippingMethod
}

func DefaultConfig() Config {
	return Config{
		SessionTTL:      DefaultSessionTTL,
		Currency:        DefaultCurrency,
		ShippingMethods: DefaultShippingMethods(),
	}
}

type Deps struct {
	Storage  storage.Storage
	Clock    clock.Clock
	Orders   OrderCreator
	Payments payment.Authorizer
	Cart     CartClearer
}

// Session is the checkout state machine of one customer session:
// shipping -> payment -> review -> confirmation. Confirmation is reached
// only through a successful PlaceOrder. Methods are safe for concurrent
// use.
type Session struct {
	mu       sync.Mutex
	storage  storage.Storage
	clock    clock.Clock
	orders   OrderCreator
	payments payment.Authorizer
	cart     CartClearer
	ids      *ids.Generator
	cfg      Config

	id               string
	step             Step
	expiresAt        time.Time
	shipping         *ShippingInformation
	paymentMethod    PaymentMethod
	draft            *OrderDraft
	contactEmail     string
	guest            *GuestInfo
	consent          Consent
	validationErrors map[Step][]FieldError
	processing       bool
	loading          bool
	lastError        string
	lastSyncAt       time.Time
}

func NewSession(deps Deps, cfg Config) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	return &Session{
		storage:          deps.Storage,
		clock:            deps.Clock,
		orders:           deps.Orders,
		payments:         deps.Payments,
		cart:             deps.Cart,
		ids:              ids.NewGenerator(deps.Clock),
		cfg:              cfg,
		step:             StepShipping,
		validationErrors: make(map[Step][]FieldError),
	}
}

// InitializeCheckout starts a fresh session priced from items.
func (s *Session) InitializeCheckout(ctx context.Context, items []cart.LineItem) error {
	if len(items) == 0 {
		return ErrEmptyCart
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing {
		return ErrOrderInProgress
	}

	s.loading = true
	defer func() { s.loading = false }()

	contact := s.contactEmail
	s.clearLocked()
	s.id = s.ids.Lower("checkout", 9)
	s.expiresAt = s.clock.Now().Add(s.cfg.SessionTTL)
	s.contactEmail = contact

	draft := BuildOrderDraft(items, decimal.Zero, s.cfg.Currency)
	draft.CustomerEmail = contact
	s.draft = &draft

	log.Printf("[Checkout] Started session %s with %d line(s), total %s", s.id, len(items), draft.Total.StringFixed(2))
	s.persistLocked(ctx)
	return nil
}

// UpdateShippingInfo validates and stores the shipping details. Invalid
// input leaves the previous details in place.
func (s *Session) UpdateShippingInfo(ctx context.Context, info ShippingInformation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guardLocked(ctx); err != nil {
		return err
	}

	info.Address = info.Address.Normalize()
	var methodErr []FieldError
	if len(s.cfg.ShippingMethods) > 0 && info.Method.ID != "" {
		if m, ok := s.lookupMethod(info.Method.ID); ok {
			info.Method = m
		} else {
			methodErr = append(methodErr, FieldError{Field: "method.id", Code: "UNKNOWN", Message: "Unknown shipping method"})
		}
	}

	errs := append(ValidateShippingInformation(info), methodErr...)
	if len(errs) > 0 {
		s.validationErrors[StepShipping] = errs
		return &ValidationError{Step: StepShipping, Errors: errs}
	}

	s.shipping = &info
	delete(s.validationErrors, StepShipping)
	s.applyShippingLocked()
	s.persistLocked(ctx)
	return nil
}

// UpdatePaymentMethod validates and stores the payment method. Shipping
// details must already be present.
func (s *Session) UpdatePaymentMethod(ctx context.Context, pm PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guardLocked(ctx); err != nil {
		return err
	}

	if s.shipping == nil {
		errs := []FieldError{{Field: "shipping", Code: "REQUIRED", Message: "Shipping information is required before choosing a payment method"}}
		s.validationErrors[StepPayment] = errs
		return &ValidationError{Step: StepPayment, Errors: errs}
	}

	if errs := ValidatePaymentMethod(pm, s.clock.Now()); len(errs) > 0 {
		s.validationErrors[StepPayment] = errs
		return &ValidationError{Step: StepPayment, Errors: errs}
	}

	s.paymentMethod = pm
	delete(s.validationErrors, StepPayment)
	s.persistLocked(ctx)
	return nil
}

// UpdateContactEmail sets the address the order confirmation goes to.
func (s *Session) UpdateContactEmail(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guardLocked(ctx); err != nil {
		return err
	}
	if !IsValidEmail(email) {
		errs := []FieldError{{Field: "email", Code: "INVALID_FORMAT", Message: "Invalid email format"}}
		return &ValidationError{Step: s.step, Errors: errs}
	}

	s.contactEmail = email
	if s.draft != nil {
		s.draft.CustomerEmail = email
	}
	s.persistLocked(ctx)
	return nil
}

// ApplyShippingMethod re-prices the draft with the stored shipping method.
func (s *Session) ApplyShippingMethod() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyShippingLocked()
}

// ValidateCurrentStep reports whether the current step has the data it
// needs, recording the failures in ValidationErrors.
func (s *Session) ValidateCurrentStep() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.validateStepLocked()) == 0
}

// ProceedToNextStep advances one step if the current step validates. From
// review, advancing places the order.
func (s *Session) ProceedToNextStep(ctx context.Context) (Step, error) {
	s.mu.Lock()
	if err := s.guardLocked(ctx); err != nil {
		step := s.step
		s.mu.Unlock()
		return step, err
	}

	if s.step == StepReview {
		s.mu.Unlock()
		if _, err := s.PlaceOrder(ctx); err != nil {
			return s.CurrentStep(), err
		}
		return s.CurrentStep(), nil
	}
	defer s.mu.Unlock()

	next, ok := s.step.Next()
	if !ok {
		return s.step, ErrNoNextStep
	}
	if errs := s.validateStepLocked(); len(errs) > 0 {
		return s.step, &ValidationError{Step: s.step, Errors: errs}
	}

	if s.step == StepShipping {
		s.applyShippingLocked()
	}
	s.step = next
	s.persistLocked(ctx)
	return s.step, nil
}

// GoToPreviousStep moves back one step without validation. It is a no-op
// on the first step.
func (s *Session) GoToPreviousStep(ctx context.Context) (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guardLocked(ctx); err != nil {
		return s.step, err
	}
	if prev, ok := s.step.Previous(); ok {
		s.step = prev
		s.persistLocked(ctx)
	}
	return s.step, nil
}

// PlaceOrder authorizes payment and creates the order. It is valid only on
// the review step and runs at most once at a time. On success the session
// moves to confirmation and the cart is cleared.
func (s *Session) PlaceOrder(ctx context.Context) (*order.Result, error) {
	s.mu.Lock()
	if err := s.guardLocked(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.step != StepReview {
		s.mu.Unlock()
		return nil, ErrNotAtReview
	}
	if errs := s.validateStepLocked(); len(errs) > 0 {
		s.mu.Unlock()
		return nil, &ValidationError{Step: StepReview, Errors: errs}
	}
	input := s.orderInputLocked()
	req := s.paymentRequestLocked()
	s.processing = true
	s.lastError = ""
	s.mu.Unlock()

	res, err := s.authorizeAndCreate(ctx, input, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
	if err != nil {
		s.lastError = err.Error()
		log.Printf("[Checkout] Order for session %s failed: %v", s.id, err)
		return nil, err
	}

	s.draft.OrderID = res.ID
	s.draft.OrderNumber = res.OrderNumber
	s.step = StepConfirmation
	clear(s.validationErrors)
	log.Printf("[Checkout] Session %s completed with order %s", s.id, res.OrderNumber)

	if s.cart != nil {
		if err := s.cart.Clear(ctx); err != nil {
			log.Printf("[Checkout] Failed to clear cart after order %s: %v", res.OrderNumber, err)
		}
	}
	s.persistLocked(ctx)
	return res, nil
}

func (s *Session) authorizeAndCreate(ctx context.Context, in order.CreateInput, req payment.Request) (*order.Result, error) {
	auth, err := s.payments.Authorize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("payment authorization failed: %w", err)
	}
	if !auth.Success {
		return nil, fmt.Errorf("%w: %s", ErrPaymentDeclined, auth.Error)
	}
	in.Payment = auth
	return s.orders.Create(ctx, in)
}

// ResetCheckout discards the session and its stored copy.
func (s *Session) ResetCheckout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing {
		return ErrOrderInProgress
	}
	s.clearLocked()
	return s.removeStoredLocked(ctx)
}

// IsSessionExpired reports whether the session has passed its expiry.
func (s *Session) IsSessionExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiredLocked()
}

func (s *Session) CurrentStep() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func (s *Session) CurrentStepIndex() int {
	return s.CurrentStep().Index()
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) CanProceedToPayment() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shipping != nil && len(ValidateShippingInformation(*s.shipping)) == 0
}

func (s *Session) CanProceedToReview() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shipping != nil && s.paymentMethod != nil
}

func (s *Session) CanCompleteOrder() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step == StepReview && s.shipping != nil && s.paymentMethod != nil && s.draft != nil && !s.processing
}

// ValidationErrors returns the messages recorded per step.
func (s *Session) ValidationErrors() map[Step][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesLocked()
}

// FieldErrors returns the structured errors recorded for step.
func (s *Session) FieldErrors(step Step) []FieldError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FieldError(nil), s.validationErrors[step]...)
}

// State is a point-in-time copy of the session for display.
type State struct {
	SessionID          string               `json:"sessionId,omitempty"`
	CurrentStep        Step                 `json:"currentStep"`
	StepIndex          int                  `json:"stepIndex"`
	ShippingInfo       *ShippingInformation `json:"shippingInfo,omitempty"`
	PaymentMethod      PaymentMethod        `json:"-"`
	Payment            *PaymentSummary      `json:"paymentMethod,omitempty"`
	OrderDraft         *OrderDraft          `json:"orderData,omitempty"`
	ContactEmail       string               `json:"contactEmail,omitempty"`
	GuestInfo          *GuestInfo           `json:"guestInfo,omitempty"`
	TermsAccepted      bool                 `json:"termsAccepted"`
	PrivacyAccepted    bool                 `json:"privacyAccepted"`
	MarketingConsent   bool                 `json:"marketingConsent"`
	ExpiresAt          time.Time            `json:"sessionExpiresAt,omitempty"`
	Expired            bool                 `json:"expired"`
	ValidationErrors   map[Step][]string    `json:"validationErrors,omitempty"`
	Processing         bool                 `json:"processing"`
	Loading            bool                 `json:"loading"`
	LastError          string               `json:"lastError,omitempty"`
	AvailableCountries []string             `json:"availableCountries"`
	ShippingMethods    []ShippingMethod     `json:"shippingMethods,omitempty"`
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		SessionID:          s.id,
		CurrentStep:        s.step,
		StepIndex:          s.step.Index(),
		PaymentMethod:      s.paymentMethod,
		Payment:            Summarize(s.paymentMethod),
		ContactEmail:       s.contactEmail,
		TermsAccepted:      s.consent.TermsAccepted,
		PrivacyAccepted:    s.consent.PrivacyAccepted,
		MarketingConsent:   s.consent.MarketingConsent,
		ExpiresAt:          s.expiresAt,
		Expired:            s.expiredLocked(),
		ValidationErrors:   s.messagesLocked(),
		Processing:         s.processing,
		Loading:            s.loading,
		LastError:          s.lastError,
		AvailableCountries: append([]string(nil), AvailableCountries...),
		ShippingMethods:    append([]ShippingMethod(nil), s.cfg.ShippingMethods...),
	}
	if s.shipping != nil {
		cp := *s.shipping
		st.ShippingInfo = &cp
	}
	if s.guest != nil {
		cp := *s.guest
		st.GuestInfo = &cp
	}
	if s.draft != nil {
		cp := *s.draft
		cp.Items = append([]OrderLine(nil), s.draft.Items...)
		st.OrderDraft = &cp
	}
	return st
}

// guardLocked rejects mutations on missing, expired, busy or finished
// sessions. An expired session is discarded.
func (s *Session) guardLocked(ctx context.Context) error {
	if s.id == "" {
		return ErrNoSession
	}
	if s.processing {
		return ErrOrderInProgress
	}
	if s.expiredLocked() {
		log.Printf("[Checkout] Session %s expired at %s", s.id, s.expiresAt.Format(time.RFC3339))
		s.clearLocked()
		if err := s.removeStoredLocked(ctx); err != nil {
			log.Printf("[Checkout] Failed to remove expired session: %v", err)
		}
		return ErrSessionExpired
	}
	if s.step == StepConfirmation {
		return ErrCheckoutCompleted
	}
	return nil
}

func (s *Session) expiredLocked() bool {
	return !s.expiresAt.IsZero() && s.clock.Now().After(s.expiresAt)
}

// validateStepLocked re-runs the checks of the current step and replaces
// all recorded errors with the result.
func (s *Session) validateStepLocked() []FieldError {
	clear(s.validationErrors)

	var errs []FieldError
	switch s.step {
	case StepShipping:
		if s.shipping == nil {
			errs = []FieldError{{Field: "shipping", Code: "REQUIRED", Message: "Shipping information is required"}}
		} else {
			errs = ValidateShippingInformation(*s.shipping)
		}
	case StepPayment:
		if s.paymentMethod == nil {
			errs = []FieldError{{Field: "payment", Code: "REQUIRED", Message: "Payment method is required"}}
		}
	case StepReview:
		if s.shipping == nil {
			errs = append(errs, FieldError{Field: "shipping", Code: "REQUIRED", Message: "Shipping information is required"})
		}
		if s.paymentMethod == nil {
			errs = append(errs, FieldError{Field: "payment", Code: "REQUIRED", Message: "Payment method is required"})
		}
		if s.draft == nil || len(s.draft.Items) == 0 {
			errs = append(errs, FieldError{Field: "order", Code: "REQUIRED", Message: "Order has no items"})
		}
	}
	if len(errs) > 0 {
		s.validationErrors[s.step] = errs
	}
	return errs
}

func (s *Session) applyShippingLocked() {
	if s.shipping == nil || s.draft == nil {
		return
	}
	d := s.draft.WithShipping(s.shipping.Method.Price)
	s.draft = &d
}

func (s *Session) lookupMethod(id string) (ShippingMethod, bool) {
	for _, m := range s.cfg.ShippingMethods {
		if m.ID == id {
			return m, true
		}
	}
	return ShippingMethod{}, false
}

func (s *Session) orderInputLocked() order.CreateInput {
	d := s.draft
	addr := s.shipping.Address
	items := make([]order.Item, len(d.Items))
	for i, l := range d.Items {
		items[i] = order.Item{
			ProductID: l.ProductID,
			Name:      l.Name,
			Slug:      l.Slug,
			Image:     l.Image,
			UnitPrice: l.Price,
			Quantity:  l.Quantity,
			Total:     l.Total,
		}
	}
	return order.CreateInput{
		SessionID:     s.id,
		CustomerEmail: s.customerEmailLocked(),
		CustomerName:  addr.FullName(),
		Items:         items,
		ShippingAddress: order.Address{
			FirstName:  addr.FirstName,
			LastName:   addr.LastName,
			Company:    addr.Company,
			Street:     addr.Street,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Province:   addr.Province,
			Country:    addr.Country,
			Phone:      addr.Phone,
		},
		ShippingMethod: s.shipping.Method.ID,
		PaymentMethod:  s.paymentMethod.Type(),
		Subtotal:       d.Subtotal,
		ShippingCost:   d.ShippingCost,
		Tax:            d.Tax,
		Discount:       d.Discount,
		Total:          d.Total,
		Currency:       d.Currency,
	}
}

func (s *Session) paymentRequestLocked() payment.Request {
	req := payment.Request{
		SessionID: s.id,
		Method:    s.paymentMethod.Type(),
		Amount:    s.draft.Total,
		Currency:  s.draft.Currency,
	}
	switch m := s.paymentMethod.(type) {
	case CreditCard:
		r := m.Redacted()
		req.CardLast4, req.CardBrand = r.Last4, r.Brand
	case PayPal:
		req.PayPalEmail = m.Email
	}
	return req
}

func (s *Session) messagesLocked() map[Step][]string {
	out := make(map[Step][]string, len(s.validationErrors))
	for step, errs := range s.validationErrors {
		msgs := make([]string, len(errs))
		for i, fe := range errs {
			msgs[i] = fe.Message
		}
		out[step] = msgs
	}
	return out
}

func (s *Session) clearLocked() {
	s.id = ""
	s.step = StepShipping
	s.expiresAt = time.Time{}
	s.shipping = nil
	s.paymentMethod = nil
	s.draft = nil
	s.contactEmail = ""
	s.guest = nil
	s.consent = Consent{}
	s.lastError = ""
	s.lastSyncAt = time.Time{}
	clear(s.validationErrors)
}
