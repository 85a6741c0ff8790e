package checkout

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/md-checkout/internal/payment"
)

// PaymentMethod is one of CreditCard, PayPal, Cash or BankTransfer.
type PaymentMethod interface {
	Type() payment.Type
	isPaymentMethod()
}

type CreditCard struct {
	Number      string `json:"number,omitempty"`
	ExpiryMonth int    `json:"expiryMonth"`
	ExpiryYear  int    `json:"expiryYear"`
	CVV         string `json:"cvv,omitempty"`
	HolderName  string `json:"holderName"`
	// Last4 and Brand survive redaction so a stored card can still be shown
	Last4 string `json:"last4,omitempty"`
	Brand string `json:"brand,omitempty"`
}

type PayPal struct {
	Email string `json:"email"`
}

type Cash struct{}

type BankTransfer struct {
	Reference string `json:"reference,omitempty"`
}

func (CreditCard) Type() payment.Type   { return payment.CreditCard }
func (PayPal) Type() payment.Type       { return payment.PayPal }
func (Cash) Type() payment.Type         { return payment.Cash }
func (BankTransfer) Type() payment.Type { return payment.BankTransfer }

func (CreditCard) isPaymentMethod()   {}
func (PayPal) isPaymentMethod()       {}
func (Cash) isPaymentMethod()         {}
func (BankTransfer) isPaymentMethod() {}

var (
	cardNumberPattern = regexp.MustCompile(`^\d{13,19}$`)
	cvvPattern        = regexp.MustCompile(`^\d{3,4}$`)
	emailPattern      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// CleanCardNumber strips spaces.
func CleanCardNumber(number string) string {
	return strings.ReplaceAll(number, " ", "")
}

// Luhn reports whether number passes the mod-10 checksum. Non-digits other
// than spaces fail.
func Luhn(number string) bool {
	digits := CleanCardNumber(number)
	if digits == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

var cardBrands = []struct {
	pattern *regexp.Regexp
	brand   string
}{
	{regexp.MustCompile(`^4`), "visa"},
	{regexp.MustCompile(`^5[1-5]`), "mastercard"},
	{regexp.MustCompile(`^3[47]`), "amex"},
	{regexp.MustCompile(`^6(?:011|5)`), "discover"},
}

// CardBrand guesses the network from the card number prefix.
func CardBrand(number string) string {
	n := CleanCardNumber(number)
	for _, b := range cardBrands {
		if b.pattern.MatchString(n) {
			return b.brand
		}
	}
	return "unknown"
}

func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// Redacted drops the card number and CVV, keeping what is needed to show
// the card again.
func (c CreditCard) Redacted() CreditCard {
	last4, brand := c.Last4, c.Brand
	if n := CleanCardNumber(c.Number); len(n) >= 4 {
		last4 = n[len(n)-4:]
		brand = CardBrand(n)
	}
	return CreditCard{
		ExpiryMonth: c.ExpiryMonth,
		ExpiryYear:  c.ExpiryYear,
		HolderName:  c.HolderName,
		Last4:       last4,
		Brand:       brand,
	}
}

// ValidatePaymentMethod returns every rule pm breaks. now is used for the
// card expiry check.
func ValidatePaymentMethod(pm PaymentMethod, now time.Time) []FieldError {
	switch m := pm.(type) {
	case nil:
		return []FieldError{{Field: "type", Code: "REQUIRED", Message: "Payment method type is required"}}
	case CreditCard:
		return validateCreditCard(m, now)
	case PayPal:
		switch {
		case strings.TrimSpace(m.Email) == "":
			return []FieldError{{Field: "email", Code: "REQUIRED", Message: "PayPal email is required"}}
		case !IsValidEmail(m.Email):
			return []FieldError{{Field: "email", Code: "INVALID_FORMAT", Message: "Invalid email format"}}
		}
		return nil
	case Cash:
		return nil
	case BankTransfer:
		if utf8.RuneCountInString(m.Reference) > 50 {
			return []FieldError{{Field: "reference", Code: "TOO_LONG", Message: "Reference must be less than 50 characters"}}
		}
		return nil
	default:
		return []FieldError{{Field: "type", Code: "INVALID_TYPE", Message: "Invalid payment method type"}}
	}
}

func validateCreditCard(c CreditCard, now time.Time) []FieldError {
	var errs []FieldError

	number := CleanCardNumber(c.Number)
	switch {
	case number == "":
		errs = append(errs, FieldError{Field: "number", Code: "REQUIRED", Message: "Card number is required"})
	case !cardNumberPattern.MatchString(number):
		errs = append(errs, FieldError{Field: "number", Code: "INVALID_FORMAT", Message: "Invalid card number format"})
	case !Luhn(number):
		errs = append(errs, FieldError{Field: "number", Code: "INVALID_CHECKSUM", Message: "Invalid card number"})
	}

	if c.ExpiryMonth == 0 || c.ExpiryYear == 0 {
		errs = append(errs, FieldError{Field: "expiry", Code: "REQUIRED", Message: "Expiry date is required"})
	} else {
		year := c.ExpiryYear
		if year < 100 {
			year += 2000
		}
		if c.ExpiryMonth < 1 || c.ExpiryMonth > 12 {
			errs = append(errs, FieldError{Field: "expiryMonth", Code: "INVALID_MONTH", Message: "Invalid expiry month"})
		}
		curYear, curMonth := now.Year(), int(now.Month())
		if year < curYear || (year == curYear && c.ExpiryMonth < curMonth) {
			errs = append(errs, FieldError{Field: "expiry", Code: "EXPIRED", Message: "Card has expired"})
		}
	}

	switch {
	case strings.TrimSpace(c.CVV) == "":
		errs = append(errs, FieldError{Field: "cvv", Code: "REQUIRED", Message: "CVV is required"})
	case !cvvPattern.MatchString(c.CVV):
		errs = append(errs, FieldError{Field: "cvv", Code: "INVALID_FORMAT", Message: "CVV must be 3 or 4 digits"})
	}

	if fe := lengthRule("holderName", "Cardholder name", c.HolderName, 2, 50); fe != nil {
		errs = append(errs, *fe)
	}
	return errs
}

type paymentEnvelope struct {
	Type         payment.Type  `json:"type"`
	CreditCard   *CreditCard   `json:"creditCard,omitempty"`
	PayPal       *PayPal       `json:"paypal,omitempty"`
	BankTransfer *BankTransfer `json:"bankTransfer,omitempty"`
}

// MarshalPaymentMethod encodes pm as {"type": ..., "<variant>": {...}}.
// With redact set, card number and CVV are left out.
func MarshalPaymentMethod(pm PaymentMethod, redact bool) ([]byte, error) {
	env := paymentEnvelope{}
	switch m := pm.(type) {
	case CreditCard:
		if redact {
			m = m.Redacted()
		}
		env.CreditCard = &m
	case PayPal:
		env.PayPal = &m
	case Cash:
	case BankTransfer:
		env.BankTransfer = &m
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownPaymentType, pm)
	}
	env.Type = pm.Type()
	return json.Marshal(env)
}

// UnmarshalPaymentMethod decodes the output of MarshalPaymentMethod.
func UnmarshalPaymentMethod(data []byte) (PaymentMethod, error) {
	var env paymentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid payment method: %w", err)
	}
	switch env.Type {
	case payment.CreditCard:
		if env.CreditCard == nil {
			return CreditCard{}, nil
		}
		return *env.CreditCard, nil
	case payment.PayPal:
		if env.PayPal == nil {
			return PayPal{}, nil
		}
		return *env.PayPal, nil
	case payment.Cash:
		return Cash{}, nil
	case payment.BankTransfer:
		if env.BankTransfer == nil {
			return BankTransfer{}, nil
		}
		return *env.BankTransfer, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPaymentType, env.Type)
}

// PaymentSummary is a display-safe view of a payment method.
type PaymentSummary struct {
	Type       payment.Type `json:"type"`
	Brand      string       `json:"brand,omitempty"`
	Last4      string       `json:"last4,omitempty"`
	HolderName string       `json:"holderName,omitempty"`
	Email      string       `json:"email,omitempty"`
	Reference  string       `json:"reference,omitempty"`
}

func Summarize(pm PaymentMethod) *PaymentSummary {
	if pm == nil {
		return nil
	}
	s := &PaymentSummary{Type: pm.Type()}
	switch m := pm.(type) {
	case CreditCard:
		r := m.Redacted()
		s.Brand, s.Last4, s.HolderName = r.Brand, r.Last4, r.HolderName
	case PayPal:
		s.Email = m.Email
	case BankTransfer:
		s.Reference = m.Reference
	}
	return s
}
