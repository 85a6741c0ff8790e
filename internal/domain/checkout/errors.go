package checkout

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrNoSession          = errors.New("no active checkout session")
	ErrSessionExpired     = errors.New("checkout session has expired")
	ErrNoNextStep         = errors.New("already at the last checkout step")
	ErrNotAtReview        = errors.New("order can only be placed from the review step")
	ErrOrderInProgress    = errors.New("an order is already being processed")
	ErrCheckoutCompleted  = errors.New("checkout is already completed")
	ErrPaymentDeclined    = errors.New("payment was declined")
	ErrUnknownPaymentType = errors.New("unknown payment method type")
)

// FieldError is one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError is returned when the data of a step fails validation.
type ValidationError struct {
	Step   Step
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Step, strings.Join(e.Messages(), "; "))
}

func (e *ValidationError) Messages() []string {
	out := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		out[i] = fe.Message
	}
	return out
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
