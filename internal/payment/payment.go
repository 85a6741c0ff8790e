// Package payment authorizes checkout payments.
package payment

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/example/md-checkout/internal/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	CreditCard   Type = "credit_card"
	PayPal       Type = "paypal"
	Cash         Type = "cash"
	BankTransfer Type = "bank_transfer"
)

var ErrInvalidAmount = errors.New("payment amount must be positive")

func (t Type) Valid() bool {
	switch t {
	case CreditCard, PayPal, Cash, BankTransfer:
		return true
	}
	return false
}

// Provider is the processor recorded on the order for this method.
func (t Type) Provider() string {
	switch t {
	case CreditCard:
		return "stripe"
	case PayPal:
		return "paypal"
	default:
		return "cod"
	}
}

type Request struct {
	SessionID   string
	Method      Type
	Amount      decimal.Decimal
	Currency    string
	CardLast4   string
	CardBrand   string
	PayPalEmail string
}

type Result struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	Pending       bool   `json:"pending,omitempty"`
	Error         string `json:"error,omitempty"`
}

type Authorizer interface {
	Authorize(ctx context.Context, req Request) (Result, error)
}

// declinedLast4 is the trailing digits of the well-known "card declined"
// test number 4000 0000 0000 0002.
const declinedLast4 = "0002"

// Simulated authorizes without talking to a processor. Cards ending in
// 0002 are declined; bank transfers are accepted as pending.
type Simulated struct {
	clock clock.Clock
}

func NewSimulated(clk clock.Clock) *Simulated {
	return &Simulated{clock: clk}
}

func (s *Simulated) Authorize(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if !req.Amount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}

	ms := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	switch req.Method {
	case CreditCard:
		if strings.HasSuffix(req.CardLast4, declinedLast4) {
			return Result{Success: false, Error: "card declined"}, nil
		}
		return Result{Success: true, TransactionID: "card_" + uuid.NewString()}, nil
	case PayPal:
		return Result{Success: true, TransactionID: "pp_" + ms}, nil
	case Cash:
		return Result{Success: true, TransactionID: "cash_" + ms}, nil
	case BankTransfer:
		return Result{Success: true, TransactionID: "bt_" + ms, Pending: true}, nil
	}
	return Result{Success: false, Error: "unsupported payment method"}, nil
}
