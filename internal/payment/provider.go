// Package payment abstracts the card/mobile-money provider used to collect
// order payments: checkout initialization, server-side verification and
// webhook authentication.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidSignature is returned when a webhook signature is missing or wrong.
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")
	// ErrMalformedEvent is returned when a webhook body cannot be decoded.
	ErrMalformedEvent = errors.New("payment: malformed webhook event")
	// ErrProvider wraps non-2xx or unsuccessful provider responses.
	ErrProvider = errors.New("payment: provider error")
)

// Event types this system reconciles. Anything else is acknowledged and ignored.
const (
	EventChargeSuccess   = "charge.success"
	EventChargeFailed    = "charge.failed"
	EventRefundProcessed = "refund.processed"
)

// InitRequest describes a checkout to create.
type InitRequest struct {
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
	CustomerPhone string
	OrderID       string
	OrderNumber   string
	Metadata      map[string]string
}

// Checkout is the provider's answer to InitRequest.
type Checkout struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
}

// Verification is the provider's authoritative view of a charge.
type Verification struct {
	Reference string
	Status    string // "success", "failed", "abandoned"...
	Amount    decimal.Decimal
	Currency  string
	Channel   string
	PaidAt    *time.Time
}

// Succeeded reports whether the provider considers the charge paid.
func (v Verification) Succeeded() bool { return v.Status == "success" }

// Event is a decoded webhook. Reference is the transaction reference the
// event concerns; for refunds it is the refunded transaction.
type Event struct {
	Type      string
	Reference string
	OrderID   string // from checkout metadata, when present
	Reason    string
	Channel   string
	Amount    int64 // minor units as sent by the provider
	Currency  string
	Raw       json.RawMessage
}

// Provider is a payment gateway.
type Provider interface {
	Name() string
	InitializePayment(ctx context.Context, req InitRequest) (*Checkout, error)
	VerifyPayment(ctx context.Context, reference string) (*Verification, error)
	ValidateSignature(body []byte, signature string) bool
	ParseEvent(body []byte) (*Event, error)
}

// SupportedCurrencies is the set Paystack settles in.
var SupportedCurrencies = []string{"GHS", "NGN", "USD", "ZAR", "KES"}

// NormalizeCurrency upper-cases code and falls back to GHS when the
// provider does not support it.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range SupportedCurrencies {
		if c == code {
			return code
		}
	}
	return "GHS"
}

// IsGhanaianCustomer reports whether phone is a Ghana number: country code
// 233 or a ten-digit local number starting with 0.
func IsGhanaianCustomer(phone string) bool {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	return strings.HasPrefix(d, "233") || (strings.HasPrefix(d, "0") && len(d) == 10)
}
