package providers

import (
	"context"
	"errors"
	"time"
)

// Provider is the full capability contract the engine needs from a payment
// provider: collect money for a session, verify a capture, return money to a
// mentee, and transfer a payout to a mentor. Implementations are selected by
// name through the Registry.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error)
	VerifyCapture(ctx context.Context, providerReference string) (*CaptureResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

type IntentRequest struct {
	Amount    int64
	Currency  string
	Method    string
	Reference string // engine-side intent id, used as the idempotency key
}

type IntentResult struct {
	ProviderReference string
	ClientSecret      string
	Metadata          map[string]string
}

type CaptureResult struct {
	Captured      bool
	TransactionID string
	Amount        int64
	Currency      string
	CapturedAt    time.Time
}

type RefundRequest struct {
	TransactionID string
	Amount        int64
	Currency      string
	Reference     string // dispute or refund id, dedupes repeated submissions
}

type RefundResult struct {
	ProviderRefundID string
}

type TransferRequest struct {
	MentorID  string
	Amount    int64
	Currency  string
	Reference string // payout id, dedupes repeated submissions
}

type TransferResult struct {
	ProviderTransferID string
}

var (
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_provider_config")

	// ErrTransient marks failures worth retrying (timeouts, 5xx, rate
	// limits). Anything else from a provider is a terminal decline.
	ErrTransient = errors.New("provider_transient_error")
	ErrDeclined  = errors.New("provider_declined")
)

// IsTransient reports whether the caller may retry the provider call.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
