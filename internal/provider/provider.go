// Package provider defines the interface between the settlement executor and
// external transfer providers. Each rail has one implementation.
package provider

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Status is the provider-reported state of a transfer at submission time.
type Status string

const (
	// StatusProcessing means the provider accepted the transfer and will
	// confirm the outcome later via webhook.
	StatusProcessing Status = "processing"

	// StatusCompleted means the provider confirmed the transfer
	// synchronously.
	StatusCompleted Status = "completed"
)

// TransferRequest describes a single settlement transfer. IdempotencyKey is
// derived deterministically from the settlement request, so a retried submit
// with the same key never creates a second provider-side transfer.
type TransferRequest struct {
	Destination    string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// Submission is the provider's acknowledgement of an accepted transfer.
type Submission struct {
	TransferID string
	Status     Status
}

var (
	// ErrUnavailable means the provider could not be reached or answered
	// with a transient failure. The caller may retry with a fresh
	// settlement request after backoff.
	ErrUnavailable = errors.New("transfer provider unavailable")

	// ErrRejected means the provider refused the transfer because the
	// destination or account is invalid. Not retryable without fixing the
	// destination.
	ErrRejected = errors.New("transfer rejected by provider")
)

// TransferClient submits transfers to one rail's provider. Implementations
// create exactly one provider-side transfer per successful call and no
// side effect when the call fails before the provider accepted it.
type TransferClient interface {
	SubmitTransfer(ctx context.Context, req TransferRequest) (*Submission, error)
}

// Confirmer is implemented by clients whose rail can confirm transfers
// within seconds. The executor polls Confirmed for a bounded window after
// submission to upgrade the result to completed synchronously.
type Confirmer interface {
	Confirmed(ctx context.Context, transferID string) (bool, error)
}
