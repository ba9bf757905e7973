// Package ledger is the append-only record of settlement attempts and the
// source of truth for whether a sale has been paid out. Entries move
// pending -> processing -> completed|failed; terminal states never change,
// and a failed entry is never reused for a retry.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/soundlease/payrail/internal/identity"
)

// State is the lifecycle state of a ledger entry.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Outcome is the terminal result of a settlement attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = Outcome(StateCompleted)
	OutcomeFailed    Outcome = Outcome(StateFailed)
)

// State returns the ledger state corresponding to the outcome.
func (o Outcome) State() State { return State(o) }

// Entry is one settlement attempt. Exactly one entry exists per settlement
// request id; retries of a failed settlement use a new request id and get a
// new entry, preserving full history.
type Entry struct {
	ID                  uuid.UUID       `json:"id"`
	SettlementRequestID string          `json:"settlement_request_id"`
	SaleID              string          `json:"sale_id"`
	PayeeID             string          `json:"payee_id"`
	Rail                identity.Rail   `json:"rail"`
	ProviderTransferID  *string         `json:"provider_transfer_id,omitempty"`
	State               State           `json:"state"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	FailureReason       *string         `json:"failure_reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// CreateParams are the inputs for a new ledger entry.
type CreateParams struct {
	SettlementRequestID string
	SaleID              string
	PayeeID             string
	Rail                identity.Rail
	Amount              decimal.Decimal
	Currency            string
}

var (
	// ErrDuplicateSettlement is returned by Create when an entry already
	// exists for the settlement request. The losing side of a concurrent
	// race observes this and discards its work instead of submitting a
	// second provider transfer.
	ErrDuplicateSettlement = errors.New("settlement request already has a ledger entry")

	// ErrNotFound is returned when no entry matches the lookup.
	ErrNotFound = errors.New("ledger entry not found")

	// ErrInvalidTransition is returned for a state change the lifecycle
	// does not allow, e.g. submitting an entry that is not pending.
	ErrInvalidTransition = errors.New("invalid ledger state transition")
)

// Store persists ledger entries. Create is the sole serialization point per
// sale: it performs an atomic check-and-insert keyed on the settlement
// request id. Terminal transitions are first-writer-wins; marking an
// already-terminal entry is a no-op that returns the existing entry,
// which is what makes duplicate provider callbacks safe.
type Store interface {
	// Create inserts a new entry in state pending, or returns
	// ErrDuplicateSettlement if the settlement request already has one.
	Create(ctx context.Context, params CreateParams) (*Entry, error)

	// MarkSubmitted transitions pending -> processing|completed once a
	// provider transfer id is known. A completed status here represents a
	// synchronous provider confirmation at submission time.
	MarkSubmitted(ctx context.Context, entryID uuid.UUID, providerTransferID string, status State) (*Entry, error)

	// MarkTerminal transitions pending|processing -> completed|failed.
	// The pending case covers synchronous provider rejection before a
	// transfer id exists. Already-terminal entries are returned unchanged
	// with applied=false, so duplicate callbacks are a safe no-op.
	MarkTerminal(ctx context.Context, entryID uuid.UUID, outcome Outcome, reason string) (entry *Entry, applied bool, err error)

	// MarkTerminalByProviderTransferID is MarkTerminal keyed by the
	// provider's transfer id, for reconciliation callbacks.
	MarkTerminalByProviderTransferID(ctx context.Context, transferID string, outcome Outcome, reason string) (entry *Entry, applied bool, err error)

	// Get retrieves an entry by id.
	Get(ctx context.Context, entryID uuid.UUID) (*Entry, error)

	// GetBySettlementRequest retrieves the entry for a settlement request.
	GetBySettlementRequest(ctx context.Context, settlementRequestID string) (*Entry, error)

	// GetByProviderTransferID retrieves the entry for a provider transfer.
	GetByProviderTransferID(ctx context.Context, transferID string) (*Entry, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close()
}
