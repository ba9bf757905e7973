package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/soundlease/payrail/internal/identity"
	"github.com/soundlease/payrail/internal/ledger"
	"github.com/soundlease/payrail/internal/metrics"
	"github.com/soundlease/payrail/internal/notify"
	"github.com/soundlease/payrail/internal/provider"
	"github.com/soundlease/payrail/internal/rail"
	"github.com/soundlease/payrail/internal/royalty"
)

// ErrInvalidRequest is returned for a structurally invalid settlement
// request (missing identifiers).
var ErrInvalidRequest = errors.New("invalid settlement request")

// Request is an immutable settlement request for one completed sale.
// PayeeRate is optional; zero means the service default applies.
type Request struct {
	SettlementRequestID string
	SaleID              string
	PayeeID             string
	GrossAmount         decimal.Decimal
	Currency            string
	Method              rail.Method
	PayeeRate           decimal.Decimal
}

// Result is the synchronous outcome of a settlement request. Entry reflects
// the ledger state at return time: completed when the rail confirmed within
// the bounded wait, failed when the provider rejected the transfer
// synchronously, processing otherwise.
type Result struct {
	Entry *ledger.Entry
	Split royalty.Split
}

// ServiceConfig configures the settlement service.
type ServiceConfig struct {
	Logger           *slog.Logger
	Ledger           ledger.Store
	Identities       identity.Directory
	Executor         *Executor
	Notifier         notify.Notifier
	Policy           rail.Policy
	DefaultPayeeRate decimal.Decimal
}

func (cfg *ServiceConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger store is required")
	}
	if cfg.Identities == nil {
		return errors.New("identity directory is required")
	}
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Noop{}
	}
	if len(cfg.Policy.HybridOrder) == 0 {
		cfg.Policy = rail.DefaultPolicy()
	}
	if cfg.DefaultPayeeRate.IsZero() {
		cfg.DefaultPayeeRate = decimal.New(70, -2)
	}
	return nil
}

// Service settles royalties for completed sales. Each request is processed
// independently; the ledger's Create is the sole serialization point per
// sale.
type Service struct {
	log *slog.Logger
	cfg ServiceConfig
}

// NewService creates a settlement service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{log: cfg.Logger, cfg: cfg}, nil
}

// Settle runs the full settlement flow for one request: split, route,
// record pending, execute, record result.
//
// Validation and eligibility failures return an error and leave no ledger
// entry. A synchronous provider rejection marks the entry failed and returns
// it in the Result with no error; the failure reaches the payee through the
// notifier. Transient provider unavailability returns
// provider.ErrUnavailable with the entry left pending; the caller retries
// with a fresh settlement request after backoff.
func (s *Service) Settle(ctx context.Context, req Request) (*Result, error) {
	if req.SettlementRequestID == "" {
		return nil, fmt.Errorf("%w: settlement request id is required", ErrInvalidRequest)
	}
	if req.SaleID == "" {
		return nil, fmt.Errorf("%w: sale id is required", ErrInvalidRequest)
	}
	if req.PayeeID == "" {
		return nil, fmt.Errorf("%w: payee id is required", ErrInvalidRequest)
	}
	if !req.Method.Valid() {
		return nil, rail.ErrUnknownMethod
	}

	payeeRate := req.PayeeRate
	if payeeRate.IsZero() {
		payeeRate = s.cfg.DefaultPayeeRate
	}

	split, err := royalty.ComputeSplit(req.GrossAmount, req.Currency, payeeRate)
	if err != nil {
		return nil, err
	}

	payee, err := s.cfg.Identities.Lookup(ctx, req.PayeeID)
	if err != nil {
		return nil, err
	}

	chosenRail, dest, err := rail.Select(payee, req.Method, s.cfg.Policy)
	if err != nil {
		return nil, err
	}

	entry, err := s.cfg.Ledger.Create(ctx, ledger.CreateParams{
		SettlementRequestID: req.SettlementRequestID,
		SaleID:              req.SaleID,
		PayeeID:             req.PayeeID,
		Rail:                chosenRail,
		Amount:              split.PayeeShare,
		Currency:            split.Currency,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("settle: settlement accepted",
		"ledger_entry_id", entry.ID,
		"settlement_request_id", req.SettlementRequestID,
		"payee_id", req.PayeeID,
		"rail", chosenRail,
		"payee_share", split.PayeeShare,
		"currency", split.Currency,
	)

	key := IdempotencyKey(req.SettlementRequestID, chosenRail)
	sub, err := s.cfg.Executor.Execute(ctx, chosenRail, dest, split.PayeeShare, split.Currency, key)
	if err != nil {
		return s.recordExecuteFailure(ctx, entry, chosenRail, err)
	}

	entry, err = s.cfg.Ledger.MarkSubmitted(ctx, entry.ID, sub.TransferID, ledger.State(sub.Status))
	if err != nil {
		return nil, fmt.Errorf("transfer %s submitted but ledger update failed: %w", sub.TransferID, err)
	}

	metrics.SettlementsTotal.WithLabelValues(string(chosenRail), string(entry.State)).Inc()
	if entry.State == ledger.StateCompleted {
		metrics.InstantSettlementsTotal.Inc()
		metrics.SettlementDuration.WithLabelValues(string(chosenRail)).Observe(entry.CompletedAt.Sub(entry.CreatedAt).Seconds())
	}

	return &Result{Entry: entry, Split: split}, nil
}

// recordExecuteFailure translates an executor error into ledger state. A
// permanent rejection terminates the entry and notifies the payee; a
// transient failure leaves the entry pending and surfaces the error.
func (s *Service) recordExecuteFailure(ctx context.Context, entry *ledger.Entry, chosenRail identity.Rail, execErr error) (*Result, error) {
	if !errors.Is(execErr, provider.ErrRejected) {
		metrics.SettlementsTotal.WithLabelValues(string(chosenRail), "unavailable").Inc()
		s.log.Warn("settle: provider unavailable, entry left pending",
			"ledger_entry_id", entry.ID, "error", execErr)
		return nil, execErr
	}

	reason := execErr.Error()
	entry, _, err := s.cfg.Ledger.MarkTerminal(ctx, entry.ID, ledger.OutcomeFailed, reason)
	if err != nil {
		return nil, fmt.Errorf("provider rejected transfer but ledger update failed: %w", err)
	}

	metrics.SettlementsTotal.WithLabelValues(string(chosenRail), string(ledger.StateFailed)).Inc()
	s.log.Warn("settle: provider rejected transfer",
		"ledger_entry_id", entry.ID, "reason", reason)

	if notifyErr := s.cfg.Notifier.SettlementFailed(ctx, entry, reason); notifyErr != nil {
		s.log.Error("settle: failed to send failure notification",
			"ledger_entry_id", entry.ID, "error", notifyErr)
	}

	return &Result{Entry: entry}, nil
}
