// Package settle orchestrates royalty settlements: splitting the sale
// amount, routing to a rail, executing the provider transfer, and recording
// every attempt in the ledger.
package settle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/soundlease/payrail/internal/identity"
	"github.com/soundlease/payrail/internal/metrics"
	"github.com/soundlease/payrail/internal/provider"
)

// IdempotencyKey derives the provider idempotency key for a settlement
// request on a rail. The key is deterministic so a retried submission is
// recognized by the provider as a duplicate rather than executed twice.
func IdempotencyKey(settlementRequestID string, r identity.Rail) string {
	sum := sha256.Sum256([]byte(settlementRequestID + ":" + string(r)))
	return hex.EncodeToString(sum[:])
}

// ExecutorConfig configures the settlement executor.
type ExecutorConfig struct {
	Logger       *slog.Logger
	Clock        clockwork.Clock
	Clients      map[identity.Rail]provider.TransferClient
	ConfirmWait  time.Duration
	PollInterval time.Duration
}

func (cfg *ExecutorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if len(cfg.Clients) == 0 {
		return errors.New("at least one transfer client is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ConfirmWait <= 0 {
		cfg.ConfirmWait = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return nil
}

// Executor submits transfers to the provider for the chosen rail. For rails
// whose client implements provider.Confirmer it polls for confirmation
// within a bounded wait, upgrading the result to completed synchronously;
// expiry downgrades to processing rather than blocking.
type Executor struct {
	log *slog.Logger
	cfg ExecutorConfig
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{log: cfg.Logger, cfg: cfg}, nil
}

// Execute submits one transfer. Exactly one provider-side transfer results
// from a successful call; on failure before the provider accepted the call
// there is no side effect. Ledger writes happen strictly before and after
// this call, never during, so no ledger lock spans provider I/O.
func (e *Executor) Execute(ctx context.Context, r identity.Rail, dest *identity.Destination, amount decimal.Decimal, currency, idempotencyKey string) (*provider.Submission, error) {
	client, ok := e.cfg.Clients[r]
	if !ok {
		return nil, fmt.Errorf("no transfer client configured for rail %s", r)
	}

	start := e.cfg.Clock.Now()
	sub, err := client.SubmitTransfer(ctx, provider.TransferRequest{
		Destination:    dest.Reference,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		metrics.ProviderRequestDuration.WithLabelValues(string(r), "error").Observe(e.cfg.Clock.Since(start).Seconds())
		return nil, err
	}
	metrics.ProviderRequestDuration.WithLabelValues(string(r), "ok").Observe(e.cfg.Clock.Since(start).Seconds())

	if sub.Status == provider.StatusProcessing {
		if confirmer, ok := client.(provider.Confirmer); ok {
			sub = e.awaitConfirmation(ctx, confirmer, sub)
		}
	}
	return sub, nil
}

// awaitConfirmation polls the rail for confirmation until the bounded wait
// expires. Poll errors are logged and tolerated; a failed or unconfirmed
// transfer stays processing and is settled later by reconciliation.
func (e *Executor) awaitConfirmation(ctx context.Context, confirmer provider.Confirmer, sub *provider.Submission) *provider.Submission {
	deadline := e.cfg.Clock.Now().Add(e.cfg.ConfirmWait)

	for e.cfg.Clock.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return sub
		case <-e.cfg.Clock.After(e.cfg.PollInterval):
		}

		confirmed, err := confirmer.Confirmed(ctx, sub.TransferID)
		if err != nil {
			e.log.Warn("settle: confirmation poll failed, leaving transfer processing",
				"transfer_id", sub.TransferID, "error", err)
			return sub
		}
		if confirmed {
			e.log.Info("settle: transfer confirmed within bounded wait",
				"transfer_id", sub.TransferID,
				"wait", e.cfg.Clock.Since(deadline.Add(-e.cfg.ConfirmWait)),
			)
			return &provider.Submission{TransferID: sub.TransferID, Status: provider.StatusCompleted}
		}
	}

	e.log.Debug("settle: confirmation wait expired, transfer stays processing",
		"transfer_id", sub.TransferID)
	return sub
}
