package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/soundlease/payrail/internal/ledger"
	"github.com/soundlease/payrail/internal/metrics"
	"github.com/soundlease/payrail/internal/notify"
)

// Event types emitted by the transfer providers.
const (
	EventTransferCreated = "transfer.created"
	EventTransferPaid    = "transfer.paid"
	EventTransferFailed  = "transfer.failed"
)

// Event is a provider callback payload.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		TransferID    string `json:"transfer_id"`
		FailureReason string `json:"failure_reason,omitempty"`
	} `json:"data"`
}

// HandlerConfig configures the reconciliation handler.
type HandlerConfig struct {
	Logger   *slog.Logger
	Ledger   ledger.Store
	Notifier notify.Notifier
	Secret   string
}

func (cfg *HandlerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger store is required")
	}
	if cfg.Secret == "" {
		return errors.New("webhook secret is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Noop{}
	}
	return nil
}

// Handler consumes provider callbacks and transitions ledger entries to
// terminal states. Processing is idempotent: replayed events hit the
// ledger's first-terminal-write-wins rule and change nothing.
type Handler struct {
	log *slog.Logger
	cfg HandlerConfig
}

// NewHandler creates a reconciliation handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handler{log: cfg.Logger, cfg: cfg}, nil
}

type ackResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id,omitempty"`
}

// ServeHTTP implements http.Handler. Signature failures get 403 and touch
// no state. Unrecognized event types are acknowledged with 200 so the
// provider does not retry them forever; terminal events with no matching
// ledger entry get 404 so the provider does retry them.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !VerifySignature(r, body, h.cfg.Secret) {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		h.log.Warn("webhook: invalid signature, callback dropped",
			"remote_addr", r.RemoteAddr,
			"body_bytes", len(body),
		)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "malformed").Inc()
		http.Error(w, "malformed event payload", http.StatusBadRequest)
		return
	}

	outcome, status := h.process(r, &event)
	metrics.WebhookEventsTotal.WithLabelValues(event.Type, outcome).Inc()

	if status != http.StatusOK {
		http.Error(w, outcome, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ackResponse{Received: true, EventID: event.ID})
}

// process applies one verified event to the ledger and returns a metric
// outcome label with the HTTP status to answer. Terminal events that cannot
// be applied yet answer non-2xx so the provider redelivers them.
func (h *Handler) process(r *http.Request, event *Event) (string, int) {
	ctx := r.Context()

	switch event.Type {
	case EventTransferCreated:
		// Informational only; ledger state is unchanged.
		h.log.Debug("webhook: transfer created",
			"event_id", event.ID, "transfer_id", event.Data.TransferID)
		return "ignored", http.StatusOK

	case EventTransferPaid:
		entry, applied, err := h.cfg.Ledger.MarkTerminalByProviderTransferID(ctx, event.Data.TransferID, ledger.OutcomeCompleted, "")
		if err != nil {
			return h.recordError(event, err)
		}
		if !applied {
			h.log.Debug("webhook: entry already terminal, callback ignored",
				"event_id", event.ID, "ledger_entry_id", entry.ID, "state", entry.State)
			return "duplicate", http.StatusOK
		}
		h.log.Info("webhook: settlement completed",
			"event_id", event.ID,
			"transfer_id", event.Data.TransferID,
			"ledger_entry_id", entry.ID,
		)
		metrics.SettlementDuration.WithLabelValues(string(entry.Rail)).Observe(entry.CompletedAt.Sub(entry.CreatedAt).Seconds())
		return "applied", http.StatusOK

	case EventTransferFailed:
		entry, applied, err := h.cfg.Ledger.MarkTerminalByProviderTransferID(ctx, event.Data.TransferID, ledger.OutcomeFailed, event.Data.FailureReason)
		if err != nil {
			return h.recordError(event, err)
		}
		if !applied {
			h.log.Debug("webhook: entry already terminal, callback ignored",
				"event_id", event.ID, "ledger_entry_id", entry.ID, "state", entry.State)
			return "duplicate", http.StatusOK
		}
		h.log.Warn("webhook: settlement failed",
			"event_id", event.ID,
			"transfer_id", event.Data.TransferID,
			"ledger_entry_id", entry.ID,
			"reason", event.Data.FailureReason,
		)
		// A failure notice goes to the payee; no automatic retry is
		// created.
		if err := h.cfg.Notifier.SettlementFailed(ctx, entry, event.Data.FailureReason); err != nil {
			h.log.Error("webhook: failed to send failure notification",
				"ledger_entry_id", entry.ID, "error", err)
		}
		return "applied", http.StatusOK

	default:
		h.log.Debug("webhook: ignoring unrecognized event type",
			"event_id", event.ID, "type", event.Type)
		return "ignored", http.StatusOK
	}
}

// recordError maps a reconciliation failure onto a retryable response. A
// terminal callback can arrive before the submitting request records the
// provider transfer id; refusing it makes the provider redeliver after the
// id has landed in the ledger.
func (h *Handler) recordError(event *Event, err error) (string, int) {
	if errors.Is(err, ledger.ErrNotFound) {
		h.log.Warn("webhook: no ledger entry for transfer yet, asking provider to redeliver",
			"event_id", event.ID, "transfer_id", event.Data.TransferID)
		return "unmatched", http.StatusNotFound
	}

	h.log.Error("webhook: failed to reconcile event",
		"event_id", event.ID,
		"transfer_id", event.Data.TransferID,
		"error", err,
	)
	sentry.CaptureException(err)
	return "error", http.StatusInternalServerError
}
