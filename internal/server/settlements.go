package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/soundlease/payrail/internal/identity"
	"github.com/soundlease/payrail/internal/ledger"
	"github.com/soundlease/payrail/internal/money"
	"github.com/soundlease/payrail/internal/provider"
	"github.com/soundlease/payrail/internal/rail"
	"github.com/soundlease/payrail/internal/royalty"
	"github.com/soundlease/payrail/internal/settle"
)

// CreateSettlementRequest is the body of POST /api/settlements.
type CreateSettlementRequest struct {
	SettlementRequestID string `json:"settlement_request_id"`
	SaleID              string `json:"sale_id"`
	PayeeID             string `json:"payee_id"`
	GrossAmount         string `json:"gross_amount"`
	Currency            string `json:"currency"`
	RequestedMethod     string `json:"requested_method"`
	PayeeRate           string `json:"payee_rate,omitempty"`
}

// SettlementResponse describes a ledger entry to API callers.
type SettlementResponse struct {
	LedgerEntryID       uuid.UUID  `json:"ledger_entry_id"`
	SettlementRequestID string     `json:"settlement_request_id"`
	SaleID              string     `json:"sale_id"`
	PayeeID             string     `json:"payee_id"`
	Rail                string     `json:"rail"`
	Status              string     `json:"status"`
	Amount              string     `json:"amount"`
	Currency            string     `json:"currency"`
	PayeeShare          string     `json:"payee_share,omitempty"`
	PlatformShare       string     `json:"platform_share,omitempty"`
	ProviderTransferID  *string    `json:"provider_transfer_id,omitempty"`
	FailureReason       *string    `json:"failure_reason,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func entryResponse(entry *ledger.Entry) SettlementResponse {
	return SettlementResponse{
		LedgerEntryID:       entry.ID,
		SettlementRequestID: entry.SettlementRequestID,
		SaleID:              entry.SaleID,
		PayeeID:             entry.PayeeID,
		Rail:                string(entry.Rail),
		Status:              string(entry.State),
		Amount:              money.Format(entry.Amount, entry.Currency),
		Currency:            entry.Currency,
		ProviderTransferID:  entry.ProviderTransferID,
		FailureReason:       entry.FailureReason,
		CreatedAt:           entry.CreatedAt,
		CompletedAt:         entry.CompletedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func (s *Server) handleCreateSettlement(w http.ResponseWriter, r *http.Request) {
	var body CreateSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return
	}

	gross, currency, err := money.Parse(body.GrossAmount, body.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
		return
	}

	var payeeRate decimal.Decimal
	if body.PayeeRate != "" {
		payeeRate, err = decimal.NewFromString(body.PayeeRate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_rate", fmt.Sprintf("invalid payee rate %q", body.PayeeRate))
			return
		}
	}

	result, err := s.cfg.Service.Settle(r.Context(), settle.Request{
		SettlementRequestID: body.SettlementRequestID,
		SaleID:              body.SaleID,
		PayeeID:             body.PayeeID,
		GrossAmount:         gross,
		Currency:            currency,
		Method:              rail.Method(body.RequestedMethod),
		PayeeRate:           payeeRate,
	})
	if err != nil {
		s.writeSettleError(w, err)
		return
	}

	resp := entryResponse(result.Entry)
	if !result.Split.PayeeShare.IsZero() || !result.Split.PlatformShare.IsZero() {
		resp.PayeeShare = money.Format(result.Split.PayeeShare, currency)
		resp.PlatformShare = money.Format(result.Split.PlatformShare, currency)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// writeSettleError maps the settlement error taxonomy onto HTTP statuses.
// Eligibility failures carry an actionable message for the payee.
func (s *Server) writeSettleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settle.ErrInvalidRequest),
		errors.Is(err, rail.ErrUnknownMethod),
		errors.Is(err, royalty.ErrInvalidAmount),
		errors.Is(err, royalty.ErrInvalidRate),
		errors.Is(err, royalty.ErrInvalidCurrency):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())

	case errors.Is(err, identity.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown_payee", err.Error())

	case errors.Is(err, rail.ErrIdentityNotVerified):
		writeError(w, http.StatusUnprocessableEntity, "identity_not_verified",
			"the payee must complete identity verification before receiving payouts")

	case errors.Is(err, rail.ErrNoEligibleDestination):
		writeError(w, http.StatusUnprocessableEntity, "no_eligible_destination",
			"the payee must add and verify a payout method for the requested rail")

	case errors.Is(err, ledger.ErrDuplicateSettlement):
		writeError(w, http.StatusConflict, "duplicate_settlement",
			"a settlement attempt already exists for this settlement request")

	case errors.Is(err, provider.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "provider_unavailable",
			"the transfer provider is unavailable; retry with a new settlement request after backoff")

	default:
		s.log.Error("http: settlement failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	entryID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "settlement id must be a UUID")
		return
	}

	entry, err := s.cfg.Ledger.Get(r.Context(), entryID)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no settlement with that id")
		return
	}
	if err != nil {
		s.log.Error("http: settlement lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, entryResponse(entry))
}

// handleLookupSettlement resolves a settlement by settlement_request_id or
// provider_transfer_id query parameter.
func (s *Server) handleLookupSettlement(w http.ResponseWriter, r *http.Request) {
	var entry *ledger.Entry
	var err error

	switch {
	case r.URL.Query().Get("settlement_request_id") != "":
		entry, err = s.cfg.Ledger.GetBySettlementRequest(r.Context(), r.URL.Query().Get("settlement_request_id"))
	case r.URL.Query().Get("provider_transfer_id") != "":
		entry, err = s.cfg.Ledger.GetByProviderTransferID(r.Context(), r.URL.Query().Get("provider_transfer_id"))
	default:
		writeError(w, http.StatusBadRequest, "missing_query",
			"settlement_request_id or provider_transfer_id query parameter is required")
		return
	}

	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no settlement matches the query")
		return
	}
	if err != nil {
		s.log.Error("http: settlement lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, entryResponse(entry))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Ledger.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "ledger": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
