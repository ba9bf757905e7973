package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/soundlease/payrail/internal/identity"
	"github.com/soundlease/payrail/internal/ledger"
	"github.com/soundlease/payrail/internal/testutil"
)

const testSecret = "whsec_test"

type recordingNotifier struct {
	mu     sync.Mutex
	faults []string
}

func (n *recordingNotifier) SettlementFailed(_ context.Context, _ *ledger.Entry, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faults = append(n.faults, reason)
	return nil
}

type handlerFixture struct {
	handler  *Handler
	store    *ledger.MemoryStore
	notifier *recordingNotifier
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	store := ledger.NewMemoryStore(clockwork.NewRealClock())
	notifier := &recordingNotifier{}
	handler, err := NewHandler(HandlerConfig{
		Logger:   testutil.NewLogger(),
		Ledger:   store,
		Notifier: notifier,
		Secret:   testSecret,
	})
	require.NoError(t, err)
	return &handlerFixture{handler: handler, store: store, notifier: notifier}
}

// processingEntry seeds an entry that has been submitted to a provider.
func (f *handlerFixture) processingEntry(t *testing.T, requestID, transferID string) *ledger.Entry {
	t.Helper()
	ctx := context.Background()

	entry, err := f.store.Create(ctx, ledger.CreateParams{
		SettlementRequestID: requestID,
		SaleID:              "sale-1",
		PayeeID:             "payee-1",
		Rail:                identity.RailCardNetwork,
		Amount:              decimal.RequireFromString("70.00"),
		Currency:            "GBP",
	})
	require.NoError(t, err)
	entry, err = f.store.MarkSubmitted(ctx, entry.ID, transferID, ledger.StateProcessing)
	require.NoError(t, err)
	return entry
}

func (f *handlerFixture) deliver(t *testing.T, event map[string]any, sign bool) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(event)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/webhooks/transfers", bytes.NewReader(body))
	if sign {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		r.Header.Set(TimestampHeader, timestamp)
		r.Header.Set(SignatureHeader, Sign(timestamp, body, testSecret))
	}

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func paidEvent(transferID string) map[string]any {
	return map[string]any{
		"id":   "evt_" + transferID,
		"type": EventTransferPaid,
		"data": map[string]any{"transfer_id": transferID},
	}
}

func failedEvent(transferID, reason string) map[string]any {
	return map[string]any{
		"id":   "evt_" + transferID,
		"type": EventTransferFailed,
		"data": map[string]any{"transfer_id": transferID, "failure_reason": reason},
	}
}

func TestPayrail_Webhook_Handler_TransferPaidCompletesEntry(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	entry := f.processingEntry(t, "req-1", "tr_1")

	w := f.deliver(t, paidEvent("tr_1"), true)
	require.Equal(t, http.StatusOK, w.Code)

	var ack ackResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	require.True(t, ack.Received)

	updated, err := f.store.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StateCompleted, updated.State)
	require.NotNil(t, updated.CompletedAt)
}

func TestPayrail_Webhook_Handler_TransferFailedNotifiesPayee(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	entry := f.processingEntry(t, "req-2", "tr_2")

	w := f.deliver(t, failedEvent("tr_2", "destination account closed"), true)
	require.Equal(t, http.StatusOK, w.Code)

	updated, err := f.store.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StateFailed, updated.State)
	require.NotNil(t, updated.FailureReason)
	require.Equal(t, "destination account closed", *updated.FailureReason)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Equal(t, []string{"destination account closed"}, f.notifier.faults)
}

func TestPayrail_Webhook_Handler_InvalidSignatureLeavesLedgerUntouched(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	entry := f.processingEntry(t, "req-3", "tr_3")

	w := f.deliver(t, paidEvent("tr_3"), false)
	require.Equal(t, http.StatusForbidden, w.Code)

	unchanged, err := f.store.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StateProcessing, unchanged.State)
	require.Nil(t, unchanged.CompletedAt)
}

func TestPayrail_Webhook_Handler_ReplayedCallbackIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	entry := f.processingEntry(t, "req-4", "tr_4")

	for i := 0; i < 3; i++ {
		w := f.deliver(t, paidEvent("tr_4"), true)
		require.Equal(t, http.StatusOK, w.Code)
	}

	updated, err := f.store.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StateCompleted, updated.State)
}

func TestPayrail_Webhook_Handler_ConflictingCallbacksFirstWriterWins(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	entry := f.processingEntry(t, "req-5", "tr_5")

	w := f.deliver(t, failedEvent("tr_5", "insufficient funds at provider"), true)
	require.Equal(t, http.StatusOK, w.Code)

	// A delayed success callback for the same transfer must not flip the
	// failed entry, and must not notify again.
	w = f.deliver(t, paidEvent("tr_5"), true)
	require.Equal(t, http.StatusOK, w.Code)

	updated, err := f.store.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StateFailed, updated.State)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.faults, 1)
}

func TestPayrail_Webhook_Handler_UnrecognizedEventAcknowledged(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	event := map[string]any{
		"id":   "evt_balance",
		"type": "balance.updated",
		"data": map[string]any{},
	}
	w := f.deliver(t, event, true)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPayrail_Webhook_Handler_TransferCreatedIsInformational(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	entry := f.processingEntry(t, "req-6", "tr_6")

	event := map[string]any{
		"id":   "evt_created",
		"type": EventTransferCreated,
		"data": map[string]any{"transfer_id": "tr_6"},
	}
	w := f.deliver(t, event, true)
	require.Equal(t, http.StatusOK, w.Code)

	unchanged, err := f.store.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StateProcessing, unchanged.State)
}

func TestPayrail_Webhook_Handler_UnmatchedTransferRefused(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	// Terminal callbacks with no matching ledger entry are refused so the
	// provider keeps redelivering them.
	w := f.deliver(t, paidEvent("tr_unknown"), true)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = f.deliver(t, failedEvent("tr_unknown", "destination account closed"), true)
	require.Equal(t, http.StatusNotFound, w.Code)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Empty(t, f.notifier.faults)
}

func TestPayrail_Webhook_Handler_CallbackBeforeSubmissionRecorded(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	ctx := context.Background()

	// The paid callback can race the submitting request: the entry exists
	// but its provider transfer id has not been recorded yet.
	entry, err := f.store.Create(ctx, ledger.CreateParams{
		SettlementRequestID: "req-early",
		SaleID:              "sale-1",
		PayeeID:             "payee-1",
		Rail:                identity.RailStablecoin,
		Amount:              decimal.RequireFromString("70.00"),
		Currency:            "GBP",
	})
	require.NoError(t, err)

	w := f.deliver(t, paidEvent("tr_early"), true)
	require.Equal(t, http.StatusNotFound, w.Code)

	pending, err := f.store.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatePending, pending.State)

	// Once the transfer id lands, the provider's redelivery applies.
	_, err = f.store.MarkSubmitted(ctx, entry.ID, "tr_early", ledger.StateProcessing)
	require.NoError(t, err)

	w = f.deliver(t, paidEvent("tr_early"), true)
	require.Equal(t, http.StatusOK, w.Code)

	completed, err := f.store.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StateCompleted, completed.State)
	require.NotNil(t, completed.CompletedAt)
}

func TestPayrail_Webhook_Handler_MalformedBody(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	body := []byte("{not json")
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/transfers", bytes.NewReader(body))
	r.Header.Set(TimestampHeader, timestamp)
	r.Header.Set(SignatureHeader, Sign(timestamp, body, testSecret))

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPayrail_Webhook_Handler_ManyCallbacksConcurrently(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	const entries = 10
	for i := 0; i < entries; i++ {
		f.processingEntry(t, fmt.Sprintf("req-c-%d", i), fmt.Sprintf("tr_c_%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < entries; i++ {
		transferID := fmt.Sprintf("tr_c_%d", i)
		// Deliver a success and a duplicate concurrently for each entry.
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w := f.deliver(t, paidEvent(transferID), true)
				require.Equal(t, http.StatusOK, w.Code)
			}()
		}
	}
	wg.Wait()

	for i := 0; i < entries; i++ {
		entry, err := f.store.GetByProviderTransferID(context.Background(), fmt.Sprintf("tr_c_%d", i))
		require.NoError(t, err)
		require.Equal(t, ledger.StateCompleted, entry.State)
	}
}
