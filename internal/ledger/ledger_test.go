package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/soundlease/payrail/internal/identity"
)

func testParams(requestID string) CreateParams {
	return CreateParams{
		SettlementRequestID: requestID,
		SaleID:              "sale-001",
		PayeeID:             "payee-001",
		Rail:                identity.RailCardNetwork,
		Amount:              decimal.RequireFromString("70.00"),
		Currency:            "GBP",
	}
}

// runStoreConformance exercises the Store contract shared by every
// implementation.
func runStoreConformance(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and round trip", func(t *testing.T) {
		entry, err := store.Create(ctx, testParams("req-roundtrip"))
		require.NoError(t, err)
		require.Equal(t, StatePending, entry.State)
		require.Nil(t, entry.ProviderTransferID)
		require.Nil(t, entry.CompletedAt)
		require.True(t, entry.Amount.Equal(decimal.RequireFromString("70.00")))

		entry, err = store.MarkSubmitted(ctx, entry.ID, "tr_roundtrip", StateProcessing)
		require.NoError(t, err)
		require.Equal(t, StateProcessing, entry.State)
		require.NotNil(t, entry.ProviderTransferID)
		require.Equal(t, "tr_roundtrip", *entry.ProviderTransferID)

		entry, applied, err := store.MarkTerminalByProviderTransferID(ctx, "tr_roundtrip", OutcomeCompleted, "")
		require.NoError(t, err)
		require.True(t, applied)
		require.Equal(t, StateCompleted, entry.State)
		require.NotNil(t, entry.CompletedAt)

		// Retrievable by entry id, request id, and transfer id with
		// consistent amount and currency.
		byID, err := store.Get(ctx, entry.ID)
		require.NoError(t, err)
		byRequest, err := store.GetBySettlementRequest(ctx, "req-roundtrip")
		require.NoError(t, err)
		byTransfer, err := store.GetByProviderTransferID(ctx, "tr_roundtrip")
		require.NoError(t, err)

		for _, got := range []*Entry{byID, byRequest, byTransfer} {
			require.Equal(t, entry.ID, got.ID)
			require.Equal(t, StateCompleted, got.State)
			require.True(t, got.Amount.Equal(decimal.RequireFromString("70.00")))
			require.Equal(t, "GBP", got.Currency)
		}
	})

	t.Run("duplicate create rejected", func(t *testing.T) {
		_, err := store.Create(ctx, testParams("req-dup"))
		require.NoError(t, err)

		_, err = store.Create(ctx, testParams("req-dup"))
		require.ErrorIs(t, err, ErrDuplicateSettlement)
	})

	t.Run("concurrent creates have one winner", func(t *testing.T) {
		const racers = 16
		var group errgroup.Group
		results := make(chan error, racers)

		for i := 0; i < racers; i++ {
			group.Go(func() error {
				_, err := store.Create(ctx, testParams("req-race"))
				results <- err
				return nil
			})
		}
		require.NoError(t, group.Wait())
		close(results)

		var wins, duplicates int
		for err := range results {
			switch {
			case err == nil:
				wins++
			default:
				require.ErrorIs(t, err, ErrDuplicateSettlement)
				duplicates++
			}
		}
		require.Equal(t, 1, wins)
		require.Equal(t, racers-1, duplicates)
	})

	t.Run("first terminal write wins", func(t *testing.T) {
		entry, err := store.Create(ctx, testParams("req-terminal"))
		require.NoError(t, err)
		_, err = store.MarkSubmitted(ctx, entry.ID, "tr_terminal", StateProcessing)
		require.NoError(t, err)

		first, applied, err := store.MarkTerminal(ctx, entry.ID, OutcomeFailed, "card declined")
		require.NoError(t, err)
		require.True(t, applied)
		require.Equal(t, StateFailed, first.State)
		require.NotNil(t, first.FailureReason)

		// A conflicting late callback must not flip the state.
		second, applied, err := store.MarkTerminal(ctx, entry.ID, OutcomeCompleted, "")
		require.NoError(t, err)
		require.False(t, applied)
		require.Equal(t, StateFailed, second.State)

		// Same for a duplicate of the original outcome.
		third, applied, err := store.MarkTerminalByProviderTransferID(ctx, "tr_terminal", OutcomeFailed, "card declined")
		require.NoError(t, err)
		require.False(t, applied)
		require.Equal(t, StateFailed, third.State)
		require.Equal(t, *first.CompletedAt, *third.CompletedAt)
	})

	t.Run("synchronous rejection terminates pending entry", func(t *testing.T) {
		entry, err := store.Create(ctx, testParams("req-sync-reject"))
		require.NoError(t, err)

		terminated, applied, err := store.MarkTerminal(ctx, entry.ID, OutcomeFailed, "invalid destination")
		require.NoError(t, err)
		require.True(t, applied)
		require.Equal(t, StateFailed, terminated.State)
	})

	t.Run("submitted completed synchronously", func(t *testing.T) {
		entry, err := store.Create(ctx, testParams("req-instant"))
		require.NoError(t, err)

		entry, err = store.MarkSubmitted(ctx, entry.ID, "tr_instant", StateCompleted)
		require.NoError(t, err)
		require.Equal(t, StateCompleted, entry.State)
		require.NotNil(t, entry.CompletedAt)
	})

	t.Run("mark submitted requires pending", func(t *testing.T) {
		entry, err := store.Create(ctx, testParams("req-transitions"))
		require.NoError(t, err)
		_, err = store.MarkSubmitted(ctx, entry.ID, "tr_transitions", StateProcessing)
		require.NoError(t, err)

		_, err = store.MarkSubmitted(ctx, entry.ID, "tr_transitions2", StateProcessing)
		require.ErrorIs(t, err, ErrInvalidTransition)

		_, err = store.MarkSubmitted(ctx, entry.ID, "tr_transitions3", StateFailed)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("lookups for unknown keys", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.New())
		require.ErrorIs(t, err, ErrNotFound)

		_, err = store.GetBySettlementRequest(ctx, "req-missing")
		require.ErrorIs(t, err, ErrNotFound)

		_, err = store.GetByProviderTransferID(ctx, "tr_missing")
		require.ErrorIs(t, err, ErrNotFound)

		_, _, err = store.MarkTerminal(ctx, uuid.New(), OutcomeCompleted, "")
		require.ErrorIs(t, err, ErrNotFound)

		_, _, err = store.MarkTerminalByProviderTransferID(ctx, "tr_missing", OutcomeCompleted, "")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("zero payee share is recordable", func(t *testing.T) {
		// A sub-minor-unit sale can round the payee share down to 0; the
		// entry is still the audit record of the attempt.
		params := testParams("req-zero-share")
		params.Amount = decimal.Zero
		params.Currency = "USD"

		entry, err := store.Create(ctx, params)
		require.NoError(t, err)
		require.True(t, entry.Amount.IsZero())

		entry, err = store.MarkSubmitted(ctx, entry.ID, "tr_zero", StateProcessing)
		require.NoError(t, err)

		entry, applied, err := store.MarkTerminal(ctx, entry.ID, OutcomeCompleted, "")
		require.NoError(t, err)
		require.True(t, applied)
		require.Equal(t, StateCompleted, entry.State)
		require.True(t, entry.Amount.IsZero())
	})

	t.Run("failed entry does not block a new request for the same sale", func(t *testing.T) {
		entry, err := store.Create(ctx, testParams("req-retry-1"))
		require.NoError(t, err)
		_, _, err = store.MarkTerminal(ctx, entry.ID, OutcomeFailed, "declined")
		require.NoError(t, err)

		// Retry uses a fresh settlement request id; history is preserved.
		retry, err := store.Create(ctx, testParams("req-retry-2"))
		require.NoError(t, err)
		require.NotEqual(t, entry.ID, retry.ID)

		original, err := store.GetBySettlementRequest(ctx, "req-retry-1")
		require.NoError(t, err)
		require.Equal(t, StateFailed, original.State)
	})
}
