package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestPayrail_Ledger_MemoryStore_Conformance(t *testing.T) {
	t.Parallel()
	runStoreConformance(t, NewMemoryStore(clockwork.NewRealClock()))
}

func TestPayrail_Ledger_MemoryStore_ClockTimestamps(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	store := NewMemoryStore(clock)
	ctx := context.Background()

	entry, err := store.Create(ctx, testParams("req-clock"))
	require.NoError(t, err)
	require.Equal(t, start, entry.CreatedAt)

	clock.Advance(3 * time.Second)
	_, err = store.MarkSubmitted(ctx, entry.ID, "tr_clock", StateProcessing)
	require.NoError(t, err)

	clock.Advance(7 * time.Second)
	entry, applied, err := store.MarkTerminal(ctx, entry.ID, OutcomeCompleted, "")
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, start.Add(10*time.Second), *entry.CompletedAt)
}

func TestPayrail_Ledger_MemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(clockwork.NewRealClock())
	ctx := context.Background()

	entry, err := store.Create(ctx, testParams("req-copies"))
	require.NoError(t, err)

	// Mutating the returned entry must not leak into the store.
	entry.State = StateCompleted
	entry.SaleID = "tampered"

	stored, err := store.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, StatePending, stored.State)
	require.Equal(t, "sale-001", stored.SaleID)
}
