package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// MemoryStore is an in-process Store for tests and dev mode. A single mutex
// guards the check-and-insert in Create, giving the same atomicity the
// postgres store gets from its unique index.
type MemoryStore struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	byID       map[uuid.UUID]*Entry
	byRequest  map[string]uuid.UUID
	byTransfer map[string]uuid.UUID
}

// NewMemoryStore creates an empty in-memory ledger using the given clock
// for entry timestamps.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		clock:      clock,
		byID:       make(map[uuid.UUID]*Entry),
		byRequest:  make(map[string]uuid.UUID),
		byTransfer: make(map[string]uuid.UUID),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, params CreateParams) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byRequest[params.SettlementRequestID]; exists {
		return nil, ErrDuplicateSettlement
	}

	entry := &Entry{
		ID:                  uuid.New(),
		SettlementRequestID: params.SettlementRequestID,
		SaleID:              params.SaleID,
		PayeeID:             params.PayeeID,
		Rail:                params.Rail,
		State:               StatePending,
		Amount:              params.Amount,
		Currency:            params.Currency,
		CreatedAt:           s.clock.Now().UTC(),
	}
	s.byID[entry.ID] = entry
	s.byRequest[entry.SettlementRequestID] = entry.ID
	return copyEntry(entry), nil
}

// MarkSubmitted implements Store.
func (s *MemoryStore) MarkSubmitted(_ context.Context, entryID uuid.UUID, providerTransferID string, status State) (*Entry, error) {
	if status != StateProcessing && status != StateCompleted {
		return nil, ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[entryID]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.State != StatePending {
		return nil, ErrInvalidTransition
	}

	entry.ProviderTransferID = &providerTransferID
	entry.State = status
	if status == StateCompleted {
		now := s.clock.Now().UTC()
		entry.CompletedAt = &now
	}
	s.byTransfer[providerTransferID] = entry.ID
	return copyEntry(entry), nil
}

// MarkTerminal implements Store.
func (s *MemoryStore) MarkTerminal(_ context.Context, entryID uuid.UUID, outcome Outcome, reason string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[entryID]
	if !ok {
		return nil, false, ErrNotFound
	}
	updated, applied := s.markTerminalLocked(entry, outcome, reason)
	return updated, applied, nil
}

// MarkTerminalByProviderTransferID implements Store.
func (s *MemoryStore) MarkTerminalByProviderTransferID(_ context.Context, transferID string, outcome Outcome, reason string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.byTransfer[transferID]
	if !ok {
		return nil, false, ErrNotFound
	}
	updated, applied := s.markTerminalLocked(s.byID[entryID], outcome, reason)
	return updated, applied, nil
}

// markTerminalLocked applies a terminal transition under the store lock.
// First terminal write wins; later writes return the entry unchanged.
func (s *MemoryStore) markTerminalLocked(entry *Entry, outcome Outcome, reason string) (*Entry, bool) {
	if entry.State.Terminal() {
		return copyEntry(entry), false
	}

	entry.State = outcome.State()
	now := s.clock.Now().UTC()
	entry.CompletedAt = &now
	if reason != "" {
		entry.FailureReason = &reason
	}
	return copyEntry(entry), true
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, entryID uuid.UUID) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[entryID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(entry), nil
}

// GetBySettlementRequest implements Store.
func (s *MemoryStore) GetBySettlementRequest(_ context.Context, settlementRequestID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.byRequest[settlementRequestID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(s.byID[entryID]), nil
}

// GetByProviderTransferID implements Store.
func (s *MemoryStore) GetByProviderTransferID(_ context.Context, transferID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.byTransfer[transferID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(s.byID[entryID]), nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() {}

func copyEntry(entry *Entry) *Entry {
	copied := *entry
	if entry.ProviderTransferID != nil {
		v := *entry.ProviderTransferID
		copied.ProviderTransferID = &v
	}
	if entry.FailureReason != nil {
		v := *entry.FailureReason
		copied.FailureReason = &v
	}
	if entry.CompletedAt != nil {
		v := *entry.CompletedAt
		copied.CompletedAt = &v
	}
	return &copied
}
