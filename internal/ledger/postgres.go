package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore is the production Store. The unique index on
// settlement_request_id makes Create an atomic check-and-insert, and
// conditional UPDATEs make terminal transitions first-writer-wins without
// holding any lock across provider I/O.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a ledger store over the given pool. Migrations
// are managed separately by the config package.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const entryColumns = `
	id, settlement_request_id, sale_id, payee_id, rail,
	provider_transfer_id, state, amount::text, currency,
	failure_reason, created_at, completed_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var entry Entry
	var amount string
	err := row.Scan(
		&entry.ID,
		&entry.SettlementRequestID,
		&entry.SaleID,
		&entry.PayeeID,
		&entry.Rail,
		&entry.ProviderTransferID,
		&entry.State,
		&amount,
		&entry.Currency,
		&entry.FailureReason,
		&entry.CreatedAt,
		&entry.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored amount %q: %w", amount, err)
	}
	return &entry, nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, params CreateParams) (*Entry, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, settlement_request_id, sale_id, payee_id, rail, state, amount, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)
		ON CONFLICT (settlement_request_id) DO NOTHING
		RETURNING `+entryColumns,
		uuid.New(),
		params.SettlementRequestID,
		params.SaleID,
		params.PayeeID,
		string(params.Rail),
		string(StatePending),
		params.Amount.String(),
		params.Currency,
	)

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDuplicateSettlement
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return entry, nil
}

// MarkSubmitted implements Store.
func (s *PostgresStore) MarkSubmitted(ctx context.Context, entryID uuid.UUID, providerTransferID string, status State) (*Entry, error) {
	if status != StateProcessing && status != StateCompleted {
		return nil, ErrInvalidTransition
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE ledger_entries
		SET provider_transfer_id = $2,
		    state = $3,
		    completed_at = CASE WHEN $3 = 'completed' THEN now() END
		WHERE id = $1 AND state = 'pending'
		RETURNING `+entryColumns,
		entryID, providerTransferID, string(status),
	)

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// The entry exists in another state or not at all.
		if _, getErr := s.Get(ctx, entryID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark ledger entry submitted: %w", err)
	}
	return entry, nil
}

// MarkTerminal implements Store.
func (s *PostgresStore) MarkTerminal(ctx context.Context, entryID uuid.UUID, outcome Outcome, reason string) (*Entry, bool, error) {
	return s.markTerminal(ctx, "id = $1", entryID, outcome, reason)
}

// MarkTerminalByProviderTransferID implements Store.
func (s *PostgresStore) MarkTerminalByProviderTransferID(ctx context.Context, transferID string, outcome Outcome, reason string) (*Entry, bool, error) {
	return s.markTerminal(ctx, "provider_transfer_id = $1", transferID, outcome, reason)
}

func (s *PostgresStore) markTerminal(ctx context.Context, where string, key any, outcome Outcome, reason string) (*Entry, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE ledger_entries
		SET state = $2,
		    failure_reason = NULLIF($3, ''),
		    completed_at = now()
		WHERE `+where+` AND state IN ('pending', 'processing')
		RETURNING `+entryColumns,
		key, string(outcome.State()), reason,
	)

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either already terminal (idempotent no-op) or unknown.
		existing, getErr := s.getWhere(ctx, where, key)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to mark ledger entry terminal: %w", err)
	}
	return entry, true, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, entryID uuid.UUID) (*Entry, error) {
	return s.getWhere(ctx, "id = $1", entryID)
}

// GetBySettlementRequest implements Store.
func (s *PostgresStore) GetBySettlementRequest(ctx context.Context, settlementRequestID string) (*Entry, error) {
	return s.getWhere(ctx, "settlement_request_id = $1", settlementRequestID)
}

// GetByProviderTransferID implements Store.
func (s *PostgresStore) GetByProviderTransferID(ctx context.Context, transferID string) (*Entry, error) {
	return s.getWhere(ctx, "provider_transfer_id = $1", transferID)
}

func (s *PostgresStore) getWhere(ctx context.Context, where string, key any) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE `+where, key)

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ledger entry: %w", err)
	}
	return entry, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
