package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for session snapshots.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Upsert writes the session's cumulative totals, replacing any prior row.
func (s *Store) Upsert(ctx context.Context, snap *Snapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_snapshots (session_id, total_spend_usd, paid_calls, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET
			total_spend_usd = EXCLUDED.total_spend_usd,
			paid_calls = EXCLUDED.paid_calls,
			updated_at = EXCLUDED.updated_at`,
		snap.SessionID, snap.TotalSpendUSD, snap.PaidCalls, snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting session snapshot: %w", err)
	}
	return nil
}

// Get returns the snapshot for a session, or nil if none exists.
func (s *Store) Get(ctx context.Context, sessionID string) (*Snapshot, error) {
	var snap Snapshot
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, total_spend_usd, paid_calls, updated_at
		FROM session_snapshots
		WHERE session_id = $1`,
		sessionID,
	).Scan(&snap.SessionID, &snap.TotalSpendUSD, &snap.PaidCalls, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching session snapshot: %w", err)
	}
	return &snap, nil
}
