package settle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the settlement log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// settlementColumns is the full list of columns used in SELECT statements.
const settlementColumns = `id, session_id, trace_id, agent_id, endpoint, method,
	amount_usd, network, payee, receipt_ref, tx_hash, settle_payer,
	settle_network, settled_at, latency_ms, success, error`

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var r Receipt
	err := row.Scan(
		&r.ID,
		&r.SessionID,
		&r.TraceID,
		&r.AgentID,
		&r.Endpoint,
		&r.Method,
		&r.AmountUSD,
		&r.Network,
		&r.Payee,
		&r.ReceiptRef,
		&r.TxHash,
		&r.SettlePayer,
		&r.SettleNetwork,
		&r.SettledAt,
		&r.LatencyMs,
		&r.Success,
		&r.Error,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Insert appends one receipt to the settlement log. The receipt's ID is
// assigned here if empty.
func (s *Store) Insert(ctx context.Context, r *Receipt) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlements
		 (id, session_id, trace_id, agent_id, endpoint, method, amount_usd,
		  network, payee, receipt_ref, tx_hash, settle_payer, settle_network,
		  settled_at, latency_ms, success, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		r.ID, r.SessionID, r.TraceID, r.AgentID, r.Endpoint, r.Method, r.AmountUSD,
		r.Network, r.Payee, r.ReceiptRef, r.TxHash, r.SettlePayer, r.SettleNetwork,
		r.SettledAt, r.LatencyMs, r.Success, r.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting settlement: %w", err)
	}
	return nil
}

// SpentSince returns the sum of successful settlement amounts for the agent
// from the given instant onward.
func (s *Store) SpentSince(ctx context.Context, agentID string, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_usd), 0)
		 FROM settlements
		 WHERE agent_id = $1 AND success AND settled_at >= $2`,
		agentID, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing settled spend: %w", err)
	}
	return total, nil
}

// SessionTotals recomputes a session's successful spend and paid-call count
// directly from the settlement log.
func (s *Store) SessionTotals(ctx context.Context, sessionID string) (totalUSD float64, paidCalls int64, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_usd), 0), COUNT(*)
		 FROM settlements
		 WHERE session_id = $1 AND success`,
		sessionID,
	).Scan(&totalUSD, &paidCalls)
	if err != nil {
		return 0, 0, fmt.Errorf("summing session spend: %w", err)
	}
	return totalUSD, paidCalls, nil
}

// ListBySession returns the most recent receipts for a session, newest first.
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+settlementColumns+`
		 FROM settlements
		 WHERE session_id = $1
		 ORDER BY settled_at DESC, id DESC
		 LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing session settlements: %w", err)
	}
	defer rows.Close()

	return collectReceipts(rows)
}

// ListRecent returns the most recent receipts across all sessions.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+settlementColumns+`
		 FROM settlements
		 ORDER BY settled_at DESC, id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing settlements: %w", err)
	}
	defer rows.Close()

	return collectReceipts(rows)
}

func collectReceipts(rows pgx.Rows) ([]*Receipt, error) {
	var receipts []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning settlement row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settlement rows: %w", err)
	}
	return receipts, nil
}
