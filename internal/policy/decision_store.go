package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DecisionStore provides database operations for the policy decision log.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a new DecisionStore backed by the given pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// BatchInsert appends a batch of decision records in a single multi-row
// INSERT. It is a no-op when recs is empty.
func (s *DecisionStore) BatchInsert(ctx context.Context, recs []DecisionRecord) error {
	if len(recs) == 0 {
		return nil
	}

	const cols = 13
	args := make([]any, 0, len(recs)*cols)
	rows := make([]string, 0, len(recs))

	for i, rec := range recs {
		base := i * cols
		rows = append(rows, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
			base+8, base+9, base+10, base+11, base+12, base+13,
		))
		args = append(args,
			rec.TraceID,
			rec.SessionID,
			rec.AgentID,
			rec.Endpoint,
			rec.QuotedPriceUSD,
			rec.Decision,
			rec.Code,
			rec.Reason,
			rec.SpentTodayUSD,
			rec.ReservedUSD,
			rec.RemainingDailyUSD,
			rec.BudgetBeforeUSD,
			rec.CreatedAt,
		)
	}

	query := `INSERT INTO policy_decisions
		(trace_id, session_id, agent_id, endpoint, quoted_price_usd, decision,
		 code, reason, spent_today_usd, reserved_usd, remaining_daily_usd,
		 budget_before_usd, created_at)
		VALUES ` + strings.Join(rows, ", ")

	_, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("batch inserting policy decisions: %w", err)
	}
	return nil
}

// ListRecent returns the newest decision records, most recent first.
func (s *DecisionStore) ListRecent(ctx context.Context, limit int) ([]*DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT trace_id, session_id, agent_id, endpoint, quoted_price_usd,
		        decision, code, reason, spent_today_usd, reserved_usd,
		        remaining_daily_usd, budget_before_usd, created_at
		 FROM policy_decisions
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing policy decisions: %w", err)
	}
	defer rows.Close()

	var recs []*DecisionRecord
	for rows.Next() {
		rec := &DecisionRecord{}
		if err := rows.Scan(
			&rec.TraceID, &rec.SessionID, &rec.AgentID, &rec.Endpoint,
			&rec.QuotedPriceUSD, &rec.Decision, &rec.Code, &rec.Reason,
			&rec.SpentTodayUSD, &rec.ReservedUSD, &rec.RemainingDailyUSD,
			&rec.BudgetBeforeUSD, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning policy decision row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
