package policy

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for agent policies.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// LoadAll returns every persisted policy. Called once at process start to
// hydrate the in-memory cache.
func (s *Store) LoadAll(ctx context.Context) ([]*AgentPolicy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, frozen, daily_limit_usd, per_call_limit_usd,
		        allowed_endpoints, allowed_payees, updated_at, updated_by
		 FROM agent_policies
		 ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("loading policies: %w", err)
	}
	defer rows.Close()

	var policies []*AgentPolicy
	for rows.Next() {
		p := &AgentPolicy{}
		if err := rows.Scan(
			&p.AgentID, &p.Frozen, &p.DailyLimitUSD, &p.PerCallLimitUSD,
			&p.AllowedEndpoints, &p.AllowedPayees, &p.UpdatedAt, &p.UpdatedBy,
		); err != nil {
			return nil, fmt.Errorf("scanning policy row: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating policy rows: %w", err)
	}
	return policies, nil
}

// Upsert persists the full policy row for its agent.
func (s *Store) Upsert(ctx context.Context, p *AgentPolicy) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_policies
		 (agent_id, frozen, daily_limit_usd, per_call_limit_usd,
		  allowed_endpoints, allowed_payees, updated_at, updated_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (agent_id) DO UPDATE SET
		   frozen = EXCLUDED.frozen,
		   daily_limit_usd = EXCLUDED.daily_limit_usd,
		   per_call_limit_usd = EXCLUDED.per_call_limit_usd,
		   allowed_endpoints = EXCLUDED.allowed_endpoints,
		   allowed_payees = EXCLUDED.allowed_payees,
		   updated_at = EXCLUDED.updated_at,
		   updated_by = EXCLUDED.updated_by`,
		p.AgentID, p.Frozen, p.DailyLimitUSD, p.PerCallLimitUSD,
		p.AllowedEndpoints, p.AllowedPayees, p.UpdatedAt, p.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("upserting policy: %w", err)
	}
	return nil
}
