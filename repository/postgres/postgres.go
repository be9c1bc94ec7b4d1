// Package postgres is a reference repository.Repository backed by
// PostgreSQL via pgx's connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rohanverma/ratelimitd/policy"
)

// Repository persists Policy rows in a "rate_limit_policies" table.
type Repository struct {
	pool *pgxpool.Pool
}

// New wraps an existing pgxpool.Pool. The caller owns the pool's lifecycle.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectPoliciesSQL = `
SELECT policy_name, algorithm, permit_limit, window_ms, burst_capacity,
       precision_ms, cooldown_ms, tokens_per_request, sliding_window_enabled
FROM rate_limit_policies
`

// GetPolicies returns every row in rate_limit_policies as stored, without
// checking the algorithm column; the cache's merge step logs and discards
// anything that then fails policy.Policy.Validate.
func (r *Repository) GetPolicies(ctx context.Context) ([]policy.Policy, error) {
	rows, err := r.pool.Query(ctx, selectPoliciesSQL)
	if err != nil {
		return nil, fmt.Errorf("repository/postgres: query policies: %w", err)
	}
	defer rows.Close()

	var out []policy.Policy
	for rows.Next() {
		var (
			name                 string
			algorithm            string
			permitLimit          int64
			windowMs             int64
			burstCapacity        int64
			precisionMs          int64
			cooldownMs           int64
			tokensPerRequest     int64
			slidingWindowEnabled bool
		)
		if err := rows.Scan(&name, &algorithm, &permitLimit, &windowMs, &burstCapacity,
			&precisionMs, &cooldownMs, &tokensPerRequest, &slidingWindowEnabled); err != nil {
			return nil, fmt.Errorf("repository/postgres: scan policy row: %w", err)
		}
		out = append(out, policy.Policy{
			PolicyName:                  name,
			Algorithm:                   policy.Algorithm(algorithm),
			PermitLimit:                 permitLimit,
			Window:                      time.Duration(windowMs) * time.Millisecond,
			BurstCapacity:               burstCapacity,
			Precision:                   time.Duration(precisionMs) * time.Millisecond,
			Cooldown:                    time.Duration(cooldownMs) * time.Millisecond,
			TokensPerRequest:            tokensPerRequest,
			SlidingWindowMetricsEnabled: slidingWindowEnabled,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository/postgres: iterate policy rows: %w", err)
	}
	return out, nil
}

const upsertPolicySQL = `
INSERT INTO rate_limit_policies
	(policy_name, algorithm, permit_limit, window_ms, burst_capacity,
	 precision_ms, cooldown_ms, tokens_per_request, sliding_window_enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (policy_name) DO UPDATE SET
	algorithm = EXCLUDED.algorithm,
	permit_limit = EXCLUDED.permit_limit,
	window_ms = EXCLUDED.window_ms,
	burst_capacity = EXCLUDED.burst_capacity,
	precision_ms = EXCLUDED.precision_ms,
	cooldown_ms = EXCLUDED.cooldown_ms,
	tokens_per_request = EXCLUDED.tokens_per_request,
	sliding_window_enabled = EXCLUDED.sliding_window_enabled
`

// UpsertPolicy creates or replaces the row for p.PolicyName.
func (r *Repository) UpsertPolicy(ctx context.Context, p policy.Policy) error {
	_, err := r.pool.Exec(ctx, upsertPolicySQL,
		p.PolicyName, string(p.Algorithm), p.PermitLimit,
		p.Window.Milliseconds(), p.BurstCapacity, p.Precision.Milliseconds(),
		p.Cooldown.Milliseconds(), p.TokensPerRequest, p.SlidingWindowMetricsEnabled,
	)
	if err != nil {
		return fmt.Errorf("repository/postgres: upsert policy %q: %w", p.PolicyName, err)
	}
	return nil
}
