// Package postgres is a reference audit.Sink backed by PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rohanverma/ratelimitd/audit"
)

// Sink appends audit entries to a "rate_limit_audit_log" table.
type Sink struct {
	pool *pgxpool.Pool
}

// New wraps an existing pgxpool.Pool. The caller owns the pool's lifecycle.
func New(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool}
}

const insertEntrySQL = `
INSERT INTO rate_limit_audit_log
	(policy_name, identity_key, allowed, permit_limit, remaining, retry_after_ms, endpoint, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// Insert appends e. Callers should bound ctx with a short timeout since
// this runs on the coordinator's deny path.
func (s *Sink) Insert(ctx context.Context, e audit.Entry) error {
	_, err := s.pool.Exec(ctx, insertEntrySQL,
		e.PolicyName, e.IdentityKey, e.Allowed, e.Limit, e.Remaining,
		e.RetryAfterMillis, e.Endpoint, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("audit/postgres: insert entry: %w", err)
	}
	return nil
}
