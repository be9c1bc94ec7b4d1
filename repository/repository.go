// Package repository defines the policy-persistence contract the cache
// refreshes against.
package repository

import (
	"context"
	"fmt"

	"github.com/rohanverma/ratelimitd/policy"
)

// Repository persists Policy definitions outside of static configuration.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetPolicies returns every persisted policy. Called by the cache on
	// every refresh; implementations should be reasonably cheap to call
	// on a timer.
	GetPolicies(ctx context.Context) ([]policy.Policy, error)

	// UpsertPolicy creates or replaces a policy by name.
	UpsertPolicy(ctx context.Context, p policy.Policy) error
}

// RepositoryError records that a policy refresh failed. The previous cache
// snapshot is retained; this error is logged and never propagated to
// ShouldAllow callers.
type RepositoryError struct {
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository: refresh error: %v", e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }
