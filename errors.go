package ratelimitd

import (
	"errors"

	"github.com/rohanverma/ratelimitd/audit"
	"github.com/rohanverma/ratelimitd/policy"
	"github.com/rohanverma/ratelimitd/repository"
	"github.com/rohanverma/ratelimitd/store"
)

// ErrValidation and ErrConfig are defined in package policy; ValidationError
// and ConfigError are re-exported here for callers that only import the
// root package.
var (
	ErrValidation = policy.ErrValidation
	ErrConfig     = policy.ErrConfig

	// ErrCancelled wraps context cancellation/deadline errors observed
	// during a suspension point. Propagated unchanged to the caller.
	ErrCancelled = errors.New("ratelimitd: cancelled")
)

type (
	ValidationError     = policy.ValidationError
	ConfigError         = policy.ConfigError
	TransientStoreError = store.TransientStoreError
	RepositoryError     = repository.RepositoryError
	AuditError          = audit.AuditError
)
