// Package policy defines the Policy and Identity value objects and the
// pure functions over them (validation, storage-key composition). It has
// no dependency on the store, cache, or coordinator so that every layer
// that needs a Policy — the cache, the repository adapters, the
// coordinator — can import it without creating a cycle back to the root
// package.
package policy

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for policy-level validation and configuration failures.
// Callers should prefer errors.Is/errors.As over string matching.
var (
	// ErrValidation is returned when a Policy or a request fails validation.
	// Fails fast; never retried.
	ErrValidation = errors.New("policy: validation error")

	// ErrConfig is returned when configuration is unusable at startup.
	// Aborts initialization.
	ErrConfig = errors.New("policy: config error")
)

// ValidationError describes why a Policy or request was rejected.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("policy: validation error: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func newValidationError(field string, value any, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// ConfigError describes why a policy configuration could not be used.
type ConfigError struct {
	PolicyName string
	Reason     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("policy: config error: policy %q: %s", e.PolicyName, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// NewConfigError constructs a ConfigError.
func NewConfigError(policyName, reason string) *ConfigError {
	return &ConfigError{PolicyName: policyName, Reason: reason}
}

// Algorithm selects the evaluation strategy a Policy uses.
type Algorithm string

const (
	// TokenBucket refills continuously at PermitLimit/Window and admits
	// while Tokens >= requested.
	TokenBucket Algorithm = "token_bucket"

	// LeakyBucket drains continuously at PermitLimit/Window and admits
	// while WaterLevel+requested <= BurstCapacity.
	LeakyBucket Algorithm = "leaky_bucket"
)

// Identity carries up to four optional caller-identity components. Zero or
// more may be set; ComposeKey picks the single most specific one by
// precedence.
type Identity struct {
	ApiKey              string
	UserId              string
	IpAddress           string
	CustomDiscriminator string
}

// ComposeKey derives the storage key for (policyName, identity): select the
// most specific identity component by precedence CustomDiscriminator ->
// ApiKey -> UserId -> IpAddress -> "anon", then emit
// "{policyName}:{prefix}{component}". Encoding is the unmodified byte
// sequence of the inputs; sanitizing untrusted identity bytes is the
// caller's responsibility.
//
// ComposeKey is a total, deterministic function: the same (policyName,
// identity) always yields a byte-identical key.
func ComposeKey(policyName string, identity Identity) string {
	switch {
	case identity.CustomDiscriminator != "":
		return policyName + ":" + identity.CustomDiscriminator
	case identity.ApiKey != "":
		return policyName + ":api:" + identity.ApiKey
	case identity.UserId != "":
		return policyName + ":user:" + identity.UserId
	case identity.IpAddress != "":
		return policyName + ":ip:" + identity.IpAddress
	default:
		return policyName + ":anon"
	}
}

// ComposeNamespacedKey prepends a global key prefix (from configuration) to
// a key composed by ComposeKey, separated by ":". An empty prefix leaves
// the key unchanged.
func ComposeNamespacedKey(prefix, policyName string, identity Identity) string {
	key := ComposeKey(policyName, identity)
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}

// Policy is an immutable description of a rate-limit policy.
// Policies are never mutated in place; the cache replaces them wholesale.
type Policy struct {
	// PolicyName uniquely identifies the policy. Lookups in the cache are
	// case-insensitive, but the name is preserved verbatim here and in the
	// composed storage key.
	PolicyName string

	// Algorithm selects Token Bucket or Leaky Bucket evaluation.
	Algorithm Algorithm

	// PermitLimit is the steady-state rate per Window. Must be positive.
	PermitLimit int64

	// Window is the steady-state accounting window. Must be positive.
	Window time.Duration

	// BurstCapacity is the maximum instantaneous tokens/water level. A
	// value <= 0 is treated as unset and resolves to PermitLimit.
	BurstCapacity int64

	// Precision is the minimum retry/reset granularity. Must be positive.
	Precision time.Duration

	// Cooldown, if set, is a floor applied to RetryAfter on denial. Must
	// be positive when present; the zero value means "not set".
	Cooldown time.Duration

	// TokensPerRequest scales the cost of every request made against this
	// policy. Must be positive.
	TokensPerRequest int64

	// SlidingWindowMetricsEnabled gates whether the coordinator feeds an
	// observability sample into this policy's sliding-window counter.
	SlidingWindowMetricsEnabled bool

	// LimitOverride, if non-nil, is consulted per request and may
	// substitute PermitLimit for a specific caller. Returning ok=false
	// falls back to PermitLimit.
	LimitOverride func(identity Identity) (permitLimit int64, ok bool)
}

// ResolvedBurstCapacity returns BurstCapacity defaulted to PermitLimit:
// BurstCapacity <= 0, or below PermitLimit, is treated as unset.
func (p Policy) ResolvedBurstCapacity() int64 {
	if p.BurstCapacity <= 0 {
		return p.PermitLimit
	}
	if p.BurstCapacity < p.PermitLimit {
		return p.PermitLimit
	}
	return p.BurstCapacity
}

// ResolvedPermitLimit applies LimitOverride for identity, falling back to
// PermitLimit when the override is nil or declines to apply.
func (p Policy) ResolvedPermitLimit(identity Identity) int64 {
	if p.LimitOverride != nil {
		if v, ok := p.LimitOverride(identity); ok && v > 0 {
			return v
		}
	}
	return p.PermitLimit
}

// Validate checks a Policy's fields, returning a *ValidationError (wrapping
// ErrValidation) describing the first violation found. Validate is
// idempotent since Policy is immutable and Validate consults only its own
// fields.
func (p Policy) Validate() error {
	if p.PolicyName == "" {
		return newValidationError("PolicyName", p.PolicyName, "must not be empty")
	}
	if p.PermitLimit <= 0 {
		return newValidationError("PermitLimit", p.PermitLimit, "must be positive")
	}
	if p.Window <= 0 {
		return newValidationError("Window", p.Window, "must be positive")
	}
	if p.Precision <= 0 {
		return newValidationError("Precision", p.Precision, "must be positive")
	}
	if p.Cooldown < 0 {
		return newValidationError("Cooldown", p.Cooldown, "must be positive when set")
	}
	if p.TokensPerRequest <= 0 {
		return newValidationError("TokensPerRequest", p.TokensPerRequest, "must be positive")
	}
	switch p.Algorithm {
	case TokenBucket, LeakyBucket:
	default:
		return newValidationError("Algorithm", p.Algorithm, "must be token_bucket or leaky_bucket")
	}
	return nil
}

// WithResolvedDefaults returns a copy of p with BurstCapacity defaulted to
// PermitLimit when unset. Callers that hold onto a Policy across the cache
// boundary should call this once (the cache does so on load) rather than
// calling ResolvedBurstCapacity() repeatedly on the hot path.
func (p Policy) WithResolvedDefaults() Policy {
	p.BurstCapacity = p.ResolvedBurstCapacity()
	return p
}
