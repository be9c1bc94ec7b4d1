package ratelimitd

import "github.com/rohanverma/ratelimitd/policy"

// Policy, Identity and Algorithm are defined in package policy so that the
// cache, repository, and store layers can depend on them without importing
// this root package. They are re-exported here so application code can
// keep writing ratelimitd.Policy / ratelimitd.Identity.
type (
	Policy   = policy.Policy
	Identity = policy.Identity
	Algorithm = policy.Algorithm
)

const (
	TokenBucket = policy.TokenBucket
	LeakyBucket = policy.LeakyBucket
)

// ComposeKey and ComposeNamespacedKey derive the storage key for
// (policyName, identity); see package policy for the precedence rules.
var (
	ComposeKey          = policy.ComposeKey
	ComposeNamespacedKey = policy.ComposeNamespacedKey
)
