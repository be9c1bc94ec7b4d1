package ratelimitd

import "time"

// Counters reports the outcome of one algorithm evaluation
// Remaining + Used == BurstCapacity within floating rounding.
type Counters struct {
	Limit int64
	Remaining float64
	Used float64
	ResetAfter time.Duration
}

// SlidingWindowSample is an observability snapshot from a policy's
// sliding-window counter. It does not affect admission; the coordinator
// sizes the counter, and reports Window, as the policy's own Window.
type SlidingWindowSample struct {
	Window time.Duration
	Hits float64
	RatePerSecond float64
}

// Decision is the result of one ShouldAllow call
type Decision struct {
	IsAllowed bool
	Counters Counters
	SlidingWindowSample SlidingWindowSample
	RetryAfter time.Duration
	EvaluatedAtTicks int64
}

// Request is the input to ShouldAllow: a policy name, a caller identity,
// and a token cost. Tokens must be >= 1.
type Request struct {
	PolicyName string
	Identity Identity
	Tokens int64
}
