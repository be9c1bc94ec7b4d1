package ratelimitd

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rohanverma/ratelimitd/audit"
	"github.com/rohanverma/ratelimitd/cache"
	"github.com/rohanverma/ratelimitd/clock"
	"github.com/rohanverma/ratelimitd/policy"
	"github.com/rohanverma/ratelimitd/slidingwindow"
	"github.com/rohanverma/ratelimitd/store"
)

// Coordinator is the single entry point applications call to make
// admission decisions. It composes the policy cache, the atomic store
// evaluator, per-policy sliding-window observability counters, and an
// optional audit sink.
type Coordinator struct {
	cache     *cache.Cache
	evaluator *store.Evaluator
	clock     clock.Clock
	auditSink audit.Sink
	logger    zerolog.Logger

	keyPrefix string

	windowMu sync.RWMutex
	windows  map[string]*slidingwindow.Counter

	windowBuckets int
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock overrides the tick source. Defaults to clock.New() (wall clock).
func WithClock(c clock.Clock) CoordinatorOption {
	return func(co *Coordinator) { co.clock = c }
}

// WithAuditSink attaches a best-effort audit sink invoked on deny decisions.
func WithAuditSink(sink audit.Sink) CoordinatorOption {
	return func(co *Coordinator) { co.auditSink = sink }
}

// WithCoordinatorLogger sets the logger used for evaluator and audit
// failures. Defaults to a disabled logger.
func WithCoordinatorLogger(logger zerolog.Logger) CoordinatorOption {
	return func(co *Coordinator) { co.logger = logger }
}

// WithKeyPrefix namespaces every composed storage key, e.g. by
// environment or tenant. Defaults to no prefix.
func WithKeyPrefix(prefix string) CoordinatorOption {
	return func(co *Coordinator) { co.keyPrefix = prefix }
}

// WithSlidingWindowBuckets sets the stripe count used for every policy's
// observability counter. Defaults to 60.
func WithSlidingWindowBuckets(n int) CoordinatorOption {
	return func(co *Coordinator) { co.windowBuckets = n }
}

// NewCoordinator wires a Cache and a Store into a Coordinator.
func NewCoordinator(policyCache *cache.Cache, backend store.Store, opts ...CoordinatorOption) *Coordinator {
	co := &Coordinator{
		cache:         policyCache,
		clock:         clock.New(),
		logger:        zerolog.Nop(),
		windows:       make(map[string]*slidingwindow.Counter),
		windowBuckets: 60,
	}
	for _, opt := range opts {
		opt(co)
	}
	co.evaluator = store.NewEvaluator(backend, co.logger)
	return co
}

// ErrPolicyNotFound is returned by ShouldAllow when Request.PolicyName has
// no entry in the cache.
type ErrPolicyNotFound struct {
	PolicyName string
}

func (e *ErrPolicyNotFound) Error() string {
	return fmt.Sprintf("ratelimitd: unknown policy %q", e.PolicyName)
}

// ShouldAllow evaluates req against its policy. It is equivalent to
// ShouldAllowN(ctx, req); req.Tokens must still be >= 1.
func (co *Coordinator) ShouldAllow(ctx context.Context, req Request) (Decision, error) {
	return co.ShouldAllowN(ctx, req)
}

// ShouldAllowN evaluates req, whose Tokens field may request a cost other
// than 1. A denied decision is never returned as an error: the error
// return is reserved for request-shape problems (unknown policy, a
// cancelled context) the caller must handle distinctly from "denied".
func (co *Coordinator) ShouldAllowN(ctx context.Context, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	if req.Tokens <= 0 {
		return Decision{}, &ValidationError{Field: "Tokens", Value: req.Tokens, Reason: "must be >= 1"}
	}
	tokens := req.Tokens

	p, ok := co.cache.GetPolicy(req.PolicyName)
	if !ok {
		return Decision{}, &ErrPolicyNotFound{PolicyName: req.PolicyName}
	}

	nowTicks := co.clock.NowTicks()
	key := policy.ComposeNamespacedKey(co.keyPrefix, p.PolicyName, req.Identity)

	var algo string
	switch p.Algorithm {
	case policy.TokenBucket:
		algo = store.AlgorithmTokenBucket
	case policy.LeakyBucket:
		algo = store.AlgorithmLeakyBucket
	default:
		return Decision{}, &ValidationError{Field: "Algorithm", Value: p.Algorithm, Reason: "must be token_bucket or leaky_bucket"}
	}

	burst := p.ResolvedBurstCapacity()
	cost := tokens * p.TokensPerRequest
	if cost > burst {
		cost = burst
	}

	params := store.EvalParams{
		Algorithm:       algo,
		PermitLimit:     p.ResolvedPermitLimit(req.Identity),
		WindowTicks:     clock.DurationToTicks(p.Window),
		BurstCapacity:   burst,
		PrecisionTicks:  clock.DurationToTicks(p.Precision),
		CooldownTicks:   clock.DurationToTicks(p.Cooldown),
		RequestedTokens: cost,
		NowTicks:        nowTicks,
		TTL:             p.Window * 2,
	}

	outcome, err := co.evaluator.Evaluate(ctx, key, params)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		IsAllowed: outcome.Allowed,
		Counters: Counters{
			Limit:      outcome.Limit,
			Remaining:  outcome.Remaining,
			Used:       outcome.Used,
			ResetAfter: clock.TicksToDuration(outcome.ResetAfterTicks),
		},
		RetryAfter:       clock.TicksToDuration(outcome.RetryAfterTicks),
		EvaluatedAtTicks: nowTicks,
	}

	if p.SlidingWindowMetricsEnabled {
		decision.SlidingWindowSample = co.recordSlidingWindowSample(p, nowTicks)
	}

	if !decision.IsAllowed {
		co.recordAudit(ctx, p, key, decision)
	}

	return decision, nil
}

// Reset clears a caller's accumulated state for a policy, e.g. for manual
// unblocking. Returns *ErrPolicyNotFound for an unknown policy; a no-op if
// the policy's key is absent from the backend.
func (co *Coordinator) Reset(ctx context.Context, policyName string, identity Identity) error {
	p, ok := co.cache.GetPolicy(policyName)
	if !ok {
		return &ErrPolicyNotFound{PolicyName: policyName}
	}
	key := policy.ComposeNamespacedKey(co.keyPrefix, p.PolicyName, identity)
	return co.evaluator.Reset(ctx, key)
}

func (co *Coordinator) recordSlidingWindowSample(p Policy, nowTicks int64) SlidingWindowSample {
	counter := co.windowFor(p.PolicyName)
	counter.AddSample(nowTicks, 1)
	hits, rate := counter.Snapshot(nowTicks, clock.TicksPerSecond)
	return SlidingWindowSample{
		Window:        p.Window,
		Hits:          hits,
		RatePerSecond: rate,
	}
}

func (co *Coordinator) windowFor(policyName string) *slidingwindow.Counter {
	name := strings.ToLower(policyName)

	co.windowMu.RLock()
	c, ok := co.windows[name]
	co.windowMu.RUnlock()
	if ok {
		return c
	}

	co.windowMu.Lock()
	defer co.windowMu.Unlock()
	if c, ok := co.windows[name]; ok {
		return c
	}
	p, _ := co.cache.GetPolicy(policyName)
	window := p.Window
	if window <= 0 {
		window = time.Minute
	}
	c = slidingwindow.New(window, co.windowBuckets, clock.TicksPerSecond)
	co.windows[name] = c
	return c
}

func (co *Coordinator) recordAudit(ctx context.Context, p Policy, key string, d Decision) {
	if co.auditSink == nil {
		return
	}
	entry := audit.Entry{
		PolicyName:       p.PolicyName,
		IdentityKey:      key,
		Allowed:          d.IsAllowed,
		Limit:            d.Counters.Limit,
		Remaining:        d.Counters.Remaining,
		RetryAfterMillis: d.RetryAfter.Milliseconds(),
		Timestamp:        clock.FromTicks(d.EvaluatedAtTicks),
	}
	if err := co.auditSink.Insert(ctx, entry); err != nil {
		co.logger.Warn().Err(&AuditError{Err: err}).Str("policy", p.PolicyName).Msg("coordinator: audit insert failed")
	}
}
