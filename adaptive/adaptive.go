// Package adaptive provides a health-driven PermitLimit override for a
// Policy, built on golang.org/x/time/rate. It does not replace the
// atomic store evaluator; it only adjusts the limit a Policy reports to
// the coordinator, the same way the teacher's Options.LimitFunc
// substitutes a per-key limit ahead of evaluation.
//
// An Override observes a health factor in [0, 1] (e.g. derived from
// downstream error rate or queue depth) and scales a base limit
// accordingly. A factor of 1 reports the base limit unchanged; a factor
// of 0.5 halves it. Multiplied limits are rounded down and floored at 1.
package adaptive

import (
	"math"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rohanverma/ratelimitd/policy"
)

// Override tracks a base PermitLimit and a live health factor, exposing a
// policy.Policy.LimitOverride-compatible method.
type Override struct {
	mu        sync.RWMutex
	baseLimit int64
	factor    float64
	limiter   *rate.Limiter
}

// NewOverride creates an Override starting at factor 1.0 (no adjustment).
// baseLimit must be positive.
func NewOverride(baseLimit int64) *Override {
	return &Override{
		baseLimit: baseLimit,
		factor:    1.0,
		limiter:   rate.NewLimiter(rate.Limit(baseLimit), int(baseLimit)),
	}
}

// SetFactor updates the health factor driving the effective limit. Values
// outside [0, 1] are clamped.
func (o *Override) SetFactor(factor float64) {
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.factor = factor
	effective := o.effectiveLimitLocked()
	o.limiter.SetLimit(rate.Limit(effective))
	o.limiter.SetBurst(int(effective))
}

// EffectiveLimit returns the current adjusted PermitLimit.
func (o *Override) EffectiveLimit() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.effectiveLimitLocked()
}

func (o *Override) effectiveLimitLocked() int64 {
	scaled := int64(math.Floor(float64(o.baseLimit) * o.factor))
	if scaled < 1 {
		return 1
	}
	return scaled
}

// LimitOverride satisfies policy.Policy.LimitOverride: it ignores the
// caller identity and reports the same adjusted limit to every caller of
// the policy it's attached to.
func (o *Override) LimitOverride(_ policy.Identity) (int64, bool) {
	return o.EffectiveLimit(), true
}

// AllowLocal reports whether the process-local shadow limiter (tracking
// the same adjusted rate) would admit one event. This is advisory only —
// the coordinator's store evaluator remains the source of truth for
// admission; AllowLocal exists for a caller that wants a cheap local
// pre-check before round-tripping to the shared store.
func (o *Override) AllowLocal() bool {
	o.mu.RLock()
	l := o.limiter
	o.mu.RUnlock()
	return l.Allow()
}
