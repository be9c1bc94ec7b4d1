package algorithm

import "math"

// TokenBucketState is the persisted per-key state for Token Bucket
// evaluation. LastRefillTicks == 0 means uninitialized.
type TokenBucketState struct {
	Tokens float64
	LastRefillTicks int64
}

// EvaluateTokenBucket evaluates a token-bucket admission decision step by
// step. It is the in-process reference oracle the atomic Redis script
// (tokenBucketScript in store/evaluator.go) must match bit-for-bit in
// arithmetic.
func EvaluateTokenBucket(state TokenBucketState, p Params, nowTicks, requestedTokens int64) (TokenBucketState, Result, error) {
	refillRate, err := p.rate()
	if err != nil {
		return state, Result{}, err
	}

	// Step 2: initialise on first contact — a fresh key starts full.
	if state.LastRefillTicks == 0 {
		state.Tokens = float64(p.BurstCapacity)
		state.LastRefillTicks = nowTicks
	}

	// Step 3: clamp retrograde clocks to zero elapsed, never roll back.
	elapsed := nowTicks - state.LastRefillTicks
	if elapsed < 0 {
		elapsed = 0
	}

	// Step 4: refill.
	if elapsed > 0 {
		state.Tokens = math.Min(float64(p.BurstCapacity), state.Tokens+float64(elapsed)*refillRate)
	}

	requested := math.Min(float64(requestedTokens), float64(p.BurstCapacity))

	var res Result
	res.Limit = p.PermitLimit

	if state.Tokens >= requested {
		// Step 5: admit.
		state.Tokens -= requested
		res.Allowed = true
		res.Used = requested
		res.RetryAfterTicks = 0
	} else {
		// Step 6: deny, compute retry-after.
		shortage := requested - state.Tokens
		ticksUntil := clampTicksFromFloat(shortage/refillRate, p.PrecisionTicks, math.MaxInt64)
		retryAfter := minInt64(p.WindowTicks, ticksUntil)
		if p.CooldownTicks > 0 {
			retryAfter = maxInt64(retryAfter, p.CooldownTicks)
		}
		res.Allowed = false
		res.RetryAfterTicks = retryAfter
	}

	// Step 7: persist refill time regardless of admission outcome.
	state.LastRefillTicks = nowTicks

	// Step 8: derive Remaining/ResetAfter from the post-evaluation state.
	ticksToFull := clampTicksFromFloat(
		(float64(p.BurstCapacity)-state.Tokens)/refillRate,
		p.PrecisionTicks, p.WindowTicks,
	)
	res.ResetAfterTicks = ticksToFull
	res.Remaining = math.Max(0, state.Tokens)

	return state, res, nil
}
