package algorithm

import "math"

// LeakyBucketState is the persisted per-key state for Leaky Bucket
// evaluation. LastDripTicks == 0 means uninitialized.
type LeakyBucketState struct {
	WaterLevel float64
	LastDripTicks int64
}

// EvaluateLeakyBucket evaluates a leaky-bucket admission decision,
// symmetric to EvaluateTokenBucket over WaterLevel instead of Tokens.
func EvaluateLeakyBucket(state LeakyBucketState, p Params, nowTicks, requestedTokens int64) (LeakyBucketState, Result, error) {
	leakRate, err := p.rate()
	if err != nil {
		return state, Result{}, err
	}

	// Step 2: initialise on first contact.
	if state.LastDripTicks == 0 {
		state.WaterLevel = 0
		state.LastDripTicks = nowTicks
	}

	// Step 3: clamp retrograde clocks.
	elapsed := nowTicks - state.LastDripTicks
	if elapsed < 0 {
		elapsed = 0
	}

	// Step 3 (drip): leak accumulated water, never below zero.
	if elapsed > 0 {
		state.WaterLevel = math.Max(0, state.WaterLevel-float64(elapsed)*leakRate)
	}

	requested := math.Min(float64(requestedTokens), float64(p.BurstCapacity))

	var res Result
	res.Limit = p.PermitLimit

	if state.WaterLevel+requested <= float64(p.BurstCapacity) {
		// Step 4: admit.
		state.WaterLevel += requested
		res.Allowed = true
		res.Used = requested
		res.RetryAfterTicks = 0
	} else {
		// Step 5: deny, compute retry-after from overflow.
		overflow := (state.WaterLevel + requested) - float64(p.BurstCapacity)
		retryAfter := clampTicksFromFloat(overflow/leakRate, p.PrecisionTicks, p.WindowTicks)
		if p.CooldownTicks > 0 {
			retryAfter = maxInt64(retryAfter, p.CooldownTicks)
		}
		res.Allowed = false
		res.RetryAfterTicks = retryAfter
	}

	// Persist drip time regardless of admission outcome.
	state.LastDripTicks = nowTicks

	// Step 6: Remaining/ResetAfter from the post-evaluation state.
	res.Remaining = math.Max(0, float64(p.BurstCapacity)-state.WaterLevel)
	res.ResetAfterTicks = clampTicksFromFloat(state.WaterLevel/leakRate, p.PrecisionTicks, p.WindowTicks)

	return state, res, nil
}
