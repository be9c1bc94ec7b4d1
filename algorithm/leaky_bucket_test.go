package algorithm

import "testing"

// S4: Permit=3, Window=1s, empty, t=1ms. 3x allow(1), then 1 more denied,
// then wait to t>=1.001s and 1 allow(1) succeeds.
func TestLeakyBucket_S4_PoliceThenDrain(t *testing.T) {
	p := Params{
		PermitLimit:    3,
		WindowTicks:    10_000_000, // 1s
		BurstCapacity:  3,
		PrecisionTicks: 100_000,
	}
	state := LeakyBucketState{}
	now := int64(10_000) // 1ms

	for i := 0; i < 3; i++ {
		var res Result
		var err error
		state, res, err = EvaluateLeakyBucket(state, p, now, 1)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Allowed {
			t.Fatalf("eval %d: expected allowed", i)
		}
	}

	state, res, err := EvaluateLeakyBucket(state, p, now, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Fatal("expected 4th request denied")
	}

	later := int64(1_001) * 10_000 // 1.001s
	_, res, err = EvaluateLeakyBucket(state, p, later, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed {
		t.Fatalf("expected allowed after drain, got %+v", res)
	}
}

func TestLeakyBucket_NeverExceedsBurstCapacity(t *testing.T) {
	p := Params{
		PermitLimit:    2,
		WindowTicks:    10_000_000,
		BurstCapacity:  2,
		PrecisionTicks: 100_000,
	}
	state := LeakyBucketState{}
	now := int64(0)
	for i := 0; i < 500; i++ {
		now += 1000
		var err error
		state, _, err = EvaluateLeakyBucket(state, p, now, 1)
		if err != nil {
			t.Fatal(err)
		}
		if state.WaterLevel > float64(p.BurstCapacity)+1e-9 {
			t.Fatalf("WaterLevel exceeded BurstCapacity: %v > %v", state.WaterLevel, p.BurstCapacity)
		}
	}
}

func TestLeakyBucket_AllowedHasZeroRetryAfter(t *testing.T) {
	p := Params{PermitLimit: 5, WindowTicks: 10_000_000, BurstCapacity: 5, PrecisionTicks: 100_000}
	_, res, err := EvaluateLeakyBucket(LeakyBucketState{}, p, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed || res.RetryAfterTicks != 0 {
		t.Fatalf("expected allowed with RetryAfter=0, got %+v", res)
	}
}

func TestLeakyBucket_DeniedRetryAfterWithinPrecisionAndWindow(t *testing.T) {
	p := Params{PermitLimit: 1, WindowTicks: 10_000_000, BurstCapacity: 1, PrecisionTicks: 500_000}
	state := LeakyBucketState{}
	state, _, _ = EvaluateLeakyBucket(state, p, 1, 1)
	_, res, err := EvaluateLeakyBucket(state, p, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Fatal("expected denial")
	}
	if res.RetryAfterTicks < p.PrecisionTicks || res.RetryAfterTicks > p.WindowTicks {
		t.Fatalf("RetryAfter=%d out of [%d, %d]", res.RetryAfterTicks, p.PrecisionTicks, p.WindowTicks)
	}
}
