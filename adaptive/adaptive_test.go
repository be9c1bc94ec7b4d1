package adaptive_test

import (
	"testing"

	"github.com/rohanverma/ratelimitd/adaptive"
	"github.com/rohanverma/ratelimitd/policy"
)

func TestNewOverride_StartsAtBaseLimit(t *testing.T) {
	o := adaptive.NewOverride(100)
	if got := o.EffectiveLimit(); got != 100 {
		t.Errorf("EffectiveLimit() = %d, want 100", got)
	}
}

func TestSetFactor_ScalesLimit(t *testing.T) {
	o := adaptive.NewOverride(100)
	o.SetFactor(0.5)
	if got := o.EffectiveLimit(); got != 50 {
		t.Errorf("EffectiveLimit() after factor=0.5 = %d, want 50", got)
	}
}

func TestSetFactor_ClampsToUnitRange(t *testing.T) {
	o := adaptive.NewOverride(100)

	o.SetFactor(-1)
	if got := o.EffectiveLimit(); got != 1 {
		t.Errorf("factor clamped to 0 should floor at 1, got %d", got)
	}

	o.SetFactor(5)
	if got := o.EffectiveLimit(); got != 100 {
		t.Errorf("factor clamped to 1 should report base limit, got %d", got)
	}
}

func TestSetFactor_FloorsAtOne(t *testing.T) {
	o := adaptive.NewOverride(3)
	o.SetFactor(0.1)
	if got := o.EffectiveLimit(); got != 1 {
		t.Errorf("EffectiveLimit() = %d, want floor of 1", got)
	}
}

func TestLimitOverride_SatisfiesPolicyContract(t *testing.T) {
	o := adaptive.NewOverride(100)
	o.SetFactor(0.25)

	p := policy.Policy{PolicyName: "checkout", PermitLimit: 100, LimitOverride: o.LimitOverride}

	got := p.ResolvedPermitLimit(policy.Identity{CustomDiscriminator: "any"})
	if got != 25 {
		t.Errorf("ResolvedPermitLimit() = %d, want 25", got)
	}
}

func TestAllowLocal_AllowsFirstCallFromInitialBurst(t *testing.T) {
	o := adaptive.NewOverride(1)
	if !o.AllowLocal() {
		t.Error("first local call should be allowed by the initial burst")
	}
}
