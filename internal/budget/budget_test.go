package budget

import (
	"testing"
	"time"
)

func floatPtr(f float64) *float64 { return &f }

func TestCheckPassesUnderBudget(t *testing.T) {
	l := NewLedger(Limits{MaxDepth: 3, TokenBudget: 1000, ToolBudget: 10})
	if v := l.Check(0); v != nil {
		t.Fatalf("expected no violation, got %v", v)
	}
}

func TestCheckDepthExceeded(t *testing.T) {
	l := NewLedger(Limits{MaxDepth: 2})
	if v := l.Check(3); v == nil || v.Violation != DepthExceeded {
		t.Fatalf("expected depth_exceeded, got %v", v)
	}
	if v := l.Check(2); v != nil {
		t.Fatalf("depth 2 at max 2 should pass (sub-call entry is gated by the caller), got %v", v)
	}
}

func TestCheckTokenExhaustedIsPreCall(t *testing.T) {
	// Scenario from the engine contract: budget 1000, each call reports 600.
	// The second call is allowed (600 < 1000 at pre-check); the third is not.
	l := NewLedger(Limits{TokenBudget: 1000})

	if v := l.Check(0); v != nil {
		t.Fatalf("first pre-check should pass, got %v", v)
	}
	l.Charge(300, 300, 0)

	if v := l.Check(0); v != nil {
		t.Fatalf("second pre-check should pass at 600/1000, got %v", v)
	}
	l.Charge(300, 300, 0)

	v := l.Check(0)
	if v == nil || v.Violation != TokenExhausted {
		t.Fatalf("expected token_exhausted at 1200/1000, got %v", v)
	}
}

func TestCheckCostExhausted(t *testing.T) {
	l := NewLedger(Limits{CostBudgetUSD: floatPtr(0.10)})
	l.Charge(0, 0, 0.05)
	if v := l.Check(0); v != nil {
		t.Fatalf("under cost cap should pass, got %v", v)
	}
	l.Charge(0, 0, 0.06)
	if v := l.Check(0); v == nil || v.Violation != CostExhausted {
		t.Fatalf("expected cost_exhausted, got %v", v)
	}
}

func TestCheckToolExhausted(t *testing.T) {
	l := NewLedger(Limits{ToolBudget: 2})
	l.ChargeToolCall()
	l.ChargeToolCall()
	if v := l.Check(0); v == nil || v.Violation != ToolExhausted {
		t.Fatalf("expected tool_exhausted, got %v", v)
	}
}

func TestCheckDeadlineReached(t *testing.T) {
	now := time.Now()
	l := NewLedger(Limits{Deadline: now.Add(time.Minute)})
	l.SetNowFunc(func() time.Time { return now })
	if v := l.Check(0); v != nil {
		t.Fatalf("before deadline should pass, got %v", v)
	}
	l.SetNowFunc(func() time.Time { return now.Add(2 * time.Minute) })
	if v := l.Check(0); v == nil || v.Violation != DeadlineReached {
		t.Fatalf("expected deadline_reached, got %v", v)
	}
}

func TestRemainingTokensNeverNegative(t *testing.T) {
	l := NewLedger(Limits{TokenBudget: 100})
	l.Charge(90, 40, 0)
	if r := l.RemainingTokens(); r != 0 {
		t.Fatalf("remaining should clamp to 0, got %d", r)
	}
}

func TestDeriveSubHonorsInheritanceFactor(t *testing.T) {
	l := NewLedger(Limits{MaxDepth: 4, TokenBudget: 1000, ToolBudget: 20})
	l.Charge(100, 100, 0)

	sub := l.DeriveSub(0, 0.5)
	if sub.TokenBudget != 400 {
		t.Errorf("auto sub budget = %d, want 400 (half of 800 remaining)", sub.TokenBudget)
	}
	if sub.ToolBudget != 10 {
		t.Errorf("sub tool budget = %d, want 10", sub.ToolBudget)
	}
	if sub.MaxDepth != 4 {
		t.Errorf("sub max depth = %d, want 4", sub.MaxDepth)
	}
}

func TestDeriveSubCapsRequested(t *testing.T) {
	l := NewLedger(Limits{TokenBudget: 1000})

	sub := l.DeriveSub(200, 0.5)
	if sub.TokenBudget != 200 {
		t.Errorf("requested 200 under inherited 500, got %d", sub.TokenBudget)
	}

	sub = l.DeriveSub(5000, 0.5)
	if sub.TokenBudget != 500 {
		t.Errorf("requested 5000 must clamp to inherited 500, got %d", sub.TokenBudget)
	}
}

func TestDeriveSubSharesDeadline(t *testing.T) {
	deadline := time.Now().Add(time.Minute)
	l := NewLedger(Limits{TokenBudget: 100, Deadline: deadline})
	sub := l.DeriveSub(0, 0.5)
	if !sub.Deadline.Equal(deadline) {
		t.Errorf("sub deadline %v, want parent deadline %v", sub.Deadline, deadline)
	}
}

func TestChargeBackMergesChildConsumption(t *testing.T) {
	parent := NewLedger(Limits{TokenBudget: 1000, ToolBudget: 10})
	child := NewLedger(parent.DeriveSub(0, 0.5))

	child.Charge(100, 50, 0.01)
	child.ChargeToolCall()
	parent.ChargeBack(child)

	state := parent.Snapshot()
	if state.TokensUsed != 150 {
		t.Errorf("parent tokens = %d, want 150", state.TokensUsed)
	}
	if state.ToolCalls != 1 {
		t.Errorf("parent tool calls = %d, want 1", state.ToolCalls)
	}
	if state.CostUSD != 0.01 {
		t.Errorf("parent cost = %f, want 0.01", state.CostUSD)
	}
}

func TestErrorMessageNamesViolation(t *testing.T) {
	e := &Error{Violation: TokenExhausted, Detail: "1200 tokens used of 1000 budget"}
	got := e.Error()
	want := "budget violation (token_exhausted): 1200 tokens used of 1000 budget"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
