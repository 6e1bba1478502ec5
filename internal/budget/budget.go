// Package budget implements the per-completion resource ledger. A ledger
// accounts tokens, estimated cost, tool calls, wallclock, and recursion
// depth for one top-level completion. Sub-completions get their own ledger
// derived from the parent's remaining budget; their consumption is charged
// back to the parent when they finish.
package budget

import (
	"fmt"
	"sync"
	"time"
)

// Violation identifies which budget was breached.
type Violation string

const (
	DepthExceeded   Violation = "depth_exceeded"
	TokenExhausted  Violation = "token_exhausted"
	CostExhausted   Violation = "cost_exhausted"
	ToolExhausted   Violation = "tool_exhausted"
	DeadlineReached Violation = "deadline_reached"
)

// Error is a structured budget violation carrying the breached counter and
// its cap. The partial completion Result remains constructible after one.
type Error struct {
	Violation Violation
	Detail    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("budget violation (%s): %s", e.Violation, e.Detail)
}

// Limits are the caps a ledger enforces. A zero TokenBudget or ToolBudget
// means unlimited; a nil CostBudgetUSD means no cost cap; a zero Deadline
// means no wallclock bound.
type Limits struct {
	MaxDepth      int
	TokenBudget   int
	CostBudgetUSD *float64
	ToolBudget    int
	Deadline      time.Time
}

// Ledger is the accountant for one completion. Consumed counters are
// monotone-nondecreasing; remaining values are derived. The ledger is only
// written by its owning completion, but batch sub-completions read parent
// remaining concurrently, so access is guarded.
type Ledger struct {
	mu     sync.Mutex
	limits Limits

	tokensUsed int
	costUSD    float64
	toolCalls  int

	nowFunc func() time.Time
}

// NewLedger creates a ledger enforcing the given limits.
func NewLedger(limits Limits) *Ledger {
	return &Ledger{limits: limits, nowFunc: time.Now}
}

// SetNowFunc overrides the clock. Tests only.
func (l *Ledger) SetNowFunc(fn func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFunc = fn
}

// Limits returns the caps this ledger enforces.
func (l *Ledger) Limits() Limits {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits
}

// Charge records token and cost consumption from one provider call.
func (l *Ledger) Charge(inputTokens, outputTokens int, costUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokensUsed += inputTokens + outputTokens
	l.costUSD += costUSD
}

// ChargeToolCall records one tool invocation.
func (l *Ledger) ChargeToolCall() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.toolCalls++
}

// Check evaluates all budgets at the given recursion depth. It returns nil
// when another provider call is allowed, or a structured violation. Checks
// are pre-call: the last call may overshoot by its own consumption.
func (l *Ledger) Check(depth int) *Error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Depth max_depth itself is legal: sub-completion entry is gated by the
	// caller, so a run at the cap may still finish its turns.
	if l.limits.MaxDepth > 0 && depth > l.limits.MaxDepth {
		return &Error{
			Violation: DepthExceeded,
			Detail:    fmt.Sprintf("depth %d exceeds max_depth %d", depth, l.limits.MaxDepth),
		}
	}
	if l.limits.TokenBudget > 0 && l.tokensUsed >= l.limits.TokenBudget {
		return &Error{
			Violation: TokenExhausted,
			Detail:    fmt.Sprintf("%d tokens used of %d budget", l.tokensUsed, l.limits.TokenBudget),
		}
	}
	if l.limits.CostBudgetUSD != nil && l.costUSD >= *l.limits.CostBudgetUSD {
		return &Error{
			Violation: CostExhausted,
			Detail:    fmt.Sprintf("$%.4f spent of $%.4f budget", l.costUSD, *l.limits.CostBudgetUSD),
		}
	}
	if l.limits.ToolBudget > 0 && l.toolCalls >= l.limits.ToolBudget {
		return &Error{
			Violation: ToolExhausted,
			Detail:    fmt.Sprintf("%d tool calls used of %d budget", l.toolCalls, l.limits.ToolBudget),
		}
	}
	if !l.limits.Deadline.IsZero() && !l.nowFunc().Before(l.limits.Deadline) {
		return &Error{
			Violation: DeadlineReached,
			Detail:    fmt.Sprintf("deadline %s passed", l.limits.Deadline.Format(time.RFC3339)),
		}
	}
	return nil
}

// RemainingTokens returns the unconsumed token budget, never negative.
// Returns 0 when the ledger has no token cap.
func (l *Ledger) RemainingTokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limits.TokenBudget <= 0 {
		return 0
	}
	if r := l.limits.TokenBudget - l.tokensUsed; r > 0 {
		return r
	}
	return 0
}

// RemainingToolCalls returns unconsumed tool-call budget, never negative.
func (l *Ledger) RemainingToolCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limits.ToolBudget <= 0 {
		return 0
	}
	if r := l.limits.ToolBudget - l.toolCalls; r > 0 {
		return r
	}
	return 0
}

// State is a point-in-time snapshot of ledger consumption.
type State struct {
	TokensUsed int
	CostUSD    float64
	ToolCalls  int
}

// Snapshot returns current consumption.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{TokensUsed: l.tokensUsed, CostUSD: l.costUSD, ToolCalls: l.toolCalls}
}

// DeriveSub builds the limits for a sub-completion ledger.
//
// The token budget is min(requested, remaining*factor) where a requested
// value of 0 means auto. Cost and tool caps inherit proportionally from the
// parent's remaining. The wallclock deadline is the parent's unchanged: the
// deadline is global across the completion tree.
func (l *Ledger) DeriveSub(requestedTokens int, factor float64) Limits {
	l.mu.Lock()
	defer l.mu.Unlock()

	if factor <= 0 || factor > 1 {
		factor = 0.5
	}

	sub := Limits{
		MaxDepth: l.limits.MaxDepth,
		Deadline: l.limits.Deadline,
	}

	if l.limits.TokenBudget > 0 {
		remaining := l.limits.TokenBudget - l.tokensUsed
		if remaining < 0 {
			remaining = 0
		}
		inherited := int(float64(remaining) * factor)
		if inherited < 1 {
			// 0 would mean uncapped; an exhausted parent yields a child
			// that fails its first pre-call check instead.
			inherited = 1
		}
		if requestedTokens > 0 && requestedTokens < inherited {
			sub.TokenBudget = requestedTokens
		} else {
			sub.TokenBudget = inherited
		}
	} else if requestedTokens > 0 {
		sub.TokenBudget = requestedTokens
	}

	if l.limits.CostBudgetUSD != nil {
		remaining := *l.limits.CostBudgetUSD - l.costUSD
		if remaining < 0 {
			remaining = 0
		}
		capUSD := remaining * factor
		sub.CostBudgetUSD = &capUSD
	}

	if l.limits.ToolBudget > 0 {
		remaining := l.limits.ToolBudget - l.toolCalls
		if remaining < 0 {
			remaining = 0
		}
		sub.ToolBudget = int(float64(remaining) * factor)
		if sub.ToolBudget < 1 && remaining > 0 {
			sub.ToolBudget = 1
		}
	}

	return sub
}

// ChargeBack merges a finished sub-ledger's consumption into the parent.
func (l *Ledger) ChargeBack(child *Ledger) {
	state := child.Snapshot()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokensUsed += state.TokensUsed
	l.costUSD += state.CostUSD
	l.toolCalls += state.ToolCalls
}
