package agent

import (
	"time"

	"github.com/haasonsaas/recurse/internal/orchestrator"
)

// Hard caps. Config values past these are clamped silently at
// construction; an agent run can never be configured beyond them.
const (
	MaxIterationsCap  = 50
	MaxDepthCap       = 5
	CostLimitCapUSD   = 10.00
	TimeoutCap        = 600 * time.Second
	actionHistorySize = 5
)

// Config bounds one agent run. Zero values take the defaults.
type Config struct {
	Model  string
	System string

	// MaxIterations is the outer loop bound. Clamped to MaxIterationsCap.
	MaxIterations int

	// MaxDepth bounds sub-completion recursion. Clamped to MaxDepthCap.
	MaxDepth int

	// TokenBudget is the combined input+output budget across the run.
	TokenBudget int

	// CostLimitUSD caps accumulated estimated spend. Clamped to
	// CostLimitCapUSD.
	CostLimitUSD float64

	// Timeout is the wallclock bound for the whole run. Clamped to
	// TimeoutCap.
	Timeout time.Duration

	// ToolBudget caps tool invocations per iteration's completion.
	ToolBudget int

	ParallelTools bool
	MaxParallel   int

	// SubCalls is passed through to the orchestrator.
	SubCalls orchestrator.SubCallOptions

	// AutoContext fetches documentation for the task on iteration 1 and
	// merges it into the system prompt.
	AutoContext bool

	// ContextBudget is the token budget for the auto-context fetch.
	ContextBudget int

	// TrajectoryLog is a JSONL file path for the event stream. Empty
	// disables logging.
	TrajectoryLog string

	// SessionID names the interpreter session the run binds its sandbox
	// tools and FINAL_VAR to. Empty mints one per run.
	SessionID string
}

// sanitized applies defaults and the hard caps. Clamping is silent.
func (c Config) sanitized() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.MaxIterations > MaxIterationsCap {
		c.MaxIterations = MaxIterationsCap
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 3
	}
	if c.MaxDepth > MaxDepthCap {
		c.MaxDepth = MaxDepthCap
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = 100_000
	}
	if c.CostLimitUSD <= 0 {
		c.CostLimitUSD = 1.00
	}
	if c.CostLimitUSD > CostLimitCapUSD {
		c.CostLimitUSD = CostLimitCapUSD
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.Timeout > TimeoutCap {
		c.Timeout = TimeoutCap
	}
	if c.ToolBudget <= 0 {
		c.ToolBudget = 50
	}
	if c.ContextBudget <= 0 {
		c.ContextBudget = 4000
	}
	return c
}
