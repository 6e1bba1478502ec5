package agent

import (
	"time"

	"github.com/haasonsaas/recurse/pkg/models"
)

// Terminal types. The first two are set by the terminal tools; the rest
// record why a run was forced to stop without one.
const (
	TerminalNaturalLanguage  = "natural_language"
	TerminalComputedVariable = "computed_variable"
	TerminalIterationLimit   = "iteration_limit"
	TerminalCostLimit        = "cost_limit"
	TerminalTokenLimit       = "token_limit"
	TerminalDeadline         = "deadline_reached"
	TerminalCancelled        = "cancelled"
)

// Result is the outcome of one agent run. Every run produces one, even
// when it was forced to stop; ForcedTermination distinguishes the two
// exits and TerminalType records the cause.
type Result struct {
	// Answer is the terminal value, or the last iteration's response when
	// the run was forced to stop.
	Answer string

	TerminalType      string
	ForcedTermination bool

	Iterations int

	// ActionSummaries is the retained ring of per-iteration summaries,
	// oldest first.
	ActionSummaries []string

	// IterationStats has one entry per iteration, in order. Unlike the
	// summary ring it is never truncated.
	IterationStats []IterationStat

	TotalTokens    int
	TotalToolCalls int

	// TotalCostUSD is nil when any iteration ran a model without pricing.
	TotalCostUSD *float64

	Duration     time.Duration
	TrajectoryID string

	// SessionID names the interpreter session the run used; its variables
	// remain readable until the session expires.
	SessionID string

	Events []models.TrajectoryEvent
}

// IterationStat is the per-iteration accounting line.
type IterationStat struct {
	Iteration int `json:"iteration"`

	Tokens    int `json:"tokens"`
	ToolCalls int `json:"tool_calls"`

	// CostUSD is nil when the iteration's model had no pricing.
	CostUSD *float64 `json:"cost_usd,omitempty"`

	// ResponsePreview is the start of the iteration's final response.
	ResponsePreview string `json:"response_preview,omitempty"`
}

// Status is a point-in-time view of a running agent, readable from other
// goroutines while Run is in flight.
type Status struct {
	Running        bool     `json:"running"`
	Iteration      int      `json:"iteration"`
	TotalTokens    int      `json:"total_tokens"`
	TotalToolCalls int      `json:"total_tool_calls"`
	CostUSD        *float64 `json:"cost_usd,omitempty"`
	IsTerminal     bool     `json:"is_terminal"`
}
