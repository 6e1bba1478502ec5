// Package models defines the shared data types for the recurse runtime:
// conversation messages, tool calls and results, token usage, and the
// trajectory events emitted by the completion engine.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem is the system prompt role.
	RoleSystem Role = "system"

	// RoleUser is the end-user role.
	RoleUser Role = "user"

	// RoleAssistant is the model role. Only assistant messages carry tool calls.
	RoleAssistant Role = "assistant"

	// RoleTool is the role of tool-result messages. Tool messages carry the
	// ToolCallID of the call they answer.
	RoleTool Role = "tool"
)

// ContentBlock is one element of a multi-part message body.
// Type is one of "text", "image_url", or "audio".
type ContentBlock struct {
	Type string `json:"type"`

	// Text is set when Type is "text".
	Text string `json:"text,omitempty"`

	// URL is set when Type is "image_url" or "audio".
	URL string `json:"url,omitempty"`
}

// Message is a single conversation message. Content carries plain text;
// Blocks carries an ordered multi-part body when the message is not plain
// text. At most one of the two is populated.
type Message struct {
	Role    Role           `json:"role"`
	Content string         `json:"content,omitempty"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`

	// ToolCalls are tool invocation requests. Assistant messages only.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool message to the call it answers. Tool messages only.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// TextContent returns the text of the message, flattening block bodies.
func (m Message) TextContent() string {
	if m.Content != "" || len(m.Blocks) == 0 {
		return m.Content
	}
	var out string
	for _, b := range m.Blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// ToolCall is a tool invocation requested by the model. The ID is unique
// within a single turn and correlates the eventual ToolResult.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of one tool call, delivered back to the model.
// Errors are communicated with IsError=true rather than aborting the loop,
// so the model can react to failures.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Usage is the token consumption reported by a provider for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns combined input and output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// InterpreterResult is the outcome of one sandboxed code execution.
type InterpreterResult struct {
	// Output is captured stdout, truncated to the sandbox output cap.
	Output string `json:"output"`

	// Error is empty on success. ErrorKind categorizes failures:
	// "execution_error", "timeout", "security_violation", "resource_exceeded".
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	ExecutionTimeMS int64 `json:"execution_time_ms"`
	Truncated       bool  `json:"truncated,omitempty"`

	// MemoryPeakBytes and CPUTimeMS are nil when the platform or execution
	// mode cannot report them.
	MemoryPeakBytes *int64 `json:"memory_peak_bytes,omitempty"`
	CPUTimeMS       *int64 `json:"cpu_time_ms,omitempty"`
}

// TrajectoryEvent records one completed turn of the completion engine.
// Events form a strict tree: sub-completion events carry a ParentCallID
// pointing at an earlier event and a strictly greater depth. Events are
// immutable once emitted.
type TrajectoryEvent struct {
	TrajectoryID string `json:"trajectory_id"`
	CallID       string `json:"call_id"`
	ParentCallID string `json:"parent_call_id,omitempty"`
	Depth        int    `json:"depth"`

	// Prompt is a snapshot of the message that triggered this turn.
	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`

	ToolCalls          []ToolCall          `json:"tool_calls,omitempty"`
	ToolResults        []ToolResult        `json:"tool_results,omitempty"`
	InterpreterResults []InterpreterResult `json:"interpreter_results,omitempty"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`

	Error string `json:"error,omitempty"`

	// EstimatedCostUSD is nil when the model has no pricing entry.
	EstimatedCostUSD *float64 `json:"estimated_cost_usd,omitempty"`

	// SubCallType tags events produced by sub-completion tools
	// ("sub_complete", "batch_complete"). Empty for root-level turns.
	SubCallType string `json:"sub_call_type,omitempty"`
}
