// Package tools defines the executable tool interface, the global registry,
// and argument validation against each tool's JSON schema.
package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/recurse/pkg/models"
)

// Tool is an executable capability exposed to the model.
//
// Implementations must be safe for concurrent use: the engine may dispatch
// several calls to the same tool in parallel.
type Tool interface {
	// Name returns the tool name used for function calling. Unique within
	// a registry.
	Name() string

	// Description returns a natural language description that helps the
	// model decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema (draft-7 object) for the tool's
	// parameters. Arguments are validated against it before dispatch.
	Schema() json.RawMessage

	// Execute runs the tool. Params have already been validated against
	// Schema. A returned error becomes an error tool-result for the model;
	// it never aborts the completion loop.
	Execute(ctx context.Context, params json.RawMessage) (string, error)
}

// FuncTool adapts a function to the Tool interface. It is the common way
// builtin and per-call tools are declared.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	ToolSchema      json.RawMessage
	Handler         func(ctx context.Context, params json.RawMessage) (string, error)
}

// Name returns the tool name.
func (t *FuncTool) Name() string { return t.ToolName }

// Description returns the tool description.
func (t *FuncTool) Description() string { return t.ToolDescription }

// Schema returns the parameter schema.
func (t *FuncTool) Schema() json.RawMessage { return t.ToolSchema }

// Execute invokes the wrapped handler.
func (t *FuncTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return t.Handler(ctx, params)
}

// InterpreterSource is implemented by tools that execute code in the
// sandbox. The engine drains the raw interpreter results after each turn
// and attaches them to the turn's trajectory event.
type InterpreterSource interface {
	Tool

	// DrainInterpreterResults returns the results accumulated since the
	// last drain and clears the buffer.
	DrainInterpreterResults() []models.InterpreterResult
}

// Descriptor is the provider-facing view of a tool: what gets sent to the
// LLM, without the handler.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Describe builds the provider-facing descriptor for a tool.
func Describe(t Tool) Descriptor {
	return Descriptor{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()}
}
