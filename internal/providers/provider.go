// Package providers implements the LLM adapters behind the completion
// engine. Each adapter converts between the engine's message types and one
// vendor SDK, with retry on transient failures and structured errors for
// everything else.
package providers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kaptinlin/jsonrepair"

	"github.com/haasonsaas/recurse/internal/tools"
	"github.com/haasonsaas/recurse/pkg/models"
)

// ErrStreamWithTools is returned by Stream when the request carries tool
// definitions. Tool-using turns must go through Complete.
var ErrStreamWithTools = errors.New("streaming does not support tools")

// Request is one completion call.
type Request struct {
	Model    string
	System   string
	Messages []models.Message

	// Tools are the definitions offered to the model for this call.
	Tools []tools.Descriptor

	MaxTokens   int
	Temperature float64

	// ForceJSON asks the adapter to decode the response text as JSON into
	// Response.Parsed, repairing minor syntax damage first.
	ForceJSON bool
}

// Response is the full outcome of one non-streaming completion.
type Response struct {
	Text      string
	ToolCalls []models.ToolCall
	Usage     models.Usage

	// Parsed is the decoded response body when the request set ForceJSON
	// and the text was recoverable JSON. Nil otherwise.
	Parsed any
}

// Chunk is one streaming increment. Usage arrives on the final chunk.
type Chunk struct {
	Text  string
	Usage *models.Usage
	Done  bool
	Err   error
}

// Provider is one LLM backend.
type Provider interface {
	// Name is the stable lowercase provider identifier.
	Name() string

	// Complete runs one full completion and returns the assembled response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream runs a text-only completion, delivering increments on the
	// returned channel. Requests with tools fail with ErrStreamWithTools.
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
}

// parseLoose decodes text as JSON, falling back to repair for the
// near-miss output models produce (trailing commas, single quotes).
// Returns nil when the text is not recoverable.
func parseLoose(text string) any {
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
		return nil
	}
	return parsed
}
