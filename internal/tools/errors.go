package tools

import (
	"errors"
	"fmt"
	"strings"
)

// Dispatch error sentinels. These classify why a tool call failed so the
// engine can render an error tool-result without aborting the completion.
var (
	// ErrToolNotFound indicates the requested tool is not visible in the
	// call's tool scope.
	ErrToolNotFound = errors.New("tool not found")

	// ErrValidation indicates the arguments did not satisfy the tool's
	// parameter schema.
	ErrValidation = errors.New("argument validation failed")

	// ErrHandlerPanic indicates the tool handler panicked. The panic is
	// recovered and surfaced as an error result.
	ErrHandlerPanic = errors.New("tool handler panicked")
)

// DispatchError carries the classification of a failed tool call together
// with enough detail for the model to correct itself.
type DispatchError struct {
	Kind string // "not_found", "validation_error", "handler_exception"
	Tool string
	Err  error

	// Available lists visible tool names. Populated for not_found so the
	// model can pick a real tool on the next turn.
	Available []string
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	switch e.Kind {
	case "not_found":
		return fmt.Sprintf("tool %q not found; available tools: %s", e.Tool, strings.Join(e.Available, ", "))
	case "validation_error":
		return fmt.Sprintf("invalid arguments for tool %q: %v", e.Tool, e.Err)
	case "handler_exception":
		return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
	default:
		return fmt.Sprintf("tool %q error: %v", e.Tool, e.Err)
	}
}

// Unwrap exposes the underlying cause for errors.Is checks.
func (e *DispatchError) Unwrap() error { return e.Err }

// NotFoundError builds a not_found dispatch error listing what is visible.
func NotFoundError(name string, available []string) *DispatchError {
	return &DispatchError{Kind: "not_found", Tool: name, Err: ErrToolNotFound, Available: available}
}

// ValidationError builds a validation_error dispatch error.
func ValidationError(name string, cause error) *DispatchError {
	return &DispatchError{Kind: "validation_error", Tool: name, Err: fmt.Errorf("%w: %v", ErrValidation, cause)}
}

// HandlerError builds a handler_exception dispatch error.
func HandlerError(name string, cause error) *DispatchError {
	return &DispatchError{Kind: "handler_exception", Tool: name, Err: cause}
}
