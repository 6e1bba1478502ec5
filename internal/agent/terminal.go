package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/haasonsaas/recurse/internal/sessions"
	"github.com/haasonsaas/recurse/internal/tools"
)

// terminalState is the flag the runner polls after each iteration. Only
// the terminal tools write it.
type terminalState struct {
	mu         sync.Mutex
	isTerminal bool
	value      string
	termType   string
}

func (s *terminalState) set(value, termType string) {
	s.mu.Lock()
	s.isTerminal = true
	s.value = value
	s.termType = termType
	s.mu.Unlock()
}

func (s *terminalState) get() (bool, string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isTerminal, s.value, s.termType
}

// terminalTools builds the FINAL and FINAL_VAR tools bound to one run's
// terminal state. They are injected as per-completion extras, never into
// the global registry.
func terminalTools(state *terminalState, manager *sessions.Manager, sessionID string) []tools.Tool {
	final := &tools.FuncTool{
		ToolName:        "FINAL",
		ToolDescription: "Deliver your final answer and end the run. Call this exactly once, when the task is complete.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"answer": {"type": "string", "description": "The final answer to the task"}
			},
			"required": ["answer"]
		}`),
		Handler: func(ctx context.Context, params json.RawMessage) (string, error) {
			var args struct {
				Answer string `json:"answer"`
			}
			if err := json.Unmarshal(params, &args); err != nil {
				return "", err
			}
			state.set(args.Answer, TerminalNaturalLanguage)
			return "final answer recorded", nil
		},
	}

	finalVar := &tools.FuncTool{
		ToolName:        "FINAL_VAR",
		ToolDescription: "Deliver a sandbox variable as the final answer and end the run. The variable must already be bound in the session, e.g. by a prior execute_code call.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"variable_name": {"type": "string", "description": "Name of the session variable holding the answer"}
			},
			"required": ["variable_name"]
		}`),
		Handler: func(ctx context.Context, params json.RawMessage) (string, error) {
			var args struct {
				VariableName string `json:"variable_name"`
			}
			if err := json.Unmarshal(params, &args); err != nil {
				return "", err
			}
			value, ok := manager.LookupVariable(sessionID, args.VariableName)
			if !ok {
				// Not terminal: the model gets the error and may bind the
				// variable on a later iteration.
				return "", fmt.Errorf("variable %q is not defined in the session; bind it with execute_code before calling FINAL_VAR", args.VariableName)
			}
			state.set(value, TerminalComputedVariable)
			return fmt.Sprintf("final answer recorded from variable %q", args.VariableName), nil
		},
	}

	return []tools.Tool{final, finalVar}
}
