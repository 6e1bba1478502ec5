package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/recurse/internal/interp"
	"github.com/haasonsaas/recurse/internal/metrics"
	"github.com/haasonsaas/recurse/internal/tools"
	"github.com/haasonsaas/recurse/pkg/models"
)

// ExecTool exposes the sandbox to the model as the execute_code tool.
// Raw interpreter results are buffered for the engine to drain into the
// turn's trajectory event.
type ExecTool struct {
	manager        *Manager
	defaultSession string
	metrics        *metrics.Metrics

	mu      sync.Mutex
	pending []models.InterpreterResult
}

// NewExecTool binds the sandbox tool to a manager. defaultSession is used
// when the model omits session_id; empty falls back to "default".
func NewExecTool(manager *Manager, defaultSession string) *ExecTool {
	if defaultSession == "" {
		defaultSession = "default"
	}
	return &ExecTool{manager: manager, defaultSession: defaultSession}
}

// SetMetrics attaches Prometheus collectors. Optional.
func (t *ExecTool) SetMetrics(m *metrics.Metrics) { t.metrics = m }

// Name returns the tool name.
func (t *ExecTool) Name() string { return "execute_code" }

// Description returns the tool description.
func (t *ExecTool) Description() string {
	return "Execute code in a persistent sandbox session. Top-level variables survive between calls in the same session. " +
		"Assign to `result` to mark the value you want to keep. Imports are limited to pure stdlib modules; " +
		"no filesystem, network, or process access."
}

// Schema returns the parameter schema.
func (t *ExecTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"code": {"type": "string", "description": "Code to execute"},
			"session_id": {"type": "string", "description": "Session to run in; defaults to the agent's session"},
			"profile": {"type": "string", "enum": ["quick", "default", "analysis", "extended"], "description": "Resource profile"},
			"context": {"type": "object", "additionalProperties": {"type": "string"}, "description": "Variables merged into the session context dict before running"}
		},
		"required": ["code"]
	}`)
}

type execArgs struct {
	Code      string            `json:"code"`
	SessionID string            `json:"session_id"`
	Profile   string            `json:"profile"`
	Context   map[string]string `json:"context"`
}

// Execute runs the code and renders the result for the model. Sandbox
// failures come back as error results with any partial output attached,
// so the model can adapt; they never abort the completion.
func (t *ExecTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var args execArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return "", err
	}
	sessionID := args.SessionID
	if sessionID == "" {
		sessionID = t.defaultSession
	}
	profile := interp.ProfileByName(args.Profile)

	start := time.Now()
	res := t.manager.ExecuteWithContext(ctx, sessionID, args.Code, profile, args.Context)
	if t.metrics != nil {
		t.metrics.RecordInterpreterRun(profile.Name, res.ErrorKind, time.Since(start).Seconds())
	}

	t.mu.Lock()
	t.pending = append(t.pending, models.InterpreterResult{
		Output:          res.Output,
		Error:           res.Error,
		ErrorKind:       res.ErrorKind,
		ExecutionTimeMS: res.ExecutionTimeMS,
		Truncated:       res.Truncated,
		MemoryPeakBytes: res.MemoryPeakBytes,
	})
	t.mu.Unlock()

	if res.ErrorKind != "" {
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %s", res.ErrorKind, res.Error)
		if res.Output != "" {
			fmt.Fprintf(&b, "\npartial output:\n%s", res.Output)
		}
		return "", fmt.Errorf("%s", b.String())
	}

	out := res.Output
	if out == "" {
		out = "(no output)"
	}
	if res.Truncated {
		out += "\n[output truncated]"
	}
	return out, nil
}

// DrainInterpreterResults implements tools.InterpreterSource.
func (t *ExecTool) DrainInterpreterResults() []models.InterpreterResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.pending
	t.pending = nil
	return out
}

var _ tools.InterpreterSource = (*ExecTool)(nil)

// ContextTools exposes the session context dict to the model without
// running code: one getter, one setter.
func ContextTools(manager *Manager, defaultSession string) []tools.Tool {
	if defaultSession == "" {
		defaultSession = "default"
	}

	get := &tools.FuncTool{
		ToolName:        "interp_context_get",
		ToolDescription: "Read a value from the sandbox session's context dict. Omit key to list everything.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string", "description": "Session to read; defaults to the agent's session"},
				"key": {"type": "string", "description": "Context key; omit for the full dict"}
			}
		}`),
		Handler: func(ctx context.Context, params json.RawMessage) (string, error) {
			var args struct {
				SessionID string `json:"session_id"`
				Key       string `json:"key"`
			}
			if err := json.Unmarshal(params, &args); err != nil {
				return "", err
			}
			if args.SessionID == "" {
				args.SessionID = defaultSession
			}
			s, err := manager.Get(args.SessionID)
			if err != nil {
				return "", fmt.Errorf("session %q not found", args.SessionID)
			}
			dict := s.Interp.GetContext()
			if args.Key != "" {
				v, ok := dict[args.Key]
				if !ok {
					return "", fmt.Errorf("context key %q not set", args.Key)
				}
				return v, nil
			}
			rendered, err := json.Marshal(dict)
			if err != nil {
				return "", err
			}
			return string(rendered), nil
		},
	}

	set := &tools.FuncTool{
		ToolName:        "interp_context_set",
		ToolDescription: "Store a string value in the sandbox session's context dict for later code to read.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string", "description": "Session to write; defaults to the agent's session"},
				"key": {"type": "string", "description": "Context key"},
				"value": {"type": "string", "description": "Value to store"}
			},
			"required": ["key", "value"]
		}`),
		Handler: func(ctx context.Context, params json.RawMessage) (string, error) {
			var args struct {
				SessionID string `json:"session_id"`
				Key       string `json:"key"`
				Value     string `json:"value"`
			}
			if err := json.Unmarshal(params, &args); err != nil {
				return "", err
			}
			if args.SessionID == "" {
				args.SessionID = defaultSession
			}
			s := manager.GetOrCreate(args.SessionID)
			s.Interp.SetContext(args.Key, args.Value)
			return fmt.Sprintf("context[%q] set", args.Key), nil
		},
	}

	return []tools.Tool{get, set}
}
