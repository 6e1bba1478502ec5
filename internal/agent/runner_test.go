package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/recurse/internal/orchestrator"
	"github.com/haasonsaas/recurse/internal/providers"
	"github.com/haasonsaas/recurse/internal/sessions"
	"github.com/haasonsaas/recurse/internal/tools"
	"github.com/haasonsaas/recurse/pkg/models"
)

func call(id, name, args string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func usage(in, out int) models.Usage {
	return models.Usage{InputTokens: in, OutputTokens: out}
}

func newTestRunner(t *testing.T, provider providers.Provider, cfg Config) (*Runner, *sessions.Manager) {
	t.Helper()
	manager := sessions.NewManager(sessions.Config{}, nil)
	t.Cleanup(manager.Close)
	engine := orchestrator.NewEngine(provider, tools.NewRegistry(), nil)
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	return NewRunner(engine, manager, cfg, nil), manager
}

func TestSumToHundredViaInterpreterAndFinalVar(t *testing.T) {
	provider := providers.NewScripted(
		// Iteration 1: compute in the sandbox, then stop calling tools.
		providers.Turn{ToolCalls: []models.ToolCall{
			call("c1", "execute_code", `{"code": "result = sum(range(1, 101))"}`),
		}, Usage: usage(20, 10)},
		providers.Turn{Text: "computed the sum", Usage: usage(30, 5)},
		// Iteration 2: deliver the variable.
		providers.Turn{ToolCalls: []models.ToolCall{
			call("c2", "FINAL_VAR", `{"variable_name": "result"}`),
		}, Usage: usage(25, 8)},
		providers.Turn{Text: "done", Usage: usage(28, 3)},
	)
	runner, _ := newTestRunner(t, provider, Config{MaxIterations: 5})

	res, err := runner.Run(context.Background(), "What is 1+2+...+100?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Answer != "5050" {
		t.Errorf("answer = %q, want 5050", res.Answer)
	}
	if res.TerminalType != TerminalComputedVariable {
		t.Errorf("terminal_type = %q", res.TerminalType)
	}
	if res.ForcedTermination {
		t.Error("run was terminal, not forced")
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", res.Iterations)
	}
	if res.TotalTokens != 20+10+30+5+25+8+28+3 {
		t.Errorf("total tokens = %d", res.TotalTokens)
	}
	if len(res.IterationStats) != 2 {
		t.Fatalf("iteration stats = %d entries", len(res.IterationStats))
	}
	if res.IterationStats[0].Tokens != 65 || res.IterationStats[0].ToolCalls != 1 {
		t.Errorf("iteration 1 stat = %+v", res.IterationStats[0])
	}
}

func TestStatusReflectsFinishedRun(t *testing.T) {
	provider := providers.NewScripted(
		providers.Turn{ToolCalls: []models.ToolCall{
			call("c1", "FINAL", `{"answer": "ok"}`),
		}, Usage: usage(10, 5)},
		providers.Turn{Text: "delivered", Usage: usage(12, 2)},
	)
	runner, _ := newTestRunner(t, provider, Config{})

	if st := runner.Status(); st.Running || st.Iteration != 0 {
		t.Errorf("pre-run status = %+v", st)
	}
	if _, err := runner.Run(context.Background(), "task"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := runner.Status()
	if st.Running || !st.IsTerminal || st.Iteration != 1 {
		t.Errorf("post-run status = %+v", st)
	}
	if st.TotalTokens != 29 {
		t.Errorf("status tokens = %d", st.TotalTokens)
	}
}

func TestForcedTerminationAfterMaxIterations(t *testing.T) {
	provider := providers.NewScripted(
		providers.Turn{Text: "thinking", Usage: usage(10, 5)},
		providers.Turn{Text: "still thinking", Usage: usage(12, 6)},
	)
	runner, _ := newTestRunner(t, provider, Config{MaxIterations: 2})

	res, err := runner.Run(context.Background(), "impossible task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.ForcedTermination {
		t.Error("expected forced termination")
	}
	if res.TerminalType != TerminalIterationLimit {
		t.Errorf("terminal_type = %q", res.TerminalType)
	}
	if res.Answer != "still thinking" {
		t.Errorf("answer = %q, want the last response", res.Answer)
	}

	reqs := provider.Requests()
	if len(reqs) != 2 {
		t.Fatalf("provider saw %d requests", len(reqs))
	}
	first := reqs[0].Messages[0].Content
	last := reqs[1].Messages[0].Content
	if strings.Contains(first, "FINAL iteration") {
		t.Error("warning must not appear before the final iteration")
	}
	if !strings.Contains(last, "FINAL iteration") {
		t.Errorf("final iteration prompt missing the termination warning:\n%s", last)
	}
	if !strings.Contains(first, "iteration 1 of 2") || !strings.Contains(last, "iteration 2 of 2") {
		t.Error("prompts must carry the iteration counter")
	}
}

func TestFinalRecordsNaturalLanguageAnswer(t *testing.T) {
	provider := providers.NewScripted(
		providers.Turn{ToolCalls: []models.ToolCall{
			call("c1", "FINAL", `{"answer": "the sky is blue"}`),
		}, Usage: usage(15, 5)},
		providers.Turn{Text: "delivered", Usage: usage(18, 2)},
	)
	runner, _ := newTestRunner(t, provider, Config{})

	res, err := runner.Run(context.Background(), "what color is the sky?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Answer != "the sky is blue" || res.TerminalType != TerminalNaturalLanguage {
		t.Errorf("got %q / %q", res.Answer, res.TerminalType)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Iterations)
	}
}

func TestFinalVarUndefinedDoesNotTerminate(t *testing.T) {
	provider := providers.NewScripted(
		// Iteration 1: FINAL_VAR on a variable nothing bound.
		providers.Turn{ToolCalls: []models.ToolCall{
			call("c1", "FINAL_VAR", `{"variable_name": "missing"}`),
		}, Usage: usage(10, 5)},
		providers.Turn{Text: "variable was not there", Usage: usage(14, 4)},
		// Iteration 2: recover with a direct answer.
		providers.Turn{ToolCalls: []models.ToolCall{
			call("c2", "FINAL", `{"answer": "42"}`),
		}, Usage: usage(12, 4)},
		providers.Turn{Text: "delivered", Usage: usage(13, 2)},
	)
	runner, _ := newTestRunner(t, provider, Config{})

	res, err := runner.Run(context.Background(), "answer me")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want the loop to continue past the failed FINAL_VAR", res.Iterations)
	}
	if res.Answer != "42" || res.ForcedTermination {
		t.Errorf("result = %q forced=%v", res.Answer, res.ForcedTermination)
	}

	// The model saw the lookup failure as an error tool-result.
	reqs := provider.Requests()
	second := reqs[1].Messages
	toolMsg := second[len(second)-1]
	if toolMsg.Role != models.RoleTool || !strings.Contains(toolMsg.Content, "not defined") {
		t.Errorf("tool result = %+v", toolMsg)
	}
}

func TestConfigClampsAreSilent(t *testing.T) {
	cfg := Config{
		MaxIterations: 500,
		MaxDepth:      50,
		CostLimitUSD:  100,
		Timeout:       2 * time.Hour,
	}.sanitized()
	if cfg.MaxIterations != MaxIterationsCap {
		t.Errorf("max_iterations = %d", cfg.MaxIterations)
	}
	if cfg.MaxDepth != MaxDepthCap {
		t.Errorf("max_depth = %d", cfg.MaxDepth)
	}
	if cfg.CostLimitUSD != CostLimitCapUSD {
		t.Errorf("cost_limit = %v", cfg.CostLimitUSD)
	}
	if cfg.Timeout != TimeoutCap {
		t.Errorf("timeout = %v", cfg.Timeout)
	}
}

func TestTokenGuardrailForcesStop(t *testing.T) {
	provider := providers.NewScripted(
		providers.Turn{Text: "burned the budget", Usage: usage(80, 40)},
	)
	runner, _ := newTestRunner(t, provider, Config{MaxIterations: 5, TokenBudget: 100})

	res, err := runner.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.ForcedTermination || res.TerminalType != TerminalTokenLimit {
		t.Errorf("forced=%v type=%q", res.ForcedTermination, res.TerminalType)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d", res.Iterations)
	}
	if provider.CallCount() != 1 {
		t.Errorf("provider called %d times after exhaustion", provider.CallCount())
	}
}

func TestCostGuardrailForcesStop(t *testing.T) {
	// gpt-4o output pricing makes 10k output tokens far exceed a cent.
	provider := providers.NewScripted(
		providers.Turn{Text: "expensive", Usage: usage(100, 10_000)},
	)
	runner, _ := newTestRunner(t, provider, Config{
		Model:         "gpt-4o",
		MaxIterations: 5,
		CostLimitUSD:  0.01,
	})

	res, err := runner.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.ForcedTermination || res.TerminalType != TerminalCostLimit {
		t.Errorf("forced=%v type=%q", res.ForcedTermination, res.TerminalType)
	}
	if res.TotalCostUSD == nil || *res.TotalCostUSD < 0.01 {
		t.Errorf("cost = %v", res.TotalCostUSD)
	}
}

func TestCancelStopsBeforeNextIteration(t *testing.T) {
	provider := providers.NewScripted()
	runner, _ := newTestRunner(t, provider, Config{})
	runner.Cancel()

	res, err := runner.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.ForcedTermination || res.TerminalType != TerminalCancelled {
		t.Errorf("forced=%v type=%q", res.ForcedTermination, res.TerminalType)
	}
	if provider.CallCount() != 0 {
		t.Errorf("cancelled run still called the provider %d times", provider.CallCount())
	}
}

func TestActionSummariesKeepLastFive(t *testing.T) {
	turns := make([]providers.Turn, 7)
	for i := range turns {
		turns[i] = providers.Turn{Text: "working", Usage: usage(5, 2)}
	}
	provider := providers.NewScripted(turns...)
	runner, _ := newTestRunner(t, provider, Config{MaxIterations: 7})

	res, err := runner.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.ActionSummaries) != 5 {
		t.Fatalf("retained %d summaries, want 5", len(res.ActionSummaries))
	}
	if !strings.Contains(res.ActionSummaries[0], "iteration 3") {
		t.Errorf("oldest retained = %q, want iteration 3", res.ActionSummaries[0])
	}
	if !strings.Contains(res.ActionSummaries[4], "iteration 7") {
		t.Errorf("newest retained = %q", res.ActionSummaries[4])
	}
}

func TestAutoContextMergesIntoSystemPrompt(t *testing.T) {
	provider := providers.NewScripted(
		providers.Turn{ToolCalls: []models.ToolCall{
			call("c1", "FINAL", `{"answer": "ok"}`),
		}, Usage: usage(10, 5)},
		providers.Turn{Text: "delivered", Usage: usage(12, 2)},
	)
	manager := sessions.NewManager(sessions.Config{}, nil)
	t.Cleanup(manager.Close)

	registry := tools.NewRegistry()
	var seenQuery string
	_ = registry.Register(&tools.FuncTool{
		ToolName:        "context_query",
		ToolDescription: "doc retrieval",
		ToolSchema:      json.RawMessage(`{"type": "object", "properties": {"query": {"type": "string"}}}`),
		Handler: func(ctx context.Context, params json.RawMessage) (string, error) {
			var args struct {
				Query string `json:"query"`
			}
			_ = json.Unmarshal(params, &args)
			seenQuery = args.Query
			return "ledger docs excerpt", nil
		},
	})
	engine := orchestrator.NewEngine(provider, registry, nil)
	runner := NewRunner(engine, manager, Config{
		Model:       "test-model",
		System:      "You are an assistant.",
		AutoContext: true,
	}, nil)

	if _, err := runner.Run(context.Background(), "explain the ledger"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seenQuery != "explain the ledger" {
		t.Errorf("context_query saw %q", seenQuery)
	}
	req := provider.Requests()[0]
	if !strings.Contains(req.System, "You are an assistant.") || !strings.Contains(req.System, "ledger docs excerpt") {
		t.Errorf("system prompt = %q", req.System)
	}
}

func TestDeadlineGuardrailForcesStop(t *testing.T) {
	provider := providers.NewScripted()
	runner, _ := newTestRunner(t, provider, Config{Timeout: time.Nanosecond})

	res, err := runner.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.ForcedTermination || res.TerminalType != TerminalDeadline {
		t.Errorf("forced=%v type=%q", res.ForcedTermination, res.TerminalType)
	}
}
