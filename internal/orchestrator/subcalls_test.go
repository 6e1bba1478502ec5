package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/haasonsaas/recurse/internal/providers"
	"github.com/haasonsaas/recurse/internal/tools"
	"github.com/haasonsaas/recurse/pkg/models"
)

// subCallTurn scripts an assistant turn that immediately delegates.
func subCallTurn(id, query string, maxTokens int) providers.Turn {
	args := fmt.Sprintf(`{"query": %q, "max_tokens": %d}`, query, maxTokens)
	return providers.Turn{
		ToolCalls: []models.ToolCall{{ID: id, Name: "sub_complete", Arguments: json.RawMessage(args)}},
		Usage:     models.Usage{InputTokens: 10, OutputTokens: 10},
	}
}

func TestSubCompleteRunsChildAndSplicesEvents(t *testing.T) {
	provider := providers.NewScripted(
		subCallTurn("c1", "solve the sub-task", 0),
		// Child completion: answers directly.
		providers.Turn{Text: "sub answer", Usage: models.Usage{InputTokens: 5, OutputTokens: 5}},
		// Parent resumes with the tool result.
		providers.Turn{Text: "final answer", Usage: models.Usage{InputTokens: 8, OutputTokens: 4}},
	)
	engine := NewEngine(provider, nil, nil)

	res, err := engine.Complete(context.Background(), "big task", Options{
		TokenBudget: 10_000,
		MaxDepth:    3,
		SubCalls:    SubCallOptions{Enabled: true},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Response != "final answer" {
		t.Errorf("response = %q", res.Response)
	}
	if len(res.Events) != 3 {
		t.Fatalf("expected 3 events (parent turn, child turn, parent final), got %d", len(res.Events))
	}

	parent, child := res.Events[0], res.Events[1]
	if child.Depth != 1 || child.ParentCallID != parent.CallID {
		t.Errorf("child event depth=%d parent=%q, want depth 1 linked to %q", child.Depth, child.ParentCallID, parent.CallID)
	}
	if child.SubCallType != "sub_complete" {
		t.Errorf("child sub_call_type = %q", child.SubCallType)
	}
	if child.TrajectoryID != res.TrajectoryID {
		t.Errorf("child not merged into outer trajectory")
	}
	// Parent links must always point at an earlier-emitted event.
	seen := map[string]bool{}
	for _, ev := range res.Events {
		if ev.ParentCallID != "" && !seen[ev.ParentCallID] {
			t.Errorf("event %s references parent %s before it was emitted", ev.CallID, ev.ParentCallID)
		}
		seen[ev.CallID] = true
	}

	// The tool result carries the child's answer plus its usage trailer.
	tr := parent.ToolResults[0]
	if !strings.HasPrefix(tr.Content, "sub answer") || !strings.Contains(tr.Content, "1 turns") {
		t.Errorf("sub_complete result = %q", tr.Content)
	}
	// Child consumption is charged back: totals cover all three calls.
	if res.TotalTokens != 42 {
		t.Errorf("TotalTokens = %d, want 42", res.TotalTokens)
	}
}

func TestSubBudgetInheritance(t *testing.T) {
	// Parent budget 1000, 20 consumed by the first turn, factor 0.5: the
	// child inherits 490 tokens. Burning 200 per child turn, the pre-call
	// checks pass at 0/200/400 and fail at 600, naming the 490 cap.
	registry := tools.NewRegistry()
	if err := registry.Register(echoTool("echo")); err != nil {
		t.Fatal(err)
	}
	childTurn := func(id string) providers.Turn {
		return providers.Turn{
			ToolCalls: []models.ToolCall{call(id, "echo", `{"text":"x"}`)},
			Usage:     models.Usage{InputTokens: 100, OutputTokens: 100},
		}
	}
	provider := providers.NewScripted(
		subCallTurn("c1", "sub", 0),
		childTurn("k1"), childTurn("k2"), childTurn("k3"),
		providers.Turn{Text: "done", Usage: models.Usage{InputTokens: 5, OutputTokens: 5}},
	)
	engine := NewEngine(provider, registry, nil)

	res, err := engine.Complete(context.Background(), "task", Options{
		TokenBudget: 1000,
		MaxDepth:    3,
		SubCalls:    SubCallOptions{Enabled: true, InheritanceFactor: 0.5},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var violation string
	for _, tr := range res.Events[0].ToolResults {
		if tr.IsError {
			violation = tr.Content
		}
	}
	if !strings.Contains(violation, "token_exhausted") || !strings.Contains(violation, "490") {
		t.Errorf("child should exhaust its inherited 490-token budget, got %q", violation)
	}
	childTurns := 0
	for _, ev := range res.Events {
		if ev.Depth == 1 {
			childTurns++
		}
	}
	if childTurns != 3 {
		t.Errorf("child ran %d turns, want 3 before exhaustion", childTurns)
	}
}

func TestDepthExhaustionReturnsSentinel(t *testing.T) {
	// The model always delegates. With MaxDepth 2 the runs at depth 0 and
	// 1 recurse; the run at depth 2 gets the sentinel instead, answers,
	// and the tree unwinds without crashing.
	provider := providers.NewScripted(
		subCallTurn("c1", "level 1", 0), // depth 0 delegates
		subCallTurn("c2", "level 2", 0), // depth 1 delegates
		subCallTurn("c3", "level 3", 0), // depth 2 tries; gated
		providers.Turn{Text: "depth 2 summary", Usage: models.Usage{InputTokens: 5, OutputTokens: 5}},
		providers.Turn{Text: "depth 1 summary", Usage: models.Usage{InputTokens: 5, OutputTokens: 5}},
		providers.Turn{Text: "root summary", Usage: models.Usage{InputTokens: 5, OutputTokens: 5}},
	)
	engine := NewEngine(provider, nil, nil)

	res, err := engine.Complete(context.Background(), "recurse forever", Options{
		TokenBudget: 100_000,
		MaxDepth:    2,
		SubCalls:    SubCallOptions{Enabled: true},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Response != "root summary" {
		t.Errorf("response = %q", res.Response)
	}

	// The gated call produced the sentinel as an ordinary tool result.
	var sawSentinel bool
	maxDepth := 0
	for _, ev := range res.Events {
		if ev.Depth > maxDepth {
			maxDepth = ev.Depth
		}
		for _, tr := range ev.ToolResults {
			if tr.Content == DepthSentinel {
				if tr.IsError {
					t.Error("sentinel must be a normal result, not an error")
				}
				sawSentinel = true
			}
		}
	}
	if !sawSentinel {
		t.Error("expected the depth sentinel in a tool result")
	}
	if maxDepth != 2 {
		t.Errorf("max event depth = %d, want 2", maxDepth)
	}
}

func TestPerTurnSubCallCap(t *testing.T) {
	// One turn with three sub-calls against a cap of 2: the third gets an
	// error result, the loop continues.
	turn := providers.Turn{
		ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "sub_complete", Arguments: json.RawMessage(`{"query":"a"}`)},
			{ID: "c2", Name: "sub_complete", Arguments: json.RawMessage(`{"query":"b"}`)},
			{ID: "c3", Name: "sub_complete", Arguments: json.RawMessage(`{"query":"c"}`)},
		},
		Usage: models.Usage{InputTokens: 10, OutputTokens: 10},
	}
	provider := providers.NewScripted(
		turn,
		providers.Turn{Text: "child a", Usage: models.Usage{InputTokens: 2, OutputTokens: 2}},
		providers.Turn{Text: "child b", Usage: models.Usage{InputTokens: 2, OutputTokens: 2}},
		providers.Turn{Text: "done"},
	)
	engine := NewEngine(provider, nil, nil)

	res, err := engine.Complete(context.Background(), "fan out", Options{
		TokenBudget: 100_000,
		MaxDepth:    3,
		SubCalls:    SubCallOptions{Enabled: true, MaxPerTurn: 2},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	results := res.Events[0].ToolResults
	errCount := 0
	for _, tr := range results {
		if tr.IsError {
			errCount++
			if !strings.Contains(tr.Content, "sub-call limit") {
				t.Errorf("unexpected error content %q", tr.Content)
			}
		}
	}
	if errCount != 1 {
		t.Errorf("expected exactly one capped sub-call, got %d errors", errCount)
	}
	if res.Response != "done" {
		t.Errorf("loop should continue after the cap, got %q", res.Response)
	}
}

func TestSessionCostCapBlocksFurtherSubCalls(t *testing.T) {
	// gpt-4o pricing makes the first child's 100k output tokens cost ~ $1,
	// exceeding the five-cent session cap; the second sub-call is refused.
	provider := providers.NewScripted(
		subCallTurn("c1", "expensive child", 0),
		providers.Turn{Text: "child one", Usage: models.Usage{InputTokens: 1000, OutputTokens: 100_000}},
		subCallTurn("c2", "second child", 0),
		providers.Turn{Text: "done", Usage: models.Usage{InputTokens: 5, OutputTokens: 5}},
	)
	engine := NewEngine(provider, nil, nil)

	capUSD := 0.05
	res, err := engine.Complete(context.Background(), "spend", Options{
		Model:       "gpt-4o",
		TokenBudget: 10_000_000,
		MaxDepth:    3,
		SubCalls:    SubCallOptions{Enabled: true, MaxCostPerSession: &capUSD},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var refused bool
	for _, ev := range res.Events {
		for _, tr := range ev.ToolResults {
			if tr.IsError && strings.Contains(tr.Content, "cost cap") {
				refused = true
			}
		}
	}
	if !refused {
		t.Error("expected the second sub-call to hit the session cost cap")
	}
	if res.Response != "done" {
		t.Errorf("loop should continue after refusal, got %q", res.Response)
	}
}

func TestChildBudgetViolationBecomesErrorResult(t *testing.T) {
	// The child inherits a tiny budget and burns through it; the parent
	// receives an error tool-result naming the violation and finishes.
	provider := providers.NewScripted(
		subCallTurn("c1", "hard sub-task", 50),
		providers.Turn{
			ToolCalls: []models.ToolCall{{ID: "k1", Name: "sub_complete", Arguments: json.RawMessage(`{"query":"deeper"}`)}},
			Usage:     models.Usage{InputTokens: 40, OutputTokens: 40},
		},
		providers.Turn{Text: "grandchild", Usage: models.Usage{InputTokens: 30, OutputTokens: 30}},
		providers.Turn{Text: "recovered", Usage: models.Usage{InputTokens: 5, OutputTokens: 5}},
	)
	engine := NewEngine(provider, nil, nil)

	res, err := engine.Complete(context.Background(), "task", Options{
		TokenBudget: 100_000,
		MaxDepth:    4,
		SubCalls:    SubCallOptions{Enabled: true},
	})
	if err != nil {
		t.Fatalf("parent must not fail on a child violation: %v", err)
	}
	if res.Response != "recovered" {
		t.Errorf("response = %q", res.Response)
	}
	var sawViolation bool
	for _, ev := range res.Events {
		for _, tr := range ev.ToolResults {
			if tr.IsError && strings.Contains(tr.Content, "token_exhausted") {
				sawViolation = true
			}
		}
	}
	if !sawViolation {
		t.Error("expected a token_exhausted error tool-result from the child")
	}
}

func TestBatchCompleteOrdersResultsByInput(t *testing.T) {
	batchArgs := `{"queries": ["first", "second", "third"], "max_parallel": 3}`
	provider := providers.NewScripted(
		providers.Turn{
			ToolCalls: []models.ToolCall{{ID: "b1", Name: "batch_complete", Arguments: json.RawMessage(batchArgs)}},
			Usage:     models.Usage{InputTokens: 10, OutputTokens: 10},
		},
		// Children race; the scripted provider answers them in call order
		// with the query echoed back from the request.
		providers.Turn{Text: "answer one", Usage: models.Usage{InputTokens: 2, OutputTokens: 2}},
		providers.Turn{Text: "answer two", Usage: models.Usage{InputTokens: 2, OutputTokens: 2}},
		providers.Turn{Text: "answer three", Usage: models.Usage{InputTokens: 2, OutputTokens: 2}},
		providers.Turn{Text: "combined"},
	)
	engine := NewEngine(provider, nil, nil)

	res, err := engine.Complete(context.Background(), "batch", Options{
		TokenBudget: 100_000,
		MaxDepth:    3,
		SubCalls:    SubCallOptions{Enabled: true},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	tr := res.Events[0].ToolResults[0]
	i1, i2, i3 := strings.Index(tr.Content, "[1]"), strings.Index(tr.Content, "[2]"), strings.Index(tr.Content, "[3]")
	if i1 < 0 || i2 < 0 || i3 < 0 || !(i1 < i2 && i2 < i3) {
		t.Errorf("batch results out of input order:\n%s", tr.Content)
	}
	for _, ev := range res.Events[1:] {
		if ev.Depth == 1 && ev.SubCallType != "batch_complete" {
			t.Errorf("batch child tagged %q", ev.SubCallType)
		}
	}
}

func TestSubCallsDisabledHidesTools(t *testing.T) {
	provider := providers.NewScripted(providers.Turn{Text: "done"})
	engine := NewEngine(provider, nil, nil)

	if _, err := engine.Complete(context.Background(), "go", Options{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	for _, d := range provider.Requests()[0].Tools {
		if d.Name == "sub_complete" || d.Name == "batch_complete" {
			t.Errorf("recursion tool %q offered while sub-calls disabled", d.Name)
		}
	}
}

func TestContextQueryPrefetchPrependsToSystem(t *testing.T) {
	registry := tools.NewRegistry()
	err := registry.Register(&tools.FuncTool{
		ToolName:        "context_query",
		ToolDescription: "fake retrieval",
		ToolSchema:      json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}}}`),
		Handler: func(ctx context.Context, params json.RawMessage) (string, error) {
			return "retrieved docs", nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	provider := providers.NewScripted(
		providers.Turn{
			ToolCalls: []models.ToolCall{{
				ID:        "c1",
				Name:      "sub_complete",
				Arguments: json.RawMessage(`{"query": "sub", "context_query": "how do budgets work"}`),
			}},
			Usage: models.Usage{InputTokens: 10, OutputTokens: 10},
		},
		providers.Turn{Text: "sub answer", Usage: models.Usage{InputTokens: 2, OutputTokens: 2}},
		providers.Turn{Text: "done"},
	)
	engine := NewEngine(provider, registry, nil)

	_, err = engine.Complete(context.Background(), "task", Options{
		System:      "be brief",
		TokenBudget: 100_000,
		MaxDepth:    3,
		SubCalls:    SubCallOptions{Enabled: true},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	childSystem := provider.Requests()[1].System
	if !strings.Contains(childSystem, "retrieved docs") || !strings.Contains(childSystem, "be brief") {
		t.Errorf("child system prompt = %q, want prefetched context prepended", childSystem)
	}
}
