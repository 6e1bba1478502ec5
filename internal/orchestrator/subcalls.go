package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/recurse/internal/budget"
	"github.com/haasonsaas/recurse/internal/trajectory"
	"github.com/haasonsaas/recurse/pkg/models"
)

// recursiveTool is the dispatch-side contract of the sub-completion tools:
// unlike ordinary tools they return the child run's trajectory events so
// the outer turn can splice them in behind its own event.
type recursiveTool interface {
	Name() string
	runSub(ctx context.Context, parentCallID string, raw json.RawMessage) (string, []models.TrajectoryEvent, error)
}

// subCompleteTool re-enters the completion loop at depth+1 with a budget
// derived from the parent's remaining.
type subCompleteTool struct {
	parent *run
}

type subCompleteArgs struct {
	Query        string `json:"query"`
	MaxTokens    int    `json:"max_tokens"`
	System       string `json:"system"`
	ContextQuery string `json:"context_query"`
}

func (t *subCompleteTool) Name() string { return "sub_complete" }

func (t *subCompleteTool) Description() string {
	return "Delegate a focused sub-task to a recursive completion with its own slice of the remaining budget. " +
		"Returns the sub-completion's final answer. Use context_query to pre-fetch documentation for the sub-task."
}

func (t *subCompleteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The sub-task to complete"},
			"max_tokens": {"type": "integer", "description": "Token budget to request for the sub-task"},
			"system": {"type": "string", "description": "System prompt override for the sub-task"},
			"context_query": {"type": "string", "description": "Documentation query whose results are prepended to the sub-task's system prompt"}
		},
		"required": ["query"]
	}`)
}

// Execute satisfies tools.Tool for direct invocation; engine dispatch goes
// through runSub so child events reach the outer trajectory.
func (t *subCompleteTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	text, _, err := t.runSub(ctx, "", params)
	return text, err
}

func (t *subCompleteTool) runSub(ctx context.Context, parentCallID string, raw json.RawMessage) (string, []models.TrajectoryEvent, error) {
	var args subCompleteArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", nil, err
	}
	return t.parent.subComplete(ctx, parentCallID, "sub_complete", args)
}

// subComplete runs one child completion and charges its consumption back
// to this run's ledger.
func (r *run) subComplete(ctx context.Context, parentCallID, kind string, args subCompleteArgs) (string, []models.TrajectoryEvent, error) {
	e := r.engine

	system := args.System
	if system == "" {
		system = r.opts.System
	}
	if args.ContextQuery != "" {
		if pre := r.prefetchContext(ctx, args.ContextQuery); pre != "" {
			system = strings.TrimSpace("Relevant context:\n" + pre + "\n\n" + system)
		}
	}

	childLedger := budget.NewLedger(r.ledger.DeriveSub(args.MaxTokens, r.opts.SubCalls.InheritanceFactor))
	childRec := trajectory.NewRecorder(r.rec.ID())
	child := &run{
		engine:       e,
		opts:         r.opts,
		ledger:       childLedger,
		rec:          childRec,
		shared:       r.shared,
		depth:        r.depth + 1,
		parentCallID: parentCallID,
		subCallType:  kind,
	}

	messages := []models.Message{{Role: models.RoleUser, Content: args.Query}}
	text, _, err := child.loop(ctx, system, args.Query, messages, child.toolSet())

	r.ledger.ChargeBack(childLedger)
	snap := childLedger.Snapshot()
	events := childRec.Events()

	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.RecordSubCompletion(kind, status)
	}

	if err != nil {
		var berr *budget.Error
		if errors.As(err, &berr) {
			// The child ran out of budget; the outer turn keeps going with
			// an error tool-result naming the violation.
			return "", events, fmt.Errorf("sub-completion ended early (%s): %s", berr.Violation, berr.Detail)
		}
		return "", events, err
	}

	summary := fmt.Sprintf("%s\n\n[sub-completion: %d turns, %d tokens, %d tool calls]",
		text, len(events), snap.TokensUsed, snap.ToolCalls)
	return summary, events, nil
}

// prefetchContext runs the registered documentation-retrieval tool for a
// sub-task. Failures only cost the sub-task its context, never the run.
func (r *run) prefetchContext(ctx context.Context, query string) string {
	ctxTool, ok := r.engine.registry.Get("context_query")
	if !ok {
		return ""
	}
	params, err := json.Marshal(map[string]any{"query": query})
	if err != nil {
		return ""
	}
	out, err := safeExecute(ctx, ctxTool, params)
	if err != nil {
		r.engine.logger.Warn("context pre-fetch failed", "query", query, "error", err)
		return ""
	}
	return out
}

// batchCompleteTool fans several queries out through sub_complete under a
// semaphore, splitting a total budget evenly.
type batchCompleteTool struct {
	parent *run
}

type batchCompleteArgs struct {
	Queries     []string `json:"queries"`
	MaxParallel int      `json:"max_parallel"`
	TotalBudget int      `json:"total_budget"`
}

func (t *batchCompleteTool) Name() string { return "batch_complete" }

func (t *batchCompleteTool) Description() string {
	return "Run several independent sub-tasks as parallel recursive completions. " +
		"The total token budget is split evenly; results come back in input order."
}

func (t *batchCompleteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"queries": {"type": "array", "items": {"type": "string"}, "minItems": 1, "description": "Independent sub-tasks to run"},
			"max_parallel": {"type": "integer", "description": "Concurrent sub-completions (default 3)"},
			"total_budget": {"type": "integer", "description": "Token budget split evenly across the queries"}
		},
		"required": ["queries"]
	}`)
}

// Execute satisfies tools.Tool for direct invocation.
func (t *batchCompleteTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	text, _, err := t.runSub(ctx, "", params)
	return text, err
}

func (t *batchCompleteTool) runSub(ctx context.Context, parentCallID string, raw json.RawMessage) (string, []models.TrajectoryEvent, error) {
	var args batchCompleteArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", nil, err
	}
	if len(args.Queries) == 0 {
		return "", nil, errors.New("batch_complete requires at least one query")
	}

	perQuery := 0
	if args.TotalBudget > 0 {
		perQuery = args.TotalBudget / len(args.Queries)
	}
	maxParallel := args.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 3
	}
	if maxParallel > len(args.Queries) {
		maxParallel = len(args.Queries)
	}

	texts := make([]string, len(args.Queries))
	events := make([][]models.TrajectoryEvent, len(args.Queries))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup
	for i, query := range args.Queries {
		wg.Add(1)
		go func(i int, query string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			text, evs, err := t.parent.subComplete(ctx, parentCallID, "batch_complete", subCompleteArgs{
				Query:     query,
				MaxTokens: perQuery,
			})
			if err != nil {
				text = "error: " + err.Error()
			}
			texts[i] = text
			events[i] = evs
		}(i, query)
	}
	wg.Wait()

	var b strings.Builder
	var all []models.TrajectoryEvent
	for i, text := range texts {
		fmt.Fprintf(&b, "[%d] %s", i+1, text)
		if i < len(texts)-1 {
			b.WriteString("\n\n")
		}
		all = append(all, events[i]...)
	}
	return b.String(), all, nil
}
