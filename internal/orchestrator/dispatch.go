package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/recurse/internal/tools"
	"github.com/haasonsaas/recurse/pkg/models"
)

// outcome is everything one tool call produced: the result presented back
// to the model, any sub-completion events to splice into the trajectory,
// and any raw interpreter results for the turn's event.
type outcome struct {
	result      models.ToolResult
	childEvents []models.TrajectoryEvent
	interp      []models.InterpreterResult
}

// turnState tracks per-turn guardrails shared by the concurrent handlers
// of one turn.
type turnState struct {
	mu       sync.Mutex
	subCalls int
}

// dispatch runs every tool call of one turn. Outcomes come back in the
// model's original call order regardless of completion order; with
// ParallelTools the handlers run concurrently under the MaxParallel
// semaphore.
func (r *run) dispatch(ctx context.Context, set *tools.Set, turnCallID string, calls []models.ToolCall) []outcome {
	outcomes := make([]outcome, len(calls))
	turn := &turnState{}

	if r.opts.ParallelTools && len(calls) > 1 {
		sem := make(chan struct{}, r.opts.MaxParallel)
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(i int, call models.ToolCall) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				outcomes[i] = r.dispatchOne(ctx, set, turn, turnCallID, call)
			}(i, call)
		}
		wg.Wait()
		return outcomes
	}

	for i, call := range calls {
		outcomes[i] = r.dispatchOne(ctx, set, turn, turnCallID, call)
	}
	return outcomes
}

// dispatchOne resolves, validates, and executes a single tool call. Every
// failure mode becomes an error tool-result; nothing here aborts the loop.
func (r *run) dispatchOne(ctx context.Context, set *tools.Set, turn *turnState, turnCallID string, call models.ToolCall) outcome {
	e := r.engine
	start := time.Now()
	oc := outcome{result: models.ToolResult{ToolCallID: call.ID}}

	fail := func(err error) outcome {
		oc.result.Content = err.Error()
		oc.result.IsError = true
		if e.metrics != nil {
			e.metrics.RecordTool(call.Name, "error", time.Since(start).Seconds())
		}
		e.logger.Debug("tool call failed", "tool", call.Name, "error", err)
		return oc
	}

	r.ledger.ChargeToolCall()

	tool, ok := set.Lookup(call.Name)
	if !ok {
		return fail(tools.NotFoundError(call.Name, set.Names()))
	}

	raw, decoded, err := tools.Normalize(call.Arguments)
	if err != nil {
		return fail(tools.ValidationError(call.Name, err))
	}
	if err := e.validator.Validate(tool, decoded); err != nil {
		return fail(tools.ValidationError(call.Name, err))
	}

	var content string
	if rt, isSub := tool.(recursiveTool); isSub {
		// Recursion guardrails are enforced here, outside the handler, so
		// the model cannot talk its way past them.
		content, oc.childEvents, err = r.dispatchSub(ctx, rt, turn, turnCallID, raw)
	} else {
		content, err = safeExecute(ctx, tool, raw)
	}
	if src, ok := tool.(tools.InterpreterSource); ok {
		oc.interp = src.DrainInterpreterResults()
	}
	if err != nil {
		return fail(tools.HandlerError(call.Name, err))
	}

	oc.result.Content = content
	if e.metrics != nil {
		e.metrics.RecordTool(call.Name, "success", time.Since(start).Seconds())
	}
	return oc
}

// dispatchSub applies the sub-call guardrails, then re-enters the
// completion loop through the tool.
func (r *run) dispatchSub(ctx context.Context, rt recursiveTool, turn *turnState, turnCallID string, raw json.RawMessage) (string, []models.TrajectoryEvent, error) {
	kind := rt.Name()

	// At the depth cap the model gets a sentinel answer, not an error: it
	// should summarize with what it has rather than retry.
	if r.opts.MaxDepth > 0 && r.depth >= r.opts.MaxDepth {
		if r.engine.metrics != nil {
			r.engine.metrics.RecordSubCompletion(kind, "depth_capped")
		}
		return DepthSentinel, nil, nil
	}

	turn.mu.Lock()
	turn.subCalls++
	over := turn.subCalls > r.opts.SubCalls.MaxPerTurn
	turn.mu.Unlock()
	if over {
		return "", nil, fmt.Errorf("sub-call limit reached: at most %d per turn", r.opts.SubCalls.MaxPerTurn)
	}

	if capUSD := r.opts.SubCalls.MaxCostPerSession; capUSD != nil {
		if spent := r.shared.subCost(); spent >= *capUSD {
			return "", nil, fmt.Errorf("sub-call cost cap reached: $%.4f spent of $%.4f", spent, *capUSD)
		}
	}

	return rt.runSub(ctx, turnCallID, raw)
}

// safeExecute invokes a handler, converting panics into errors.
func safeExecute(ctx context.Context, tool tools.Tool, raw json.RawMessage) (content string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", tools.ErrHandlerPanic, rec)
		}
	}()
	return tool.Execute(ctx, raw)
}
