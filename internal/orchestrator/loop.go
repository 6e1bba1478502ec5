package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/recurse/internal/budget"
	"github.com/haasonsaas/recurse/internal/pricing"
	"github.com/haasonsaas/recurse/internal/providers"
	"github.com/haasonsaas/recurse/internal/tools"
	"github.com/haasonsaas/recurse/internal/trajectory"
	"github.com/haasonsaas/recurse/pkg/models"
)

// treeState is shared by every run of one completion tree. It tracks the
// accumulated sub-call spend the session cost cap is enforced against.
type treeState struct {
	mu             sync.Mutex
	subCallCostUSD float64
}

func (t *treeState) addSubCost(usd float64) {
	t.mu.Lock()
	t.subCallCostUSD += usd
	t.mu.Unlock()
}

func (t *treeState) subCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subCallCostUSD
}

// run is one node of the completion tree: the root completion or one
// sub-completion. Each run owns its ledger; consumption is charged back to
// the parent when the run finishes.
type run struct {
	engine *Engine
	opts   *Options
	ledger *budget.Ledger
	rec    *trajectory.Recorder
	shared *treeState

	depth        int
	parentCallID string

	// subCallType tags this run's events when it was entered through a
	// sub-completion tool: "sub_complete" or "batch_complete".
	subCallType string
}

// toolSet builds the tools visible to this run: the registry, the caller's
// extras, and the recursion tools when sub-calls are enabled. Extras are
// scoped to the completion and never leak into the registry.
func (r *run) toolSet() *tools.Set {
	extras := r.opts.Extras
	if r.opts.SubCalls.Enabled {
		combined := make([]tools.Tool, 0, len(extras)+2)
		combined = append(combined, extras...)
		combined = append(combined, &subCompleteTool{parent: r}, &batchCompleteTool{parent: r})
		extras = combined
	}
	return tools.NewSet(r.engine.registry, extras...)
}

// loop runs turns until the model stops calling tools or a budget gives
// out. It returns the final response text and, for ForceJSON runs, the
// decoded body.
func (r *run) loop(ctx context.Context, system, prompt string, messages []models.Message, set *tools.Set) (string, any, error) {
	e := r.engine
	firstTurn := true

	for {
		if verr := r.ledger.Check(r.depth); verr != nil {
			if e.metrics != nil {
				e.metrics.RecordBudgetViolation(string(verr.Violation))
			}
			e.logger.Warn("completion aborted on budget",
				"violation", verr.Violation, "depth", r.depth, "detail", verr.Detail)
			return "", nil, verr
		}

		req := &providers.Request{
			Model:       r.opts.Model,
			System:      system,
			Messages:    messages,
			Tools:       set.Descriptors(),
			MaxTokens:   r.opts.MaxTokensPerCall,
			Temperature: r.opts.Temperature,
			ForceJSON:   r.opts.ForceJSON,
		}

		turnStart := time.Now()
		resp, err := e.provider.Complete(ctx, req)
		turnDur := time.Since(turnStart)
		if err != nil {
			if e.metrics != nil {
				e.metrics.RecordCompletion(e.provider.Name(), r.opts.Model, "error", turnDur.Seconds(), 0, 0)
			}
			r.rec.Record(models.TrajectoryEvent{
				CallID:       uuid.NewString(),
				ParentCallID: r.parentCallID,
				Depth:        r.depth,
				DurationMS:   turnDur.Milliseconds(),
				Error:        err.Error(),
				SubCallType:  r.subCallType,
			})
			return "", nil, fmt.Errorf("provider %s: %w", e.provider.Name(), err)
		}

		cost := pricing.EstimateCost(r.opts.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		var charged float64
		if cost != nil {
			charged = *cost
		}
		r.ledger.Charge(resp.Usage.InputTokens, resp.Usage.OutputTokens, charged)
		if r.depth > 0 {
			// Session-level sub-call spend: every sub-turn counts exactly
			// once, independent of how ledgers charge back up the tree.
			r.shared.addSubCost(charged)
		}
		if e.metrics != nil {
			e.metrics.RecordCompletion(e.provider.Name(), r.opts.Model, "success",
				turnDur.Seconds(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}

		event := models.TrajectoryEvent{
			CallID:           uuid.NewString(),
			ParentCallID:     r.parentCallID,
			Depth:            r.depth,
			Response:         resp.Text,
			ToolCalls:        resp.ToolCalls,
			InputTokens:      resp.Usage.InputTokens,
			OutputTokens:     resp.Usage.OutputTokens,
			DurationMS:       turnDur.Milliseconds(),
			EstimatedCostUSD: cost,
			SubCallType:      r.subCallType,
		}
		if firstTurn {
			event.Prompt = prompt
			firstTurn = false
		}

		if len(resp.ToolCalls) == 0 {
			r.rec.Record(event)
			return resp.Text, resp.Parsed, nil
		}

		outcomes := r.dispatch(ctx, set, event.CallID, resp.ToolCalls)

		results := make([]models.ToolResult, len(outcomes))
		for i, oc := range outcomes {
			results[i] = oc.result
			event.InterpreterResults = append(event.InterpreterResults, oc.interp...)
		}
		event.ToolResults = results

		// The turn event goes to the trajectory before its children so
		// parent links always point backwards.
		r.rec.Record(event)
		for _, oc := range outcomes {
			if len(oc.childEvents) > 0 {
				r.rec.Merge(oc.childEvents)
			}
		}

		messages = append(messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, res := range results {
			messages = append(messages, models.Message{
				Role:       models.RoleTool,
				Content:    res.Content,
				ToolCallID: res.ToolCallID,
			})
		}
	}
}
