// Package agent is the outer iteration loop over the completion engine.
// A run repeats completions until the model invokes a terminal tool or a
// guardrail (iterations, tokens, cost, wallclock, cancellation) stops it.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/recurse/internal/budget"
	"github.com/haasonsaas/recurse/internal/orchestrator"
	"github.com/haasonsaas/recurse/internal/sessions"
	"github.com/haasonsaas/recurse/internal/trajectory"
	"github.com/haasonsaas/recurse/pkg/models"
)

// Runner executes agent runs against one engine and one session manager.
// A Runner is single-run: construct one per task.
type Runner struct {
	engine   *orchestrator.Engine
	sessions *sessions.Manager
	cfg      Config
	logger   *slog.Logger

	cancelled atomic.Bool

	statusMu sync.Mutex
	status   Status
}

// NewRunner builds a runner. Config limits past the hard caps are clamped
// here, silently. A nil logger uses slog.Default.
func NewRunner(engine *orchestrator.Engine, manager *sessions.Manager, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		engine:   engine,
		sessions: manager,
		cfg:      cfg.sanitized(),
		logger:   logger,
	}
}

// Cancel requests a cooperative stop. The flag is read at iteration
// boundaries; an in-flight completion and its tool handlers finish first.
func (r *Runner) Cancel() { r.cancelled.Store(true) }

// Status returns a snapshot of the run's progress. Safe to call from any
// goroutine, including while Run is in flight.
func (r *Runner) Status() Status {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.status
}

func (r *Runner) publishStatus(st *runState, running, isTerminal bool) {
	s := Status{
		Running:        running,
		Iteration:      st.iterations,
		TotalTokens:    st.totalTokens,
		TotalToolCalls: st.totalToolCalls,
		IsTerminal:     isTerminal,
	}
	if st.costKnown {
		cost := st.costUSD
		s.CostUSD = &cost
	}
	r.statusMu.Lock()
	r.status = s
	r.statusMu.Unlock()
}

// Run drives the task to termination. The returned Result is populated on
// every exit path; a non-nil error means the provider failed and the
// Result holds what was produced before the failure.
func (r *Runner) Run(ctx context.Context, task string) (*Result, error) {
	start := time.Now()
	deadline := start.Add(r.cfg.Timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	sessionID := r.cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	trajectoryID := uuid.NewString()

	var sinks []trajectory.Sink
	if r.cfg.TrajectoryLog != "" {
		sink, err := trajectory.OpenJSONLFile(r.cfg.TrajectoryLog, trajectoryID)
		if err != nil {
			return nil, fmt.Errorf("agent: %w", err)
		}
		defer sink.Close()
		sinks = append(sinks, sink)
	}

	terminal := &terminalState{}
	execTool := sessions.NewExecTool(r.sessions, sessionID)
	extras := terminalTools(terminal, r.sessions, sessionID)
	extras = append(extras, execTool)
	extras = append(extras, sessions.ContextTools(r.sessions, sessionID)...)

	system := r.cfg.System
	st := &runState{sessionID: sessionID, trajectoryID: trajectoryID, costKnown: true}

	for iteration := 1; iteration <= r.cfg.MaxIterations; iteration++ {
		if r.cancelled.Load() {
			return r.forced(st, TerminalCancelled, start), nil
		}
		if cause, breached := r.guardrail(st, deadline); breached {
			return r.forced(st, cause, start), nil
		}

		if iteration == 1 && r.cfg.AutoContext {
			system = r.mergeAutoContext(ctx, system, task)
		}

		remaining := r.cfg.TokenBudget - st.totalTokens
		final := iteration == r.cfg.MaxIterations
		prompt := buildPrompt(task, iteration, r.cfg.MaxIterations, st.actions, remaining, final)

		slice := min(remaining, 2*r.cfg.TokenBudget/r.cfg.MaxIterations)
		if slice < 1 {
			// 0 would lift the cap for the iteration entirely.
			slice = 1
		}
		remainingCost := r.cfg.CostLimitUSD - st.costUSD

		opts := orchestrator.Options{
			Model:         r.cfg.Model,
			System:        system,
			MaxDepth:      r.cfg.MaxDepth,
			TokenBudget:   slice,
			CostBudgetUSD: &remainingCost,
			ToolBudget:    r.cfg.ToolBudget,
			Timeout:       time.Until(deadline),
			ParallelTools: r.cfg.ParallelTools,
			MaxParallel:   r.cfg.MaxParallel,
			SubCalls:      r.cfg.SubCalls,
			Extras:        extras,
			TrajectoryID:  trajectoryID,
			Sinks:         sinks,
		}

		res, err := r.engine.Complete(ctx, prompt, opts)
		st.iterations = iteration
		if res != nil {
			st.absorb(res)
			st.stats = append(st.stats, iterationStat(iteration, res))
			st.actions = pushAction(st.actions, summarizeIteration(iteration, topLevelToolNames(res.Events), res.Response))
		}
		r.publishStatus(st, true, false)
		if err != nil {
			var berr *budget.Error
			if errors.As(err, &berr) {
				// The iteration ran out of its slice; the outer guardrails
				// decide whether the run continues.
				r.logger.Debug("iteration ended on budget",
					"iteration", iteration, "violation", berr.Violation, "detail", berr.Detail)
				if berr.Violation == budget.DeadlineReached {
					return r.forced(st, TerminalDeadline, start), nil
				}
			} else {
				return r.forced(st, TerminalIterationLimit, start), fmt.Errorf("agent iteration %d: %w", iteration, err)
			}
		}

		if ok, value, termType := terminal.get(); ok {
			r.logger.Info("agent run terminal",
				"terminal_type", termType, "iterations", iteration, "total_tokens", st.totalTokens)
			r.publishStatus(st, false, true)
			out := st.result(start)
			out.Answer = value
			out.TerminalType = termType
			return out, nil
		}
	}

	r.publishStatus(st, false, false)
	return r.forced(st, TerminalIterationLimit, start), nil
}

// iterationStat condenses one completion's totals into the per-iteration
// accounting line.
func iterationStat(iteration int, res *orchestrator.Result) IterationStat {
	stat := IterationStat{
		Iteration: iteration,
		Tokens:    res.TotalTokens,
		ToolCalls: res.TotalToolCalls,
		CostUSD:   res.TotalCostUSD,
	}
	preview := strings.TrimSpace(res.Response)
	if len(preview) > 120 {
		preview = preview[:120] + "..."
	}
	stat.ResponsePreview = preview
	return stat
}

// forced finalizes a run that stopped without a terminal tool.
func (r *Runner) forced(st *runState, cause string, start time.Time) *Result {
	r.publishStatus(st, false, false)
	return st.forced(r.logger, cause, start)
}

// guardrail reports the first breached outer limit.
func (r *Runner) guardrail(st *runState, deadline time.Time) (string, bool) {
	switch {
	case st.totalTokens >= r.cfg.TokenBudget:
		return TerminalTokenLimit, true
	case st.costKnown && st.costUSD >= r.cfg.CostLimitUSD:
		return TerminalCostLimit, true
	case !time.Now().Before(deadline):
		return TerminalDeadline, true
	}
	return "", false
}

// mergeAutoContext fetches documentation for the task through the
// registered context_query tool and folds it into the system prompt.
// Fetch failures degrade to the original prompt.
func (r *Runner) mergeAutoContext(ctx context.Context, system, task string) string {
	tool, ok := r.engine.Registry().Get("context_query")
	if !ok {
		r.logger.Debug("auto-context skipped", "reason", "context_query not registered")
		return system
	}
	args, _ := json.Marshal(map[string]any{"query": task, "max_tokens": r.cfg.ContextBudget})
	docs, err := tool.Execute(ctx, args)
	if err != nil {
		r.logger.Warn("auto-context fetch failed", "error", err)
		return system
	}
	if docs == "" {
		return system
	}
	if system == "" {
		return "Relevant documentation:\n" + docs
	}
	return system + "\n\nRelevant documentation:\n" + docs
}

// runState accumulates across iterations.
type runState struct {
	sessionID    string
	trajectoryID string

	iterations     int
	totalTokens    int
	totalToolCalls int
	costUSD        float64
	costKnown      bool
	lastResponse   string
	actions        []string
	stats          []IterationStat
	events         []models.TrajectoryEvent
}

func (st *runState) absorb(res *orchestrator.Result) {
	st.totalTokens += res.TotalTokens
	st.totalToolCalls += res.TotalToolCalls
	if res.TotalCostUSD != nil {
		st.costUSD += *res.TotalCostUSD
	} else if len(res.Events) > 0 {
		st.costKnown = false
	}
	if res.Response != "" {
		st.lastResponse = res.Response
	}
	st.events = append(st.events, res.Events...)
}

func (st *runState) result(start time.Time) *Result {
	out := &Result{
		Iterations:      st.iterations,
		ActionSummaries: st.actions,
		IterationStats:  st.stats,
		TotalTokens:     st.totalTokens,
		TotalToolCalls:  st.totalToolCalls,
		Duration:        time.Since(start),
		TrajectoryID:    st.trajectoryID,
		SessionID:       st.sessionID,
		Events:          st.events,
	}
	if st.costKnown {
		cost := st.costUSD
		out.TotalCostUSD = &cost
	}
	return out
}

func (st *runState) forced(logger *slog.Logger, cause string, start time.Time) *Result {
	logger.Info("agent run forced to stop",
		"terminal_type", cause, "iterations", st.iterations, "total_tokens", st.totalTokens)
	out := st.result(start)
	out.Answer = st.lastResponse
	out.TerminalType = cause
	out.ForcedTermination = true
	return out
}

// topLevelToolNames lists the tool names the root completion called, in
// call order, skipping sub-completion turns.
func topLevelToolNames(events []models.TrajectoryEvent) []string {
	var names []string
	for _, ev := range events {
		if ev.Depth != 0 {
			continue
		}
		for _, tc := range ev.ToolCalls {
			names = append(names, tc.Name)
		}
	}
	return names
}

func pushAction(actions []string, summary string) []string {
	actions = append(actions, summary)
	if len(actions) > actionHistorySize {
		actions = actions[len(actions)-actionHistorySize:]
	}
	return actions
}
