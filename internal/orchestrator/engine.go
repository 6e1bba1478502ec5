// Package orchestrator drives recursive completions. One Complete call
// loops a single conversation one LLM turn at a time, dispatching the tool
// calls each turn produces and charging every token, dollar, and tool
// invocation against a per-completion ledger. When recursion is enabled,
// the sub-completion tools re-enter the same loop at increased depth with
// a budget derived from the parent's remaining.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/recurse/internal/budget"
	"github.com/haasonsaas/recurse/internal/metrics"
	"github.com/haasonsaas/recurse/internal/pricing"
	"github.com/haasonsaas/recurse/internal/providers"
	"github.com/haasonsaas/recurse/internal/tools"
	"github.com/haasonsaas/recurse/internal/trajectory"
	"github.com/haasonsaas/recurse/pkg/models"
)

const (
	// DepthSentinel is the tool result sub_complete returns instead of
	// recursing when the run is already at max depth.
	DepthSentinel = "Maximum recursion depth reached; summarize with available context"

	// DefaultInheritanceFactor is the fraction of the parent's remaining
	// token budget a sub-completion may claim.
	DefaultInheritanceFactor = 0.5

	// DefaultMaxSubPerTurn caps sub-call invocations within one turn.
	DefaultMaxSubPerTurn = 5

	// DefaultMaxParallel sizes the tool-dispatch semaphore.
	DefaultMaxParallel = 4
)

// SubCallOptions is the recursion policy for one completion.
type SubCallOptions struct {
	// Enabled registers sub_complete and batch_complete as per-call extras.
	Enabled bool

	// MaxPerTurn caps sub-calls within one turn; excess invocations get an
	// error tool-result. Zero means DefaultMaxSubPerTurn.
	MaxPerTurn int

	// InheritanceFactor is the fraction of remaining budget a sub-call
	// inherits. Zero means DefaultInheritanceFactor.
	InheritanceFactor float64

	// MaxCostPerSession caps the accumulated sub-call spend of one
	// top-level completion. Nil means uncapped.
	MaxCostPerSession *float64
}

// Options configure one completion call.
type Options struct {
	Model       string
	System      string
	Temperature float64

	// MaxTokensPerCall caps output tokens per provider call. Zero leaves
	// the provider default.
	MaxTokensPerCall int

	MaxDepth      int
	TokenBudget   int
	CostBudgetUSD *float64
	ToolBudget    int
	Timeout       time.Duration

	// ParallelTools dispatches a turn's tool calls concurrently under a
	// semaphore of MaxParallel. Results are presented back to the model in
	// its original call order either way.
	ParallelTools bool
	MaxParallel   int

	// ForceJSON asks the provider for JSON output; the decoded value is
	// attached to Result.Parsed.
	ForceJSON bool

	SubCalls SubCallOptions

	// Extras are per-call tools layered over the registry. They shadow
	// registry entries of the same name and never leak past this call.
	Extras []tools.Tool

	// TrajectoryID pins the trajectory id; empty mints a fresh UUID.
	TrajectoryID string

	// Sinks receive every trajectory event as it is emitted.
	Sinks []trajectory.Sink
}

func (o Options) withDefaults() Options {
	if o.MaxParallel <= 0 {
		o.MaxParallel = DefaultMaxParallel
	}
	if o.SubCalls.MaxPerTurn <= 0 {
		o.SubCalls.MaxPerTurn = DefaultMaxSubPerTurn
	}
	if o.SubCalls.InheritanceFactor <= 0 || o.SubCalls.InheritanceFactor > 1 {
		o.SubCalls.InheritanceFactor = DefaultInheritanceFactor
	}
	return o
}

// Result is the outcome of one completion. It is constructible even when
// the run aborted: events recorded before the failure are included.
type Result struct {
	Response string

	// Parsed is the decoded response when ForceJSON was set. Nil otherwise.
	Parsed any

	TrajectoryID   string
	TotalCalls     int
	TotalTokens    int
	TotalToolCalls int
	Duration       time.Duration

	// TotalCostUSD is nil when any turn ran a model without pricing.
	TotalCostUSD *float64

	Events []models.TrajectoryEvent

	// BudgetViolation is set when the run ended on a budget violation.
	BudgetViolation *budget.Error
}

// Engine runs completions against one provider and one tool registry. An
// Engine is safe for concurrent completions; each call gets its own
// ledger, trajectory, and tool scope.
type Engine struct {
	provider  providers.Provider
	registry  *tools.Registry
	validator *tools.Validator
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewEngine creates an engine. A nil registry gets an empty one; a nil
// logger uses slog.Default.
func NewEngine(provider providers.Provider, registry *tools.Registry, logger *slog.Logger) *Engine {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider:  provider,
		registry:  registry,
		validator: tools.NewValidator(),
		logger:    logger,
	}
}

// SetMetrics attaches Prometheus collectors. Optional; nil disables.
func (e *Engine) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// Registry returns the engine's global tool registry. Mutate it only
// between completions.
func (e *Engine) Registry() *tools.Registry { return e.registry }

// Complete drives one completion from prompt to terminal turn.
//
// On a budget violation the partial Result is returned together with a
// *budget.Error; adapter failures likewise return the events emitted
// before the failure. Tool and interpreter failures never surface here:
// they are delivered to the model as error tool-results.
func (e *Engine) Complete(ctx context.Context, prompt string, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	start := time.Now()

	limits := budget.Limits{
		MaxDepth:      opts.MaxDepth,
		TokenBudget:   opts.TokenBudget,
		CostBudgetUSD: opts.CostBudgetUSD,
		ToolBudget:    opts.ToolBudget,
	}
	if opts.Timeout > 0 {
		limits.Deadline = start.Add(opts.Timeout)
		// One deadline bounds the whole completion tree.
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, limits.Deadline)
		defer cancel()
	}

	rec := trajectory.NewRecorder(opts.TrajectoryID, opts.Sinks...)
	r := &run{
		engine: e,
		opts:   &opts,
		ledger: budget.NewLedger(limits),
		rec:    rec,
		shared: &treeState{},
	}

	messages := []models.Message{{Role: models.RoleUser, Content: prompt}}
	text, parsed, runErr := r.loop(ctx, opts.System, prompt, messages, r.toolSet())

	res := buildResult(rec, text, parsed, time.Since(start))
	if runErr != nil {
		var berr *budget.Error
		if errors.As(runErr, &berr) {
			res.BudgetViolation = berr
		}
		return res, runErr
	}
	return res, nil
}

// Stream runs a single text-only completion, delivering increments on the
// returned channel. Tools are not supported when streaming; requests that
// need tools must go through Complete. The prompt's estimated token count
// is checked against the budgets before the provider call.
func (e *Engine) Stream(ctx context.Context, prompt string, opts Options) (<-chan providers.Chunk, error) {
	opts = opts.withDefaults()

	estimated := pricing.EstimateTokens(opts.System) + pricing.EstimateTokens(prompt)
	if opts.TokenBudget > 0 && estimated >= opts.TokenBudget {
		return nil, &budget.Error{
			Violation: budget.TokenExhausted,
			Detail:    fmt.Sprintf("estimated %d prompt tokens meet the %d token budget before the call", estimated, opts.TokenBudget),
		}
	}
	if opts.CostBudgetUSD != nil {
		if c := pricing.EstimateCost(opts.Model, estimated, 0); c != nil && *c >= *opts.CostBudgetUSD {
			return nil, &budget.Error{
				Violation: budget.CostExhausted,
				Detail:    fmt.Sprintf("estimated prompt cost $%.4f meets the $%.4f budget before the call", *c, *opts.CostBudgetUSD),
			}
		}
	}

	req := &providers.Request{
		Model:       opts.Model,
		System:      opts.System,
		Messages:    []models.Message{{Role: models.RoleUser, Content: prompt}},
		MaxTokens:   opts.MaxTokensPerCall,
		Temperature: opts.Temperature,
	}
	chunks, err := e.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan providers.Chunk)
	go func() {
		defer close(out)
		for ch := range chunks {
			if ch.Done && ch.Usage != nil {
				cost := pricing.EstimateCost(opts.Model, ch.Usage.InputTokens, ch.Usage.OutputTokens)
				e.logger.Info("stream finished",
					"model", opts.Model,
					"input_tokens", ch.Usage.InputTokens,
					"output_tokens", ch.Usage.OutputTokens,
					"estimated_cost", pricing.FormatCost(cost))
				if e.metrics != nil {
					e.metrics.RecordCompletion(e.provider.Name(), opts.Model, "success", 0, ch.Usage.InputTokens, ch.Usage.OutputTokens)
				}
			}
			out <- ch
		}
	}()
	return out, nil
}

func buildResult(rec *trajectory.Recorder, text string, parsed any, dur time.Duration) *Result {
	events := rec.Events()
	res := &Result{
		Response:     text,
		Parsed:       parsed,
		TrajectoryID: rec.ID(),
		TotalCalls:   len(events),
		Duration:     dur,
		Events:       events,
	}
	var cost float64
	costKnown := true
	for _, ev := range events {
		res.TotalTokens += ev.InputTokens + ev.OutputTokens
		res.TotalToolCalls += len(ev.ToolCalls)
		if ev.EstimatedCostUSD == nil {
			costKnown = false
		} else {
			cost += *ev.EstimatedCostUSD
		}
	}
	if costKnown && len(events) > 0 {
		res.TotalCostUSD = &cost
	}
	return res
}
