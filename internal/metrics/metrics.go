// Package metrics exposes Prometheus collectors for the completion
// engine: completions, tokens, tool dispatch, budget violations, and
// interpreter executions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the engine reports to.
type Metrics struct {
	// CompletionCounter counts completion calls.
	// Labels: provider, model, status (success|error)
	CompletionCounter *prometheus.CounterVec

	// CompletionDuration measures completion latency in seconds.
	// Labels: provider, model
	CompletionDuration *prometheus.HistogramVec

	// TokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	TokensUsed *prometheus.CounterVec

	// ToolCounter counts tool dispatches.
	// Labels: tool_name, status (success|error)
	ToolCounter *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolDuration *prometheus.HistogramVec

	// BudgetViolations counts budget violations by kind.
	// Labels: violation (depth_exceeded|token_exhausted|cost_exhausted|tool_exhausted|deadline_reached)
	BudgetViolations *prometheus.CounterVec

	// InterpreterRuns counts sandbox executions.
	// Labels: profile, status (success|execution_error|timeout|security_violation|resource_exceeded)
	InterpreterRuns *prometheus.CounterVec

	// InterpreterDuration measures sandbox execution time in seconds.
	// Labels: profile
	InterpreterDuration *prometheus.HistogramVec

	// SubCompletions counts recursive completion calls.
	// Labels: kind (sub_complete|batch_complete), status (success|error|depth_capped)
	SubCompletions *prometheus.CounterVec

	// ActiveSessions gauges live interpreter sessions.
	ActiveSessions prometheus.Gauge
}

// New registers all collectors against reg. Pass nil to use the default
// registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CompletionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recurse_completions_total",
				Help: "Total number of completion calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		CompletionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recurse_completion_duration_seconds",
				Help:    "Duration of completion calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recurse_tokens_total",
				Help: "Total tokens consumed by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recurse_tool_dispatches_total",
				Help: "Total tool dispatches by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recurse_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		BudgetViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recurse_budget_violations_total",
				Help: "Total budget violations by kind",
			},
			[]string{"violation"},
		),
		InterpreterRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recurse_interpreter_runs_total",
				Help: "Total sandbox executions by profile and status",
			},
			[]string{"profile", "status"},
		),
		InterpreterDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recurse_interpreter_duration_seconds",
				Help:    "Duration of sandbox executions in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120, 300},
			},
			[]string{"profile"},
		),
		SubCompletions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recurse_sub_completions_total",
				Help: "Total recursive completion calls by kind and status",
			},
			[]string{"kind", "status"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "recurse_active_sessions",
				Help: "Current number of live interpreter sessions",
			},
		),
	}
}

// RecordCompletion records one completion call.
func (m *Metrics) RecordCompletion(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.CompletionCounter.WithLabelValues(provider, model, status).Inc()
	m.CompletionDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.TokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordTool records one tool dispatch.
func (m *Metrics) RecordTool(toolName, status string, durationSeconds float64) {
	m.ToolCounter.WithLabelValues(toolName, status).Inc()
	m.ToolDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordBudgetViolation records one budget violation.
func (m *Metrics) RecordBudgetViolation(violation string) {
	m.BudgetViolations.WithLabelValues(violation).Inc()
}

// RecordInterpreterRun records one sandbox execution. An empty errorKind
// counts as success.
func (m *Metrics) RecordInterpreterRun(profile, errorKind string, durationSeconds float64) {
	status := errorKind
	if status == "" {
		status = "success"
	}
	m.InterpreterRuns.WithLabelValues(profile, status).Inc()
	m.InterpreterDuration.WithLabelValues(profile).Observe(durationSeconds)
}

// RecordSubCompletion records one recursive completion call.
func (m *Metrics) RecordSubCompletion(kind, status string) {
	m.SubCompletions.WithLabelValues(kind, status).Inc()
}

// SetActiveSessions reports the current live interpreter session count.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}
