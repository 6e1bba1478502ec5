package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCompletion(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordCompletion("anthropic", "claude-sonnet-4-20250514", "success", 1.2, 100, 40)
	m.RecordCompletion("anthropic", "claude-sonnet-4-20250514", "error", 0.1, 0, 0)

	if got := testutil.ToFloat64(m.CompletionCounter.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "success")); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "input")); got != 100 {
		t.Errorf("input tokens = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.TokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "output")); got != 40 {
		t.Errorf("output tokens = %v, want 40", got)
	}
}

func TestRecordBudgetViolation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordBudgetViolation("token_exhausted")
	m.RecordBudgetViolation("token_exhausted")
	m.RecordBudgetViolation("depth_exceeded")

	if got := testutil.ToFloat64(m.BudgetViolations.WithLabelValues("token_exhausted")); got != 2 {
		t.Errorf("token_exhausted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BudgetViolations.WithLabelValues("depth_exceeded")); got != 1 {
		t.Errorf("depth_exceeded = %v, want 1", got)
	}
}

func TestRecordInterpreterRunDefaultsToSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordInterpreterRun("default", "", 0.01)
	m.RecordInterpreterRun("default", "timeout", 30)

	if got := testutil.ToFloat64(m.InterpreterRuns.WithLabelValues("default", "success")); got != 1 {
		t.Errorf("success runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.InterpreterRuns.WithLabelValues("default", "timeout")); got != 1 {
		t.Errorf("timeout runs = %v, want 1", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances must be able to coexist under distinct registries.
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())
	a.RecordTool("adder", "success", 0.001)
	if got := testutil.ToFloat64(b.ToolCounter.WithLabelValues("adder", "success")); got != 0 {
		t.Errorf("registries must be isolated, got %v", got)
	}
}
