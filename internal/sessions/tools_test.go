package sessions

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newTestExecTool(t *testing.T) (*Manager, *ExecTool) {
	t.Helper()
	m := NewManager(Config{}, nil)
	t.Cleanup(m.Close)
	return m, NewExecTool(m, "agent")
}

func TestExecToolRunsAndPersistsVariables(t *testing.T) {
	m, tool := newTestExecTool(t)

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"code": "result = sum(range(1, 101))"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "5050") {
		t.Errorf("output = %q, want the result echo", out)
	}

	// The binding persisted in the default session.
	if v, ok := m.LookupVariable("agent", "result"); !ok || v != "5050" {
		t.Errorf("result variable = %q/%v, want 5050", v, ok)
	}
}

func TestExecToolHonorsSessionID(t *testing.T) {
	m, tool := newTestExecTool(t)

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"code": "x = 1", "session_id": "a"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"code": "x = 2", "session_id": "b"}`)); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.LookupVariable("a", "x"); v != "1" {
		t.Errorf("session a x = %q", v)
	}
	if v, _ := m.LookupVariable("b", "x"); v != "2" {
		t.Errorf("session b x = %q", v)
	}
}

func TestExecToolSecurityViolationIsErrorResult(t *testing.T) {
	_, tool := newTestExecTool(t)

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"code": "import os"}`))
	if err == nil {
		t.Fatal("import os must fail")
	}
	msg := err.Error()
	if !strings.Contains(msg, "security_violation") || !strings.Contains(msg, "'os'") {
		t.Errorf("violation should name the kind and module: %q", msg)
	}
	if !strings.Contains(msg, "math") || !strings.Contains(msg, "json") {
		t.Errorf("violation should list the allowlist: %q", msg)
	}
}

func TestExecToolContextOverrides(t *testing.T) {
	_, tool := newTestExecTool(t)

	out, err := tool.Execute(context.Background(), json.RawMessage(
		`{"code": "print(context['name'])", "context": {"name": "ada"}}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "ada") {
		t.Errorf("output = %q, want the override visible", out)
	}
}

func TestExecToolDrainsInterpreterResults(t *testing.T) {
	_, tool := newTestExecTool(t)

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"code": "print('one')"}`)); err != nil {
		t.Fatal(err)
	}
	_, _ = tool.Execute(context.Background(), json.RawMessage(`{"code": "import os"}`))

	results := tool.DrainInterpreterResults()
	if len(results) != 2 {
		t.Fatalf("drained %d results, want 2", len(results))
	}
	if results[0].ErrorKind != "" || !strings.Contains(results[0].Output, "one") {
		t.Errorf("first result = %+v", results[0])
	}
	if results[1].ErrorKind != "security_violation" {
		t.Errorf("second result kind = %q", results[1].ErrorKind)
	}
	if again := tool.DrainInterpreterResults(); len(again) != 0 {
		t.Errorf("drain must clear the buffer, got %d", len(again))
	}
}

func TestContextGetSetTools(t *testing.T) {
	m := NewManager(Config{}, nil)
	t.Cleanup(m.Close)
	pair := ContextTools(m, "agent")
	get, set := pair[0], pair[1]

	if _, err := set.Execute(context.Background(), json.RawMessage(`{"key": "topic", "value": "budgets"}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := get.Execute(context.Background(), json.RawMessage(`{"key": "topic"}`))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != "budgets" {
		t.Errorf("get returned %q", out)
	}

	// Whole-dict read.
	all, err := get.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if !strings.Contains(all, "topic") || !strings.Contains(all, "budgets") {
		t.Errorf("full dict = %q", all)
	}

	// Missing key is an error the model can react to.
	if _, err := get.Execute(context.Background(), json.RawMessage(`{"key": "missing"}`)); err == nil {
		t.Error("missing key should error")
	}
}
