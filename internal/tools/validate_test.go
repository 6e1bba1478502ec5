package tools

import (
	"encoding/json"
	"testing"
)

func schemaTool(schema string) *FuncTool {
	return &FuncTool{
		ToolName:   "calc",
		ToolSchema: json.RawMessage(schema),
	}
}

const calcSchema = `{
	"type": "object",
	"properties": {
		"expression": {"type": "string"},
		"precision": {"type": "integer"}
	},
	"required": ["expression"]
}`

func TestValidateAcceptsConformingArguments(t *testing.T) {
	v := NewValidator()
	tool := schemaTool(calcSchema)

	_, decoded, err := Normalize(json.RawMessage(`{"expression":"1+1","precision":2}`))
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if err := v.Validate(tool, decoded); err != nil {
		t.Errorf("conforming arguments rejected: %v", err)
	}
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	v := NewValidator()
	tool := schemaTool(calcSchema)

	_, decoded, err := Normalize(json.RawMessage(`{"precision":2}`))
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if err := v.Validate(tool, decoded); err == nil {
		t.Error("missing required property should fail validation")
	}
}

func TestValidateRejectsWrongType(t *testing.T) {
	v := NewValidator()
	tool := schemaTool(calcSchema)

	_, decoded, err := Normalize(json.RawMessage(`{"expression":"1+1","precision":"two"}`))
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if err := v.Validate(tool, decoded); err == nil {
		t.Error("string for integer property should fail validation")
	}
}

func TestValidateEmptySchemaAcceptsAnything(t *testing.T) {
	v := NewValidator()
	tool := &FuncTool{ToolName: "freeform"}

	_, decoded, err := Normalize(json.RawMessage(`{"whatever":[1,2,3]}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Validate(tool, decoded); err != nil {
		t.Errorf("empty schema should accept anything, got %v", err)
	}
}

func TestNormalizeRepairsSloppyJSON(t *testing.T) {
	// Trailing comma, as models sometimes emit.
	raw, decoded, err := Normalize(json.RawMessage(`{"expression": "1+1",}`))
	if err != nil {
		t.Fatalf("repairable JSON rejected: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded to %T, want object", decoded)
	}
	if m["expression"] != "1+1" {
		t.Errorf("expression = %v, want 1+1", m["expression"])
	}
	var roundTrip map[string]any
	if err := json.Unmarshal(raw, &roundTrip); err != nil {
		t.Errorf("normalized raw form is not valid JSON: %v", err)
	}
}

func TestNormalizeEmptyArgumentsMeansEmptyObject(t *testing.T) {
	_, decoded, err := Normalize(nil)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := decoded.(map[string]any)
	if !ok || len(m) != 0 {
		t.Errorf("nil arguments should decode to empty object, got %v", decoded)
	}
}
