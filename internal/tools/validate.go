package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator compiles tool parameter schemas on first use and validates
// call arguments against them. Compiled schemas are cached per tool name;
// Unregister-then-Register of a different schema under the same name is
// not supported mid-session.
type Validator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{compiled: make(map[string]*jsonschema.Schema)}
}

// Normalize parses raw arguments, repairing common model-emitted JSON
// defects (trailing commas, single quotes, unquoted keys) before giving
// up. It returns the canonical raw form and the decoded value.
func Normalize(raw json.RawMessage) (json.RawMessage, any, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		return raw, decoded, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(string(raw))
	if repairErr != nil {
		return nil, nil, fmt.Errorf("arguments are not valid JSON: %s", string(raw))
	}
	if err := json.Unmarshal([]byte(repaired), &decoded); err != nil {
		return nil, nil, fmt.Errorf("arguments are not valid JSON after repair: %v", err)
	}
	return json.RawMessage(repaired), decoded, nil
}

// Validate checks decoded arguments against the tool's parameter schema.
// A tool with an empty schema accepts anything.
func (v *Validator) Validate(tool Tool, decoded any) error {
	raw := tool.Schema()
	if len(raw) == 0 {
		return nil
	}

	schema, err := v.schemaFor(tool.Name(), raw)
	if err != nil {
		return err
	}
	if err := schema.Validate(decoded); err != nil {
		return err
	}
	return nil
}

func (v *Validator) schemaFor(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.compiled[name]; ok {
		return s, nil
	}
	s, err := jsonschema.CompileString(name+".json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema for tool %q: %w", name, err)
	}
	v.compiled[name] = s
	return s, nil
}
