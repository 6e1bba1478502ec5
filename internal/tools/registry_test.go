package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func textTool(name, desc string) *FuncTool {
	return &FuncTool{
		ToolName:        name,
		ToolDescription: desc,
		ToolSchema:      json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`),
		Handler: func(ctx context.Context, params json.RawMessage) (string, error) {
			return "ok:" + name, nil
		},
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(textTool("search", "first")); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	err := r.Register(textTool("search", "second"))
	if err == nil {
		t.Fatal("expected duplicate name to be rejected")
	}
	if !strings.Contains(err.Error(), "search") {
		t.Errorf("error should name the conflicting tool, got %q", err)
	}
}

func TestRegisterUnregisterRoundTrip(t *testing.T) {
	r := NewRegistry()
	before := r.Names()

	if err := r.Register(textTool("scratch", "temporary")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, ok := r.Get("scratch"); !ok {
		t.Fatal("tool should be visible after register")
	}

	r.Unregister("scratch")
	if _, ok := r.Get("scratch"); ok {
		t.Fatal("tool should be gone after unregister")
	}

	after := r.Names()
	if len(before) != len(after) {
		t.Fatalf("registry state changed across round trip: %v vs %v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("registry state changed across round trip: %v vs %v", before, after)
		}
	}
}

func TestListSortedByName(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(textTool(name, "")); err != nil {
			t.Fatal(err)
		}
	}
	listed := r.List()
	want := []string{"alpha", "mid", "zeta"}
	for i, tool := range listed {
		if tool.Name() != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, tool.Name(), want[i])
		}
	}
}

func TestSetExtrasShadowRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(textTool("lookup", "registry version")); err != nil {
		t.Fatal(err)
	}

	extra := textTool("lookup", "per-call version")
	set := NewSet(r, extra)

	got, ok := set.Lookup("lookup")
	if !ok {
		t.Fatal("lookup should resolve")
	}
	if got.Description() != "per-call version" {
		t.Errorf("extras must shadow registry, got %q", got.Description())
	}

	// The registry itself must be untouched.
	reg, _ := r.Get("lookup")
	if reg.Description() != "registry version" {
		t.Error("registry entry mutated by per-call extras")
	}
}

func TestSetExtrasNotVisibleWithoutSet(t *testing.T) {
	r := NewRegistry()
	set := NewSet(r, textTool("ephemeral", ""))

	if _, ok := set.Lookup("ephemeral"); !ok {
		t.Fatal("extra should resolve through its own set")
	}
	if _, ok := r.Get("ephemeral"); ok {
		t.Fatal("extra leaked into the shared registry")
	}
}

func TestSetDescriptorsDeduplicateShadowed(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(textTool("lookup", "registry version")); err != nil {
		t.Fatal(err)
	}
	set := NewSet(r, textTool("lookup", "per-call version"), textTool("final", ""))

	descs := set.Descriptors()
	count := map[string]int{}
	for _, d := range descs {
		count[d.Name]++
	}
	if count["lookup"] != 1 {
		t.Errorf("shadowed tool should appear once, got %d", count["lookup"])
	}
	if count["final"] != 1 {
		t.Errorf("extra should appear once, got %d", count["final"])
	}
	for _, d := range descs {
		if d.Name == "lookup" && !strings.Contains(d.Description, "per-call") {
			t.Error("descriptor should reflect the shadowing extra")
		}
	}
}

func TestSetDuplicateExtrasResolveToLatest(t *testing.T) {
	set := NewSet(nil, textTool("final", "first")).WithExtras(textTool("final", "second"))

	got, ok := set.Lookup("final")
	if !ok {
		t.Fatal("lookup should resolve")
	}
	if got.Description() != "second" {
		t.Errorf("Lookup resolved %q, want the later extra", got.Description())
	}

	descs := set.Descriptors()
	if len(descs) != 1 {
		t.Fatalf("got %d descriptors, want 1: %+v", len(descs), descs)
	}
	if descs[0].Description != "second" {
		t.Errorf("Descriptors advertised %q; it must match what Lookup dispatches", descs[0].Description)
	}
}

func TestNotFoundErrorListsAvailable(t *testing.T) {
	err := NotFoundError("bogus", []string{"alpha", "beta"})
	msg := err.Error()
	if !strings.Contains(msg, "bogus") || !strings.Contains(msg, "alpha, beta") {
		t.Errorf("not_found message should name the tool and list alternatives, got %q", msg)
	}
	if !errors.Is(err, ErrToolNotFound) {
		t.Error("not_found should unwrap to ErrToolNotFound")
	}
}
