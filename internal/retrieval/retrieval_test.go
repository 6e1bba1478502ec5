package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/recurse/internal/tools"
)

type recordedCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Path      string
	Headers   http.Header
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *[]recordedCall) {
	t.Helper()
	var calls []recordedCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call recordedCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		call.Path = r.URL.Path
		call.Headers = r.Header.Clone()
		calls = append(calls, call)
		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(t *testing.T, srv *httptest.Server, token string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: srv.URL, ProjectSlug: "proj", AuthToken: token}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCallPostsToolPayload(t *testing.T) {
	srv, calls := newTestServer(t, 200, `{"ok": true}`)
	c := newTestClient(t, srv, "secret-key")

	raw, err := c.Call(context.Background(), "rlm_search", map[string]any{
		"pattern": "budget",
		"skipped": nil,
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"ok": true}` {
		t.Errorf("raw = %s", raw)
	}

	if len(*calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(*calls))
	}
	call := (*calls)[0]
	if call.Path != "/proj" {
		t.Errorf("path = %s, want /proj", call.Path)
	}
	if call.Tool != "rlm_search" {
		t.Errorf("tool = %s", call.Tool)
	}
	if call.Arguments["pattern"] != "budget" {
		t.Errorf("arguments = %v", call.Arguments)
	}
	if _, ok := call.Arguments["skipped"]; ok {
		t.Error("nil arguments must be stripped")
	}
	if call.Headers.Get("x-api-key") != "secret-key" {
		t.Error("raw token must go in x-api-key")
	}
}

func TestBearerTokenUsesAuthorization(t *testing.T) {
	srv, calls := newTestServer(t, 200, `{}`)
	c := newTestClient(t, srv, "Bearer tok123")

	if _, err := c.Call(context.Background(), "rlm_read", nil); err != nil {
		t.Fatal(err)
	}
	if got := (*calls)[0].Headers.Get("Authorization"); got != "Bearer tok123" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestCallSurfacesAPIError(t *testing.T) {
	srv, _ := newTestServer(t, 403, `{"error": "project access denied"}`)
	c := newTestClient(t, srv, "k")

	_, err := c.Call(context.Background(), "rlm_search", nil)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err = %T, want *APIError", err)
	}
	if apiErr.Status != 403 || apiErr.Message != "project access denied" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "rlm_search") {
		t.Errorf("message %q should name the tool", apiErr.Error())
	}
}

func TestContextQueryRendersText(t *testing.T) {
	srv, calls := newTestServer(t, 200, `{"context": "ranked sections here"}`)
	c := newTestClient(t, srv, "k")

	text, err := c.ContextQuery(context.Background(), "how do budgets work", 0)
	if err != nil {
		t.Fatal(err)
	}
	if text != "ranked sections here" {
		t.Errorf("text = %q", text)
	}
	args := (*calls)[0].Arguments
	if args["max_tokens"] != float64(4000) {
		t.Errorf("default max_tokens missing: %v", args)
	}
}

func TestToolSetGatesMemory(t *testing.T) {
	srv, _ := newTestServer(t, 200, `{}`)
	c := newTestClient(t, srv, "k")

	base := Tools(c, false)
	if len(base) != 4 {
		t.Errorf("base tool count = %d, want 4", len(base))
	}
	for _, tool := range base {
		if strings.HasPrefix(tool.Name(), "memory_") {
			t.Errorf("memory tool %s registered without memory_enabled", tool.Name())
		}
	}

	full := Tools(c, true)
	if len(full) != 8 {
		t.Errorf("full tool count = %d, want 8", len(full))
	}
}

func TestRegisterAddsTools(t *testing.T) {
	srv, _ := newTestServer(t, 200, `{}`)
	c := newTestClient(t, srv, "k")

	registry := tools.NewRegistry()
	if err := Register(registry, c, true); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"context_query", "doc_search", "doc_sections", "doc_read", "memory_store", "memory_recall", "memory_list", "memory_forget"} {
		if _, ok := registry.Get(name); !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestToolHandlerAppliesDefaults(t *testing.T) {
	srv, calls := newTestServer(t, 200, `{"content": "found it"}`)
	c := newTestClient(t, srv, "k")

	var search tools.Tool
	for _, tool := range Tools(c, false) {
		if tool.Name() == "doc_search" {
			search = tool
		}
	}
	out, err := search.Execute(context.Background(), json.RawMessage(`{"pattern": "ledger"}`))
	if err != nil {
		t.Fatal(err)
	}
	if out != "found it" {
		t.Errorf("out = %q", out)
	}
	args := (*calls)[0].Arguments
	if args["max_results"] != float64(20) {
		t.Errorf("default max_results missing: %v", args)
	}
	if (*calls)[0].Tool != "rlm_search" {
		t.Errorf("api tool = %s", (*calls)[0].Tool)
	}
}
