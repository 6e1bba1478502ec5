// Package retrieval provides the documentation-retrieval HTTP client and
// the tools it exposes to the model: context queries, document search,
// section listing, ranged reads, and the optional memory tier.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// APIError is a failed retrieval API call.
type APIError struct {
	Tool    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("retrieval %s failed (status %d): %s", e.Tool, e.Status, e.Message)
	}
	return fmt.Sprintf("retrieval %s failed: %s", e.Tool, e.Message)
}

// Config configures the retrieval client.
type Config struct {
	// BaseURL is the API root; the project slug is appended to it.
	BaseURL string

	// ProjectSlug scopes every call to one documentation project.
	ProjectSlug string

	// AuthToken authenticates calls. Values starting with "Bearer " go in
	// the Authorization header; anything else is sent as an API key.
	AuthToken string

	Timeout time.Duration
}

// Client is the documentation-retrieval HTTP client. Every tool call is a
// POST of {"tool": name, "arguments": {...}} to the project endpoint.
type Client struct {
	endpoint  string
	authToken string
	http      *http.Client
	logger    *slog.Logger
}

// NewClient creates a retrieval client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("retrieval: base URL is required")
	}
	if cfg.ProjectSlug == "" {
		return nil, errors.New("retrieval: project slug is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:  strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.ProjectSlug,
		authToken: cfg.AuthToken,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}, nil
}

type callPayload struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// Call invokes one API tool. Nil-valued arguments are stripped before
// sending. The raw JSON response body is returned on success.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	clean := make(map[string]any, len(args))
	for k, v := range args {
		if v != nil {
			clean[k] = v
		}
	}

	body, err := json.Marshal(callPayload{Tool: tool, Arguments: clean})
	if err != nil {
		return nil, &APIError{Tool: tool, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &APIError{Tool: tool, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		if strings.HasPrefix(c.authToken, "Bearer ") {
			req.Header.Set("Authorization", c.authToken)
		} else {
			req.Header.Set("x-api-key", c.authToken)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Tool: tool, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Tool: tool, Status: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(data))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			message = payload.Error
		}
		c.logger.Warn("retrieval call failed", "tool", tool, "status", resp.StatusCode)
		return nil, &APIError{Tool: tool, Status: resp.StatusCode, Message: message}
	}
	return json.RawMessage(data), nil
}

// ContextQuery fetches ranked documentation context for a query within a
// token budget. Used by sub-completions and the agent's auto-context.
func (c *Client) ContextQuery(ctx context.Context, query string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	raw, err := c.Call(ctx, "rlm_context_query", map[string]any{
		"query":       query,
		"max_tokens":  maxTokens,
		"search_mode": "hybrid",
	})
	if err != nil {
		return "", err
	}
	return renderResponse(raw), nil
}

// renderResponse flattens an API response to text for the model. A bare
// {"context": "..."} or {"content": "..."} body yields just that string;
// anything else passes through as JSON.
func renderResponse(raw json.RawMessage) string {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err == nil {
		for _, key := range []string{"context", "content", "text"} {
			if s, ok := payload[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return string(raw)
}
