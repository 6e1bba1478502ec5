package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/recurse/internal/tools"
	"github.com/haasonsaas/recurse/pkg/models"
)

// Anthropic adapts the Claude Messages API. Safe for concurrent use; each
// call is independent.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
	retry        retryPolicy
}

// AnthropicConfig configures the Anthropic adapter. Only APIKey is
// required.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string

	// DefaultModel is used when the request names no model.
	DefaultModel string

	// MaxTokens is the fallback generation cap when the request sets none.
	MaxTokens int

	MaxRetries int
	RetryDelay time.Duration
}

// NewAnthropic creates the adapter.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
		retry:        retryPolicy{maxRetries: cfg.MaxRetries, baseDelay: cfg.RetryDelay}.withDefaults(),
	}, nil
}

func (p *Anthropic) Name() string { return "anthropic" }

// Complete runs one non-streaming completion, retrying transient failures.
func (p *Anthropic) Complete(ctx context.Context, req *Request) (*Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	var msg *anthropic.Message
	err = p.retry.do(ctx, func() error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		if callErr != nil {
			return p.wrapError(callErr, p.model(req.Model))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Usage: models.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: json.RawMessage(variant.JSON.Input.Raw()),
			})
		}
	}
	resp.Text = text.String()
	if req.ForceJSON {
		resp.Parsed = parseLoose(resp.Text)
	}
	return resp, nil
}

// Stream runs a text-only streaming completion.
func (p *Anthropic) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	if len(req.Tools) > 0 {
		return nil, ErrStreamWithTools
	}
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		stream := p.client.Messages.NewStreaming(ctx, params)
		usage := models.Usage{}
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				start := event.AsMessageStart()
				usage.InputTokens = int(start.Message.Usage.InputTokens)
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				if delta.Type == "text_delta" && delta.Text != "" {
					chunks <- Chunk{Text: delta.Text}
				}
			case "message_delta":
				delta := event.AsMessageDelta()
				if delta.Usage.OutputTokens > 0 {
					usage.OutputTokens = int(delta.Usage.OutputTokens)
				}
			case "message_stop":
				chunks <- Chunk{Done: true, Usage: &usage}
				return
			}
		}
		if err := stream.Err(); err != nil {
			chunks <- Chunk{Done: true, Err: p.wrapError(err, p.model(req.Model))}
			return
		}
		chunks <- Chunk{Done: true, Usage: &usage}
	}()
	return chunks, nil
}

func (p *Anthropic) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		converted, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = converted
	}
	return params, nil
}

// convertAnthropicMessages maps conversation messages onto Anthropic
// content blocks. System messages are skipped; they ride in params.System.
// Tool messages become tool_result blocks inside a user message.
func convertAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(
				msg.ToolCallID,
				msg.TextContent(),
				false,
			))
		} else if text := msg.TextContent(); text != "" {
			content = append(content, anthropic.NewTextBlock(text))
		}

		for _, call := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(call.Arguments, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call arguments for %s: %w", call.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(descriptors []tools.Descriptor) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, d := range descriptors {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(d.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", d.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, d.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", d.Name)
		}
		param.OfTool.Description = anthropic.String(d.Description)
		result = append(result, param)
	}
	return result, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Anthropic) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		perr := NewError("anthropic", model, err).WithStatus(apiErr.StatusCode)
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					perr.Message = payload.Error.Message
				}
				if payload.Error.Type != "" {
					perr = perr.WithCode(payload.Error.Type)
				}
			}
		}
		return perr
	}
	return NewError("anthropic", model, err)
}

func (p *Anthropic) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}
