package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/recurse/internal/tools"
	"github.com/haasonsaas/recurse/pkg/models"
)

// OpenAI adapts the Chat Completions API. Unlike the Anthropic API the
// system prompt rides in the messages array and every tool result is a
// separate message.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
	retry        retryPolicy
}

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string

	DefaultModel string

	MaxRetries int
	RetryDelay time.Duration
}

// NewOpenAI creates the adapter.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		retry:        retryPolicy{maxRetries: cfg.MaxRetries, baseDelay: cfg.RetryDelay}.withDefaults(),
	}, nil
}

func (p *OpenAI) Name() string { return "openai" }

// Complete runs one non-streaming completion, retrying transient failures.
func (p *OpenAI) Complete(ctx context.Context, req *Request) (*Response, error) {
	chatReq := p.buildRequest(req, false)

	var resp openai.ChatCompletionResponse
	err := p.retry.do(ctx, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return p.wrapError(callErr, chatReq.Model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, NewError("openai", chatReq.Model, errors.New("empty response: no choices"))
	}

	choice := resp.Choices[0].Message
	out := &Response{
		Text: choice.Content,
		Usage: models.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	if req.ForceJSON {
		out.Parsed = parseLoose(out.Text)
	}
	return out, nil
}

// Stream runs a text-only streaming completion.
func (p *OpenAI) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	if len(req.Tools) > 0 {
		return nil, ErrStreamWithTools
	}
	chatReq := p.buildRequest(req, true)

	var stream *openai.ChatCompletionStream
	err := p.retry.do(ctx, func() error {
		var callErr error
		stream, callErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if callErr != nil {
			return p.wrapError(callErr, chatReq.Model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		usage := models.Usage{}
		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					chunks <- Chunk{Done: true, Usage: &usage}
					return
				}
				chunks <- Chunk{Done: true, Err: p.wrapError(err, chatReq.Model)}
				return
			}
			if resp.Usage != nil {
				usage.InputTokens = resp.Usage.PromptTokens
				usage.OutputTokens = resp.Usage.CompletionTokens
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if text := resp.Choices[0].Delta.Content; text != "" {
				chunks <- Chunk{Text: text}
			}
		}
	}()
	return chunks, nil
}

func (p *OpenAI) buildRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model(req.Model),
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   stream,
	}
	if stream {
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}
	return chatReq
}

// convertOpenAIMessages maps conversation messages onto the chat format.
// The system prompt is injected as the leading message.
func convertOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.TextContent(),
				ToolCallID: msg.ToolCallID,
			})

		case models.RoleAssistant:
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.TextContent(),
			}
			for _, tc := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			result = append(result, out)

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.TextContent(),
			})
		}
	}
	return result
}

func convertOpenAITools(descriptors []tools.Descriptor) []openai.Tool {
	result := make([]openai.Tool, len(descriptors))
	for i, d := range descriptors {
		var schema map[string]any
		if err := json.Unmarshal(d.Parameters, &schema); err != nil {
			// One bad schema must not break the rest of the tool set.
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func (p *OpenAI) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr := NewError("openai", model, err).WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			perr.Message = apiErr.Message
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			perr = perr.WithCode(code)
		}
		return perr
	}
	return NewError("openai", model, err)
}

func (p *OpenAI) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}
