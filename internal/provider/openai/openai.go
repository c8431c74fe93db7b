// Package openai adapts the OpenAI chat-completions API to
// provider.Provider via github.com/sashabaranov/go-openai, grounded in the
// same provider.Provider contract anthropic and google implement.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentcore/runtime/internal/provider"
	"github.com/agentcore/runtime/pkg/models"
)

// Config configures the OpenAI adapter.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Provider implements provider.Provider over the OpenAI chat-completions API.
type Provider struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

// New constructs the adapter.
func New(cfg Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	return &Provider{
		client: openai.NewClientWithConfig(oaiCfg),
		cfg:    cfg,
		logger: logger.With("provider", "openai"),
	}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) ModelConfig() provider.ModelConfig {
	return provider.ModelConfig{ContextLimit: 128_000, Temperature: p.cfg.Temperature, MaxTokens: p.cfg.MaxTokens}
}

func (p *Provider) SupportsStreaming() bool { return true }

func toOpenAIMessages(system string, messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		for _, c := range m.Content {
			switch c.Kind {
			case models.ContentText:
				role := openai.ChatMessageRoleUser
				if m.Role == models.RoleAssistant {
					role = openai.ChatMessageRoleAssistant
				}
				out = append(out, openai.ChatCompletionMessage{Role: role, Content: c.Text})
			case models.ContentToolRequest:
				if c.Call != nil {
					out = append(out, openai.ChatCompletionMessage{
						Role: openai.ChatMessageRoleAssistant,
						ToolCalls: []openai.ToolCall{{
							ID:   c.ID,
							Type: openai.ToolTypeFunction,
							Function: openai.FunctionCall{
								Name:      c.Call.Name,
								Arguments: string(c.Call.Arguments),
							},
						}},
					})
				}
			case models.ContentToolResponse:
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: c.ID,
					Content:    concatResultText(c.Result),
				})
			}
		}
	}
	return out
}

func concatResultText(blocks []models.ContentBlock) string {
	var out string
	for _, b := range blocks {
		if b.Kind == models.ContentText {
			out += b.Text
		}
	}
	return out
}

func toOpenAITools(tools []models.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params any
		_ = json.Unmarshal(t.InputSchema, &params)
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func (p *Provider) newRequest(req provider.CompletionRequest) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    toOpenAIMessages(req.System, req.Messages),
		Tools:       toOpenAITools(req.Tools),
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: float32(p.cfg.Temperature),
	}
}

func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (models.Message, provider.Usage, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.newRequest(req))
	if err != nil {
		return models.Message{}, provider.Usage{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return models.Message{}, provider.Usage{}, &provider.ProviderError{Provider: "openai", Reason: provider.FailoverUnknown, Message: "no choices returned"}
	}

	choice := resp.Choices[0].Message
	msg := models.Message{Role: models.RoleAssistant, ID: resp.ID}
	if choice.Content != "" {
		msg.Content = append(msg.Content, models.Text(choice.Content))
	}
	for _, tc := range choice.ToolCalls {
		msg.Content = append(msg.Content, models.ToolRequestOK(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}

	usage := provider.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	return msg, usage, nil
}

func (p *Provider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.CompletionDelta, error) {
	openaiReq := p.newRequest(req)
	openaiReq.Stream = true
	stream, err := p.client.CreateChatCompletionStream(ctx, openaiReq)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	out := make(chan provider.CompletionDelta, 16)
	go func() {
		defer close(out)
		defer stream.Close()
		first := true
		var toolCallID, toolCallName string
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- provider.CompletionDelta{Done: true}
				return
			}
			if err != nil {
				out <- provider.CompletionDelta{Err: classifyOpenAIError(err), Done: true}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				out <- provider.CompletionDelta{BlockID: resp.ID, New: first, Block: models.Text(delta.Content)}
				first = false
			}
			for _, tc := range delta.ToolCalls {
				if tc.ID != "" {
					toolCallID, toolCallName = tc.ID, tc.Function.Name
				}
				out <- provider.CompletionDelta{
					BlockID: resp.ID,
					New:     first,
					Block:   models.ToolRequestOK(toolCallID, toolCallName, json.RawMessage(tc.Function.Arguments)),
				}
				first = false
			}
		}
	}()
	return out, nil
}

func (p *Provider) FetchSupportedModels(ctx context.Context) ([]provider.Model, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	out := make([]provider.Model, 0, len(list.Models))
	for _, m := range list.Models {
		out = append(out, provider.Model{ID: m.ID, Name: m.ID})
	}
	return out, nil
}

func (p *Provider) GenerateSessionName(ctx context.Context, conversation []models.Message) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.cfg.Model,
		MaxTokens: 20,
		Messages: append(
			[]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: "Reply with a title of 4 words or fewer summarising this conversation. No punctuation, no quotes."}},
			toOpenAIMessages("", conversation)...,
		),
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		reason := provider.FailoverUnknown
		switch apiErr.HTTPStatusCode {
		case 429:
			reason = provider.FailoverRateLimit
		case 401, 403:
			reason = provider.FailoverAuth
		case 400:
			reason = provider.FailoverInvalidRequest
		case 500, 502, 503:
			reason = provider.FailoverServerError
		}
		return &provider.ProviderError{Provider: "openai", Reason: reason, Message: apiErr.Message, Cause: err}
	}
	return provider.NewProviderError("openai", err)
}
