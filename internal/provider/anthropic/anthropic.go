// Package anthropic adapts the Anthropic Messages API to provider.Provider,
// grounded in the teacher's internal/agent/provider_types.go LLMProvider
// contract and internal/providers/venice's adapter shape (API-key-plus-
// base-URL client construction, Complete/stream split).
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentcore/runtime/internal/provider"
	"github.com/agentcore/runtime/pkg/models"
)

// Config configures the Anthropic adapter.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int
	Temperature    float64
	EnableThinking bool
	ThinkingBudget int
}

// Provider implements provider.Provider over the Anthropic Messages API.
type Provider struct {
	client anthropic.Client
	cfg    Config
	logger *slog.Logger
}

// New constructs the adapter.
func New(cfg Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	return &Provider{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logger.With("provider", "anthropic"),
	}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) ModelConfig() provider.ModelConfig {
	return provider.ModelConfig{
		ContextLimit: 200_000,
		Temperature:  p.cfg.Temperature,
		MaxTokens:    p.cfg.MaxTokens,
	}
}

func (p *Provider) SupportsStreaming() bool { return true }

func toAnthropicMessages(messages []models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, c := range m.Content {
			switch c.Kind {
			case models.ContentText:
				blocks = append(blocks, anthropic.NewTextBlock(c.Text))
			case models.ContentToolRequest:
				if c.Call != nil {
					blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, c.Call.Arguments, c.Call.Name))
				}
			case models.ContentToolResponse:
				blocks = append(blocks, anthropic.NewToolResultBlock(c.ID, concatResultText(c.Result), c.ResultErr != nil))
			case models.ContentThinking:
				blocks = append(blocks, anthropic.NewThinkingBlock(c.Signature, c.Text))
			}
		}
		if m.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
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

func toAnthropicTools(tools []models.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(t.InputSchema, &schema)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

func (p *Provider) newParams(req provider.CompletionRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: int64(p.cfg.MaxTokens),
		Messages:  toAnthropicMessages(req.Messages),
		Tools:     toAnthropicTools(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if p.cfg.EnableThinking {
		budget := int64(p.cfg.ThinkingBudget)
		if budget == 0 {
			budget = 4096
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params
}

func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (models.Message, provider.Usage, error) {
	resp, err := p.client.Messages.New(ctx, p.newParams(req))
	if err != nil {
		return models.Message{}, provider.Usage{}, classifyAnthropicError(err)
	}

	msg := models.Message{Role: models.RoleAssistant, ID: resp.ID}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			msg.Content = append(msg.Content, models.Text(variant.Text))
		case anthropic.ToolUseBlock:
			msg.Content = append(msg.Content, models.ToolRequestOK(variant.ID, variant.Name, json.RawMessage(variant.Input)))
		case anthropic.ThinkingBlock:
			msg.Content = append(msg.Content, models.Thinking(variant.Thinking, variant.Signature))
		}
	}

	usage := provider.Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	return msg, usage, nil
}

func (p *Provider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.CompletionDelta, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.newParams(req))
	out := make(chan provider.CompletionDelta, 16)

	go func() {
		defer close(out)
		var msgID string
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				msgID = variant.Message.ID
			case anthropic.ContentBlockStartEvent:
				switch block := variant.ContentBlock.AsAny().(type) {
				case anthropic.TextBlock:
					out <- provider.CompletionDelta{BlockID: msgID, New: true, Block: models.Text(block.Text)}
				case anthropic.ToolUseBlock:
					out <- provider.CompletionDelta{BlockID: msgID, New: true, Block: models.ToolRequestOK(block.ID, block.Name, nil)}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					out <- provider.CompletionDelta{BlockID: msgID, Block: models.Text(delta.Text)}
				case anthropic.InputJSONDelta:
					out <- provider.CompletionDelta{BlockID: msgID, Block: models.ToolRequestOK("", "", json.RawMessage(delta.PartialJSON))}
				}
			case anthropic.MessageDeltaEvent:
				if variant.Usage.OutputTokens > 0 {
					out <- provider.CompletionDelta{BlockID: msgID, Usage: &provider.Usage{OutputTokens: int(variant.Usage.OutputTokens)}}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- provider.CompletionDelta{Err: classifyAnthropicError(err), Done: true}
			return
		}
		out <- provider.CompletionDelta{Done: true}
	}()

	return out, nil
}

func (p *Provider) FetchSupportedModels(ctx context.Context) ([]provider.Model, error) {
	return nil, provider.ErrDiscoveryUnsupported
}

func (p *Provider) GenerateSessionName(ctx context.Context, conversation []models.Message) (string, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: 20,
		System:    []anthropic.TextBlockParam{{Text: "Reply with a title of 4 words or fewer summarising this conversation. No punctuation, no quotes."}},
		Messages:  toAnthropicMessages(conversation),
	})
	if err != nil {
		return "", classifyAnthropicError(err)
	}
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			return text.Text, nil
		}
	}
	return "", nil
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		reason := provider.FailoverUnknown
		switch apiErr.StatusCode {
		case 429:
			reason = provider.FailoverRateLimit
		case 401, 403:
			reason = provider.FailoverAuth
		case 400:
			reason = provider.FailoverInvalidRequest
		case 500, 502, 503, 529:
			reason = provider.FailoverServerError
		}
		return &provider.ProviderError{Provider: "anthropic", Reason: reason, Message: apiErr.Message, Cause: err}
	}
	return provider.NewProviderError("anthropic", err)
}
