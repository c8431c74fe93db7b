// Package google adapts the Gemini API (google.golang.org/genai) to
// provider.Provider.
package google

import (
	"context"
	"encoding/json"
	"log/slog"

	"google.golang.org/genai"

	"github.com/agentcore/runtime/internal/provider"
	"github.com/agentcore/runtime/pkg/models"
)

// Config configures the Google adapter.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Provider implements provider.Provider over the Gemini API.
type Provider struct {
	client *genai.Client
	cfg    Config
	logger *slog.Logger
}

// New constructs the adapter.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, provider.NewProviderError("google", err)
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	return &Provider{client: client, cfg: cfg, logger: logger.With("provider", "google")}, nil
}

func (p *Provider) Name() string { return "google" }

func (p *Provider) ModelConfig() provider.ModelConfig {
	return provider.ModelConfig{ContextLimit: 1_000_000, Temperature: p.cfg.Temperature, MaxTokens: p.cfg.MaxTokens}
}

func (p *Provider) SupportsStreaming() bool { return true }

func toGenaiContents(messages []models.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		var parts []*genai.Part
		for _, c := range m.Content {
			switch c.Kind {
			case models.ContentText:
				parts = append(parts, genai.NewPartFromText(c.Text))
			case models.ContentToolRequest:
				if c.Call != nil {
					var args map[string]any
					_ = json.Unmarshal(c.Call.Arguments, &args)
					parts = append(parts, genai.NewPartFromFunctionCall(c.Call.Name, args))
				}
			case models.ContentToolResponse:
				parts = append(parts, genai.NewPartFromFunctionResponse(c.ID, map[string]any{"result": concatResultText(c.Result)}))
			}
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
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

func toGenaiTools(tools []models.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema genai.Schema
		_ = json.Unmarshal(t.InputSchema, &schema)
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  &schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func (p *Provider) config(req provider.CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(p.cfg.Temperature)),
		MaxOutputTokens: int32(p.cfg.MaxTokens),
		Tools:           toGenaiTools(req.Tools),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	return cfg
}

func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (models.Message, provider.Usage, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, toGenaiContents(req.Messages), p.config(req))
	if err != nil {
		return models.Message{}, provider.Usage{}, provider.NewProviderError("google", err)
	}
	if len(resp.Candidates) == 0 {
		return models.Message{}, provider.Usage{}, &provider.ProviderError{Provider: "google", Reason: provider.FailoverUnknown, Message: "no candidates returned"}
	}

	msg := models.Message{Role: models.RoleAssistant}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.Text != "":
			msg.Content = append(msg.Content, models.Text(part.Text))
		case part.FunctionCall != nil:
			args, _ := json.Marshal(part.FunctionCall.Args)
			msg.Content = append(msg.Content, models.ToolRequestOK("", part.FunctionCall.Name, args))
		}
	}

	usage := provider.Usage{}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return msg, usage, nil
}

func (p *Provider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.CompletionDelta, error) {
	out := make(chan provider.CompletionDelta, 16)
	stream := p.client.Models.GenerateContentStream(ctx, p.cfg.Model, toGenaiContents(req.Messages), p.config(req))

	go func() {
		defer close(out)
		first := true
		for resp, err := range stream {
			if err != nil {
				out <- provider.CompletionDelta{Err: provider.NewProviderError("google", err), Done: true}
				return
			}
			if len(resp.Candidates) == 0 {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text != "" {
					out <- provider.CompletionDelta{New: first, Block: models.Text(part.Text)}
					first = false
				}
			}
		}
		out <- provider.CompletionDelta{Done: true}
	}()

	return out, nil
}

func (p *Provider) FetchSupportedModels(ctx context.Context) ([]provider.Model, error) {
	return nil, provider.ErrDiscoveryUnsupported
}

func (p *Provider) GenerateSessionName(ctx context.Context, conversation []models.Message) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, toGenaiContents(conversation), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText("Reply with a title of 4 words or fewer summarising this conversation. No punctuation, no quotes.", genai.RoleUser),
		MaxOutputTokens:   20,
	})
	if err != nil {
		return "", provider.NewProviderError("google", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
