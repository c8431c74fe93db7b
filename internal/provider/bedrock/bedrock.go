// Package bedrock adapts the AWS Bedrock Converse API to provider.Provider,
// grounded in the teacher's internal/providers/bedrock/discovery.go AWS
// config/credential-chain conventions (explicit static credentials fall back
// to the default provider chain) and model-family metadata tables.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/document"

	"github.com/agentcore/runtime/internal/provider"
	"github.com/agentcore/runtime/pkg/models"
)

// Config configures the Bedrock adapter.
type Config struct {
	Region          string
	ModelID         string
	MaxTokens       int
	Temperature     float64
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Provider implements provider.Provider over the Bedrock Converse API.
type Provider struct {
	runtime *bedrockruntime.Client
	control *bedrock.Client
	cfg     Config
	logger  *slog.Logger
}

// New constructs the adapter, resolving AWS credentials the same way
// discovery.fetchModels does: explicit static credentials when both an
// access key and secret are supplied, otherwise the default chain.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, provider.NewProviderError("bedrock", err)
	}

	return &Provider{
		runtime: bedrockruntime.NewFromConfig(awsCfg),
		control: bedrock.NewFromConfig(awsCfg),
		cfg:     cfg,
		logger:  logger.With("provider", "bedrock"),
	}, nil
}

func (p *Provider) Name() string { return "bedrock" }

func (p *Provider) ModelConfig() provider.ModelConfig {
	return provider.ModelConfig{
		ContextLimit: contextWindowFor(p.cfg.ModelID),
		Temperature:  p.cfg.Temperature,
		MaxTokens:    p.cfg.MaxTokens,
	}
}

func (p *Provider) SupportsStreaming() bool { return true }

// contextWindowFor mirrors discovery.getModelContextWindow's model-family
// lookup table for the subset of families reachable over Converse.
func contextWindowFor(modelID string) int {
	id := strings.ToLower(modelID)
	switch {
	case strings.Contains(id, "claude"):
		return 200_000
	case strings.Contains(id, "llama3"):
		if strings.Contains(id, "405b") {
			return 128_000
		}
		return 8_192
	case strings.Contains(id, "mistral"), strings.Contains(id, "mixtral"):
		return 32_768
	case strings.Contains(id, "command-r"):
		return 128_000
	case strings.Contains(id, "titan"):
		return 8_192
	case strings.Contains(id, "jamba"):
		return 256_000
	default:
		return 4_096
	}
}

func toBedrockMessages(messages []models.Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(messages))
	for _, m := range messages {
		role := brtypes.ConversationRoleUser
		if m.Role == models.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		var blocks []brtypes.ContentBlock
		for _, c := range m.Content {
			switch c.Kind {
			case models.ContentText:
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: c.Text})
			case models.ContentToolRequest:
				if c.Call != nil {
					var input map[string]any
					_ = json.Unmarshal(c.Call.Arguments, &input)
					blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String(c.ID),
						Name:      aws.String(c.Call.Name),
						Input:     document.NewLazyDocument(input),
					}})
				}
			case models.ContentToolResponse:
				status := brtypes.ToolResultStatusSuccess
				if c.ResultErr != nil {
					status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(c.ID),
					Status:    status,
					Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: concatResultText(c.Result)}},
				}})
			}
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
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

func toBedrockTools(tools []models.Tool) *brtypes.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	cfg := &brtypes.ToolConfiguration{}
	for _, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.InputSchema, &schema)
		cfg.Tools = append(cfg.Tools, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(t.Name),
			Description: aws.String(t.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}})
	}
	return cfg
}

func (p *Provider) inferenceConfig() *brtypes.InferenceConfiguration {
	temp := float32(p.cfg.Temperature)
	maxTokens := int32(p.cfg.MaxTokens)
	return &brtypes.InferenceConfiguration{Temperature: &temp, MaxTokens: &maxTokens}
}

func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (models.Message, provider.Usage, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(p.cfg.ModelID),
		Messages:        toBedrockMessages(req.Messages),
		ToolConfig:      toBedrockTools(req.Tools),
		InferenceConfig: p.inferenceConfig(),
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}

	resp, err := p.runtime.Converse(ctx, input)
	if err != nil {
		return models.Message{}, provider.Usage{}, classifyBedrockError(err)
	}

	output, ok := resp.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return models.Message{}, provider.Usage{}, &provider.ProviderError{Provider: "bedrock", Reason: provider.FailoverUnknown, Message: "converse returned no message output"}
	}

	msg := models.Message{Role: models.RoleAssistant}
	for _, block := range output.Value.Content {
		switch variant := block.(type) {
		case *brtypes.ContentBlockMemberText:
			msg.Content = append(msg.Content, models.Text(variant.Value))
		case *brtypes.ContentBlockMemberToolUse:
			var args json.RawMessage
			if variant.Value.Input != nil {
				args, _ = variant.Value.Input.MarshalSmithyDocument()
			}
			msg.Content = append(msg.Content, models.ToolRequestOK(aws.ToString(variant.Value.ToolUseId), aws.ToString(variant.Value.Name), args))
		}
	}

	usage := provider.Usage{}
	if resp.Usage != nil {
		usage.InputTokens = int(aws.ToInt32(resp.Usage.InputTokens))
		usage.OutputTokens = int(aws.ToInt32(resp.Usage.OutputTokens))
	}
	return msg, usage, nil
}

func (p *Provider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.CompletionDelta, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(p.cfg.ModelID),
		Messages:        toBedrockMessages(req.Messages),
		ToolConfig:      toBedrockTools(req.Tools),
		InferenceConfig: p.inferenceConfig(),
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}

	resp, err := p.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, classifyBedrockError(err)
	}

	out := make(chan provider.CompletionDelta, 16)
	go func() {
		defer close(out)
		var toolUseID, toolUseName string
		stream := resp.GetStream()
		defer stream.Close()
		for event := range stream.Events() {
			switch variant := event.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockStart:
				if start, ok := variant.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
					toolUseID = aws.ToString(start.Value.ToolUseId)
					toolUseName = aws.ToString(start.Value.Name)
					out <- provider.CompletionDelta{New: true, Block: models.ToolRequestOK(toolUseID, toolUseName, nil)}
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := variant.Value.Delta.(type) {
				case *brtypes.ContentBlockDeltaMemberText:
					out <- provider.CompletionDelta{New: variant.Value.ContentBlockIndex == 0, Block: models.Text(delta.Value)}
				case *brtypes.ContentBlockDeltaMemberToolUse:
					out <- provider.CompletionDelta{Block: models.ToolRequestOK(toolUseID, toolUseName, json.RawMessage(aws.ToString(delta.Value.Input)))}
				}
			case *brtypes.ConverseStreamOutputMemberMetadata:
				if variant.Value.Usage != nil {
					out <- provider.CompletionDelta{Usage: &provider.Usage{
						InputTokens:  int(aws.ToInt32(variant.Value.Usage.InputTokens)),
						OutputTokens: int(aws.ToInt32(variant.Value.Usage.OutputTokens)),
					}}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- provider.CompletionDelta{Err: classifyBedrockError(err), Done: true}
			return
		}
		out <- provider.CompletionDelta{Done: true}
	}()

	return out, nil
}

// FetchSupportedModels lists active Bedrock foundation models, following
// discovery.shouldIncludeModel's ACTIVE-lifecycle filter.
func (p *Provider) FetchSupportedModels(ctx context.Context) ([]provider.Model, error) {
	resp, err := p.control.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, classifyBedrockError(err)
	}
	out := make([]provider.Model, 0, len(resp.ModelSummaries))
	for _, summary := range resp.ModelSummaries {
		if summary.ModelLifecycle != nil {
			status := string(summary.ModelLifecycle.Status)
			if status != "ACTIVE" && status != "" {
				continue
			}
		}
		id := aws.ToString(summary.ModelId)
		out = append(out, provider.Model{
			ID:            id,
			Name:          aws.ToString(summary.ModelName),
			ContextWindow: contextWindowFor(id),
		})
	}
	return out, nil
}

func (p *Provider) GenerateSessionName(ctx context.Context, conversation []models.Message) (string, error) {
	temp := float32(0)
	maxTokens := int32(20)
	resp, err := p.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(p.cfg.ModelID),
		Messages:        toBedrockMessages(conversation),
		System:          []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: "Reply with a title of 4 words or fewer summarising this conversation. No punctuation, no quotes."}},
		InferenceConfig: &brtypes.InferenceConfiguration{Temperature: &temp, MaxTokens: &maxTokens},
	})
	if err != nil {
		return "", classifyBedrockError(err)
	}
	output, ok := resp.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", nil
	}
	for _, block := range output.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			return text.Value, nil
		}
	}
	return "", nil
}

func classifyBedrockError(err error) error {
	var throttling *brtypes.ThrottlingException
	var serviceUnavailable *brtypes.ServiceUnavailableException
	var internalServer *brtypes.InternalServerException
	var validation *brtypes.ValidationException
	var accessDenied *brtypes.AccessDeniedException
	var modelNotReady *brtypes.ModelNotReadyException

	switch {
	case errors.As(err,&throttling):
		return &provider.ProviderError{Provider: "bedrock", Reason: provider.FailoverRateLimit, Message: err.Error(), Cause: err}
	case errors.As(err,&serviceUnavailable), errors.As(err,&internalServer):
		return &provider.ProviderError{Provider: "bedrock", Reason: provider.FailoverServerError, Message: err.Error(), Cause: err}
	case errors.As(err,&accessDenied):
		return &provider.ProviderError{Provider: "bedrock", Reason: provider.FailoverAuth, Message: err.Error(), Cause: err}
	case errors.As(err,&validation):
		return &provider.ProviderError{Provider: "bedrock", Reason: provider.FailoverInvalidRequest, Message: err.Error(), Cause: err}
	case errors.As(err,&modelNotReady):
		return &provider.ProviderError{Provider: "bedrock", Reason: provider.FailoverModelUnavailable, Message: err.Error(), Cause: err}
	default:
		return provider.NewProviderError("bedrock", err)
	}
}
