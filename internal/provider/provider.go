// Package provider defines the capability set the agent reply loop (C6)
// drives every LLM backend through, plus the streaming/classification
// machinery shared by every adapter. Grounded in the teacher's
// internal/agent/provider_types.go LLMProvider interface, generalized from
// its flat CompletionMessage shape to the spec's tagged ContentBlock model.
package provider

import (
	"context"

	"github.com/agentcore/runtime/pkg/models"
)

// Usage reports token consumption for a single completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ModelConfig describes a provider's active model's operating parameters
// (spec.md §4.5 "get_model_config()").
type ModelConfig struct {
	ContextLimit  int
	Temperature   float64
	MaxTokens     int
	ToolshimModel string
	FastModel     string
}

// Model describes one entry of a provider's discoverable model catalogue.
type Model struct {
	ID             string
	Name           string
	ContextWindow  int
	SupportsVision bool
}

// CompletionRequest bundles the inputs to a single provider call.
type CompletionRequest struct {
	System   string
	Messages []models.Message
	Tools    []models.Tool
}

// CompletionDelta is one increment of a streamed response. The reply loop
// accumulates deltas sharing a BlockID into a single live content block;
// New signals a flush-and-start boundary (spec.md §4.6.b).
type CompletionDelta struct {
	BlockID string
	New     bool
	Block   models.ContentBlock

	Done  bool
	Usage *Usage
	Err   error
}

// Provider is the capability set the reply loop drives every LLM backend
// through (spec.md §4.5). Implementations need only provide Complete;
// Stream may be satisfied by wrapping Complete in a single-chunk stream via
// CompleteAsStream, the same "defaults to a single-chunk wrapper" fallback
// the spec calls for.
type Provider interface {
	// Name identifies the provider for logging and error classification.
	Name() string

	// Complete issues a single, non-streamed completion.
	Complete(ctx context.Context, req CompletionRequest) (models.Message, Usage, error)

	// Stream issues a streamed completion. Implementations that cannot
	// stream natively should return ErrStreamingUnsupported so the loop
	// falls back to Complete.
	Stream(ctx context.Context, req CompletionRequest) (<-chan CompletionDelta, error)

	// SupportsStreaming reports whether Stream is natively implemented.
	SupportsStreaming() bool

	// ModelConfig returns the active model's operating parameters.
	ModelConfig() ModelConfig

	// FetchSupportedModels performs optional catalogue discovery. Returns
	// ErrDiscoveryUnsupported if the backend has no discovery endpoint.
	FetchSupportedModels(ctx context.Context) ([]Model, error)

	// GenerateSessionName asks the model for a short (<=4 words) title
	// summarising the conversation so far.
	GenerateSessionName(ctx context.Context, conversation []models.Message) (string, error)
}

// CompleteAsStream wraps a one-shot Complete call in a two-event stream (one
// New delta carrying the whole message, one Done event), satisfying
// Provider.Stream for backends with no native streaming support.
func CompleteAsStream(ctx context.Context, p Provider, req CompletionRequest) (<-chan CompletionDelta, error) {
	out := make(chan CompletionDelta, 2)
	go func() {
		defer close(out)
		msg, usage, err := p.Complete(ctx, req)
		if err != nil {
			out <- CompletionDelta{Err: err, Done: true}
			return
		}
		for i, block := range msg.Content {
			out <- CompletionDelta{BlockID: msg.ID, New: i == 0, Block: block}
		}
		out <- CompletionDelta{Done: true, Usage: &usage}
	}()
	return out, nil
}
