package contextmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentcore/runtime/internal/tokens"
	"github.com/agentcore/runtime/pkg/models"
)

// Absolute token-arithmetic constants governing one-shot vs chunked
// selection (spec.md §4.3: "chosen by absolute-token arithmetic, NOT
// percentages"), grounded in internal/compaction/compaction.go's
// SafetyMargin/BaseChunkRatio constants and the Rust summarize.rs budget.
const (
	systemOverheadTokens  = 1000
	responseBudgetTokens  = 4000
	safetyMarginTokens    = 1000
	baseChunkRatio        = 1.0 / 3.0 // spec.md's default chunk_size = context_limit / 3
	minChunkRatio         = 0.15
	oversizedMessageCount = 40 // degrade chunk ratio past this many messages (supplemented, see SPEC_FULL.md)
)

const summaryPreamble = "Summarize the following conversation history concisely, preserving key facts, decisions, and open threads:"

const noPriorHistoryFallback = "No prior history."

// ComputeAdaptiveChunkRatio degrades the target chunk share as the message
// count grows, so very long histories still converge in a bounded number of
// summarization rounds rather than always taking exactly three passes.
// Grounded in internal/compaction/compaction.go's adaptive-ratio approach;
// supplements spec.md's flat context_limit/3 default (see SPEC_FULL.md).
func ComputeAdaptiveChunkRatio(messageCount int) float64 {
	if messageCount <= oversizedMessageCount {
		return baseChunkRatio
	}
	ratio := baseChunkRatio * float64(oversizedMessageCount) / float64(messageCount)
	if ratio < minChunkRatio {
		return minChunkRatio
	}
	return ratio
}

// Summarize produces a single User message summarising messages, choosing
// between the one-shot and chunked strategies per spec.md §4.3.
func Summarize(ctx context.Context, messages []models.Message, contextLimit int, summarizer Summarizer) (models.Message, error) {
	if len(messages) == 0 {
		return models.NewUserText(noPriorHistoryFallback, 0), nil
	}

	total := tokens.Sum(messages)
	overhead := systemOverheadTokens + responseBudgetTokens + safetyMarginTokens

	if total+overhead <= contextLimit {
		summary, err := oneShot(ctx, messages, summarizer)
		if err == nil {
			return summary, nil
		}
		// One-shot failed with any provider error: fall back to chunked,
		// per spec.md §4.3 ("or if the one-shot call fails ...").
	}

	return chunked(ctx, messages, contextLimit, summarizer)
}

func oneShot(ctx context.Context, messages []models.Message, summarizer Summarizer) (models.Message, error) {
	body := FormatForSummary(messages)
	text, err := summarizer.Summarize(ctx, summaryPreamble, []models.Message{models.NewUserText(body, 0)})
	if err != nil {
		return models.Message{}, err
	}
	return models.NewUserText(text, 0), nil
}

func chunked(ctx context.Context, messages []models.Message, contextLimit int, summarizer Summarizer) (models.Message, error) {
	ratio := ComputeAdaptiveChunkRatio(len(messages))
	chunkSize := int(float64(contextLimit) * ratio)
	promptOverhead := tokens.Count(summaryPreamble)
	budget := chunkSize - promptOverhead
	if budget <= 0 {
		budget = chunkSize
	}

	accumulated := ""
	var chunk []models.Message
	chunkTokens := 0

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		body := accumulated
		if body != "" {
			body += "\n\n"
		}
		body += FormatForSummary(chunk)
		text, err := summarizer.Summarize(ctx, summaryPreamble, []models.Message{models.NewUserText(body, 0)})
		if err != nil {
			return err
		}
		accumulated = text
		chunk = nil
		chunkTokens = 0
		return nil
	}

	for _, m := range messages {
		mt := tokens.CountMessage(m)
		if chunkTokens+mt > budget && len(chunk) > 0 {
			if err := flush(); err != nil {
				return models.Message{}, fmt.Errorf("contextmgr: chunked summarize: %w", err)
			}
		}
		chunk = append(chunk, m)
		chunkTokens += mt
	}
	if err := flush(); err != nil {
		return models.Message{}, fmt.Errorf("contextmgr: chunked summarize (final flush): %w", err)
	}

	if accumulated == "" {
		accumulated = noPriorHistoryFallback
	}
	return models.NewUserText(accumulated, 0), nil
}

// FormatForSummary renders messages as plain text suitable for embedding in
// a summarization prompt body.
func FormatForSummary(messages []models.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(roleLabel(m.Role))
		b.WriteString(": ")
		b.WriteString(formatContentForSummary(m))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func roleLabel(r models.Role) string {
	if r == models.RoleAssistant {
		return "Assistant"
	}
	return "User"
}

func formatContentForSummary(m models.Message) string {
	var parts []string
	for _, c := range m.Content {
		switch c.Kind {
		case models.ContentText:
			parts = append(parts, c.Text)
		case models.ContentToolRequest:
			if c.Call != nil {
				parts = append(parts, fmt.Sprintf("[called %s]", c.Call.Name))
			}
		case models.ContentToolResponse:
			parts = append(parts, "[tool result]")
		case models.ContentThinking:
			// Thinking content is internal reasoning, not summarized into
			// the compacted history.
		}
	}
	return strings.Join(parts, " ")
}
