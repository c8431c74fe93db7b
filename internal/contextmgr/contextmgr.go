// Package contextmgr implements threshold-triggered auto-compaction and the
// two summarisation strategies (one-shot, chunked-with-fallback) described
// in spec.md §4.3. Grounded in the teacher's internal/compaction/compaction.go
// constants and internal/context/window.go threshold arithmetic, cross-
// checked against the original Rust auto_compact.rs/summarize.rs.
package contextmgr

import (
	"context"
	"fmt"

	"github.com/agentcore/runtime/internal/convfix"
	"github.com/agentcore/runtime/internal/tokens"
	"github.com/agentcore/runtime/pkg/models"
)

// DefaultThreshold mirrors GOOSE_AUTO_COMPACT_THRESHOLD's documented default.
const DefaultThreshold = 0.30

// CheckResult reports whether compaction is needed and the usage arithmetic
// behind that decision (spec.md §4.3, supplemented with the original's
// CompactionCheckResult telemetry fields).
type CheckResult struct {
	NeedsCompaction           bool
	CurrentTokens             int
	ContextLimit              int
	UsageRatio                float64
	RemainingTokens           int
	PercentageUntilCompaction float64
}

// Check computes current token usage against contextLimit and reports
// whether the threshold has been exceeded. threshold <= 0 or >= 1 disables
// compaction unconditionally (I6); comparison against the threshold is
// strict '>' so usage exactly at the threshold never triggers (spec.md §8
// boundary behaviour).
func Check(conversation []models.Message, contextLimit int, threshold float64) CheckResult {
	current := tokens.Sum(conversation)
	if contextLimit <= 0 {
		contextLimit = tokens.DefaultContextWindow
	}
	usageRatio := float64(current) / float64(contextLimit)

	thresholdTokens := int(float64(contextLimit) * threshold)
	remaining := thresholdTokens - current
	if remaining < 0 {
		remaining = 0
	}

	var pctUntil float64
	if usageRatio < threshold {
		pctUntil = (threshold - usageRatio) * 100
	}

	needs := threshold > 0 && threshold < 1 && usageRatio > threshold

	return CheckResult{
		NeedsCompaction:           needs,
		CurrentTokens:             current,
		ContextLimit:              contextLimit,
		UsageRatio:                usageRatio,
		RemainingTokens:           remaining,
		PercentageUntilCompaction: pctUntil,
	}
}

// CompactResult is the outcome of a compaction pass.
type CompactResult struct {
	Compacted    bool
	Messages     []models.Message
	TokensBefore int
	TokensAfter  int
}

// Summarizer produces a summary of messages via a provider call. Implemented
// by an adapter over the provider package; kept as a narrow interface here
// so contextmgr has no compile-time dependency on the provider package
// (matching the teacher's layering, where compaction.go depends only on an
// injected Summarizer).
type Summarizer interface {
	Summarize(ctx context.Context, system string, messages []models.Message) (string, error)
}

// CheckAndCompact runs Check and, if compaction is needed, summarises the
// conversation while preserving a pending trailing User message (spec.md
// §4.3, I5). It is also used, with threshold bypassed, by the reply loop's
// in-stream ContextLengthExceeded recovery (§4.6 step c).
func CheckAndCompact(ctx context.Context, conversation []models.Message, contextLimit int, threshold float64, summarizer Summarizer) (CompactResult, error) {
	check := Check(conversation, contextLimit, threshold)
	if !check.NeedsCompaction {
		return CompactResult{Compacted: false, Messages: conversation}, nil
	}
	return compact(ctx, conversation, contextLimit, check.CurrentTokens, summarizer)
}

// CompactNow performs compaction unconditionally, bypassing the threshold
// check. Used for in-stream ContextLengthExceeded recovery (spec.md §4.6).
func CompactNow(ctx context.Context, conversation []models.Message, contextLimit int, summarizer Summarizer) (CompactResult, error) {
	before := tokens.Sum(conversation)
	return compact(ctx, conversation, contextLimit, before, summarizer)
}

func compact(ctx context.Context, conversation []models.Message, contextLimit, tokensBefore int, summarizer Summarizer) (CompactResult, error) {
	rest := conversation
	var preserved *models.Message
	if len(rest) > 0 && rest[len(rest)-1].Role == models.RoleUser {
		last := rest[len(rest)-1]
		preserved = &last
		rest = rest[:len(rest)-1]
	}

	summary, err := Summarize(ctx, rest, contextLimit, summarizer)
	if err != nil {
		return CompactResult{}, fmt.Errorf("contextmgr: summarize: %w", err)
	}

	out := []models.Message{summary}
	if preserved != nil {
		out = append(out, *preserved)
	}

	return CompactResult{
		Compacted:    true,
		Messages:     out,
		TokensBefore: tokensBefore,
		TokensAfter:  tokens.Sum(out),
	}, nil
}

// Validated runs the compaction output through the conversation fixer, since
// a summariser's output is not required to be structurally valid on its own
// (spec.md §4.3: "callers (C6) run it through C2 before reuse").
func Validated(result CompactResult) ([]models.Message, []string) {
	return convfix.Fix(result.Messages)
}
