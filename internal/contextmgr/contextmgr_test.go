package contextmgr

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agentcore/runtime/pkg/models"
)

type stubSummarizer struct {
	text string
	err  error
	n    int
}

func (s *stubSummarizer) Summarize(ctx context.Context, system string, messages []models.Message) (string, error) {
	s.n++
	if s.err != nil {
		return "", s.err
	}
	if s.text != "" {
		return s.text, nil
	}
	return "summary", nil
}

func longConversation(n int) []models.Message {
	var out []models.Message
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			out = append(out, models.NewUserText(strings.Repeat("x", 400), int64(i)))
		} else {
			out = append(out, models.NewAssistantText(strings.Repeat("y", 400), int64(i)))
		}
	}
	return out
}

func TestCheckExactlyAtThresholdDoesNotTrigger(t *testing.T) {
	// strict '>' means usage exactly at the threshold must not trigger
	// (spec.md §8 boundary behaviour).
	contextLimit := 1000
	threshold := 0.30

	result := Check(nil, contextLimit, threshold)
	if result.NeedsCompaction {
		t.Fatalf("empty conversation must never need compaction")
	}

	// usageRatio == threshold exactly: needs must be false.
	ratio := threshold
	current := int(ratio * float64(contextLimit))
	needs := threshold > 0 && threshold < 1 && (float64(current)/float64(contextLimit)) > threshold
	if needs {
		t.Fatalf("usage exactly at threshold must not trigger compaction")
	}
}

func TestCheckDisabledAtZeroAndOne(t *testing.T) {
	msgs := longConversation(50)
	if Check(msgs, 1000, 0).NeedsCompaction {
		t.Fatalf("threshold<=0 must disable compaction")
	}
	if Check(msgs, 1000, 1).NeedsCompaction {
		t.Fatalf("threshold>=1 must disable compaction")
	}
	if Check(msgs, 1000, 1.5).NeedsCompaction {
		t.Fatalf("threshold>1 must disable compaction")
	}
}

func TestCheckTriggersPastThreshold(t *testing.T) {
	msgs := longConversation(50)
	result := Check(msgs, 500, 0.30)
	if !result.NeedsCompaction {
		t.Fatalf("want compaction needed for oversized conversation, got %+v", result)
	}
}

func TestCheckAndCompactPreservesTrailingUserMessage(t *testing.T) {
	msgs := longConversation(50)
	pending := models.NewUserText("what about the last thing I asked?", 999)
	msgs = append(msgs, pending)

	summarizer := &stubSummarizer{text: "condensed history"}
	result, err := CheckAndCompact(context.Background(), msgs, 500, 0.30, summarizer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Compacted {
		t.Fatalf("want compaction to run for oversized conversation")
	}
	if len(result.Messages) != 2 {
		t.Fatalf("want [summary, pending], got %d messages: %+v", len(result.Messages), result.Messages)
	}
	if result.Messages[0].ConcatText() != "condensed history" {
		t.Fatalf("want summary as first message, got %q", result.Messages[0].ConcatText())
	}
	if result.Messages[0].Role != models.RoleUser {
		t.Fatalf("summary message must be rewritten to role User, got %s", result.Messages[0].Role)
	}
	if result.Messages[1].ConcatText() != pending.ConcatText() {
		t.Fatalf("want trailing user message preserved verbatim, got %q", result.Messages[1].ConcatText())
	}
	if result.TokensAfter >= result.TokensBefore {
		t.Fatalf("want compaction to shrink token count: before=%d after=%d", result.TokensBefore, result.TokensAfter)
	}
}

func TestCheckAndCompactNoOpWhenUnderThreshold(t *testing.T) {
	msgs := []models.Message{models.NewUserText("hi", 0), models.NewAssistantText("hello", 1), models.NewUserText("bye", 2)}
	summarizer := &stubSummarizer{}
	result, err := CheckAndCompact(context.Background(), msgs, 1_000_000, 0.30, summarizer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Compacted {
		t.Fatalf("want no-op for small conversation under threshold")
	}
	if summarizer.n != 0 {
		t.Fatalf("summarizer must not be called when compaction is not needed")
	}
}

func TestCompactNowBypassesThreshold(t *testing.T) {
	msgs := []models.Message{models.NewUserText("hi", 0), models.NewAssistantText("hello", 1), models.NewUserText("bye", 2)}
	summarizer := &stubSummarizer{text: "short summary"}
	result, err := CompactNow(context.Background(), msgs, 1_000_000, summarizer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Compacted {
		t.Fatalf("CompactNow must always compact regardless of threshold")
	}
}

func TestSummarizeOneShotForSmallConversation(t *testing.T) {
	msgs := []models.Message{models.NewUserText("hi", 0), models.NewAssistantText("hello", 1)}
	summarizer := &stubSummarizer{text: "tiny summary"}
	out, err := Summarize(context.Background(), msgs, 1_000_000, summarizer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ConcatText() != "tiny summary" {
		t.Fatalf("want one-shot summary text, got %q", out.ConcatText())
	}
	if out.Role != models.RoleUser {
		t.Fatalf("summary must be rewritten to role User")
	}
	if summarizer.n != 1 {
		t.Fatalf("one-shot must call the summarizer exactly once, got %d calls", summarizer.n)
	}
}

func TestSummarizeFallsBackToChunkedWhenOneShotFails(t *testing.T) {
	msgs := longConversation(4)
	callCount := 0
	summarizer := summarizerFunc(func(ctx context.Context, system string, messages []models.Message) (string, error) {
		callCount++
		if callCount == 1 {
			return "", errors.New("provider overloaded")
		}
		return "chunk summary", nil
	})
	out, err := Summarize(context.Background(), msgs, 10_000_000, summarizer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Role != models.RoleUser {
		t.Fatalf("summary must be rewritten to role User")
	}
	if callCount < 2 {
		t.Fatalf("want fallback to chunked path to issue further summarizer calls, got %d total calls", callCount)
	}
}

func TestSummarizeChunkedForOversizedConversation(t *testing.T) {
	msgs := longConversation(200)
	summarizer := &stubSummarizer{text: "rolling summary"}
	out, err := Summarize(context.Background(), msgs, 2000, summarizer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ConcatText() == "" {
		t.Fatalf("want non-empty chunked summary")
	}
	if summarizer.n < 2 {
		t.Fatalf("want multiple chunk rounds for an oversized conversation, got %d", summarizer.n)
	}
}

func TestSummarizeEmptyConversationYieldsFallbackText(t *testing.T) {
	summarizer := &stubSummarizer{}
	out, err := Summarize(context.Background(), nil, 1000, summarizer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ConcatText() != noPriorHistoryFallback {
		t.Fatalf("want fallback text for empty history, got %q", out.ConcatText())
	}
	if summarizer.n != 0 {
		t.Fatalf("summarizer must not be invoked for an empty conversation")
	}
}

func TestComputeAdaptiveChunkRatioDegradesForLongHistories(t *testing.T) {
	if got := ComputeAdaptiveChunkRatio(10); got != baseChunkRatio {
		t.Fatalf("want base ratio for short history, got %v", got)
	}
	long := ComputeAdaptiveChunkRatio(400)
	if long >= baseChunkRatio {
		t.Fatalf("want degraded ratio for long history, got %v", long)
	}
	if long < minChunkRatio {
		t.Fatalf("ratio must never fall below the minimum, got %v", long)
	}
}

func TestValidatedRunsConvfix(t *testing.T) {
	result := CompactResult{Messages: []models.Message{
		models.NewUserText("summary text", 0),
	}}
	fixed, issues := Validated(result)
	if len(fixed) != 1 {
		t.Fatalf("want single message to survive Fix unchanged, got %d", len(fixed))
	}
	if len(issues) != 0 {
		t.Fatalf("want no issues for an already-valid compaction result, got %v", issues)
	}
}

type summarizerFunc func(ctx context.Context, system string, messages []models.Message) (string, error)

func (f summarizerFunc) Summarize(ctx context.Context, system string, messages []models.Message) (string, error) {
	return f(ctx, system, messages)
}
