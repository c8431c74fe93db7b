package tokens

import (
	"testing"

	"github.com/agentcore/runtime/pkg/models"
)

func TestCountIsDeterministic(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	a := Count(text)
	b := Count(text)
	if a != b {
		t.Fatalf("Count is not deterministic: %d != %d", a, b)
	}
	if a <= 0 {
		t.Fatalf("Count of non-empty text must be positive, got %d", a)
	}
}

func TestCountEmpty(t *testing.T) {
	if got := Count(""); got != 0 {
		t.Fatalf("Count(\"\") = %d, want 0", got)
	}
}

func TestCountMessageIncludesOverhead(t *testing.T) {
	m := models.NewUserText("hi", 0)
	got := CountMessage(m)
	if got < PerMessageOverhead {
		t.Fatalf("CountMessage() = %d, want >= overhead %d", got, PerMessageOverhead)
	}
}

func TestSumMatchesCountMessages(t *testing.T) {
	msgs := []models.Message{
		models.NewUserText("hello there", 0),
		models.NewAssistantText("general kenobi", 1),
	}
	counts := CountMessages(msgs)
	sum := 0
	for _, c := range counts {
		sum += c
	}
	if got := Sum(msgs); got != sum {
		t.Fatalf("Sum() = %d, want %d", got, sum)
	}
}

func TestContextWindowForPrefixMatch(t *testing.T) {
	if got := ContextWindowFor("claude-sonnet-4-20250514"); got != 200000 {
		t.Fatalf("ContextWindowFor(claude-sonnet-4-...) = %d, want 200000", got)
	}
	if got := ContextWindowFor("unknown-model-xyz"); got != DefaultContextWindow {
		t.Fatalf("ContextWindowFor(unknown) = %d, want default %d", got, DefaultContextWindow)
	}
}

func TestContextWindowForLongestPrefixWins(t *testing.T) {
	RegisterContextWindow("gpt-4o-mini", 64000)
	defer delete(modelContextWindows, "gpt-4o-mini")

	if got := ContextWindowFor("gpt-4o-mini-2024"); got != 64000 {
		t.Fatalf("ContextWindowFor(gpt-4o-mini-...) = %d, want 64000 (longest prefix)", got)
	}
}
