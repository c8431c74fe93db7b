// Package tokens provides deterministic token accounting over messages and
// raw text, grounded in the teacher's internal/context/window.go estimator.
// The counter is pure, deterministic, and safe for concurrent use; it is not
// authoritative for provider billing (spec.md §4.1).
package tokens

import (
	"unicode/utf8"

	"github.com/agentcore/runtime/pkg/models"
)

// TokensPerChar is the character-to-token ratio used by the estimator,
// matching the teacher's internal/context/window.go constant.
const TokensPerChar = 0.25

// PerMessageOverhead accounts for role/framing tokens not present in the
// raw text, added once per message when counting a conversation.
const PerMessageOverhead = 4

// Count estimates the token count of a single string. Pure function: same
// input always yields the same output, safe to call from any goroutine.
func Count(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text)
	est := int(float64(n) * TokensPerChar)
	if est < 1 {
		est = 1
	}
	return est
}

// CountMessages estimates the token count of each message in order,
// including the conversation's per-message flattening overhead.
func CountMessages(messages []models.Message) []int {
	counts := make([]int, len(messages))
	for i, m := range messages {
		counts[i] = CountMessage(m)
	}
	return counts
}

// CountMessage estimates the token count of a single message: the sum of
// its content blocks' text contribution plus per-message overhead.
func CountMessage(m models.Message) int {
	total := PerMessageOverhead
	for _, c := range m.Content {
		total += countBlock(c)
	}
	return total
}

// Sum returns the total token count across a conversation.
func Sum(messages []models.Message) int {
	total := 0
	for _, n := range CountMessages(messages) {
		total += n
	}
	return total
}

func countBlock(c models.ContentBlock) int {
	switch c.Kind {
	case models.ContentText, models.ContentThinking, models.ContentContextLengthExceeded:
		return Count(c.Text)
	case models.ContentRedactedThinking:
		return Count(c.Data)
	case models.ContentImage:
		// Flat estimate for image content; providers bill these very
		// differently, but the core's estimator only needs a stable,
		// non-zero contribution so compaction thresholds still trend
		// upward as attachments accumulate.
		return 256
	case models.ContentToolRequest, models.ContentFrontendToolRequest:
		if c.Call != nil {
			return Count(c.Call.Name) + Count(string(c.Call.Arguments))
		}
		if c.CallErr != nil {
			return Count(c.CallErr.Message)
		}
		return 0
	case models.ContentToolConfirmationReq:
		return Count(c.ConfirmName) + Count(c.ConfirmPrompt)
	case models.ContentToolResponse:
		if c.ResultErr != nil {
			return Count(c.ResultErr.Message)
		}
		total := 0
		for _, rc := range c.Result {
			total += countBlock(rc)
		}
		return total
	default:
		return 0
	}
}
