package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agentcore/runtime/internal/extensions"
	"github.com/agentcore/runtime/internal/provider"
	"github.com/agentcore/runtime/pkg/models"
)

// staticPreamble is the base of every composed system prompt, independent
// of which extensions happen to be connected. Grounded in the teacher's
// internal/agent/runtime.go default system prompt, trimmed to the parts
// that do not assume a specific host application.
const staticPreamble = "You are an autonomous coding and task agent. Use the tools available to you to complete the user's request. Think step by step, and prefer calling a tool over guessing."

// composeSystemPrompt builds the system prompt for one provider call from
// the static preamble, the set of connected extensions (by name, since the
// manager does not expose free-text "instructions" per extension), an
// optional recipe/persona prompt, and the disable-extensions suggestion
// hint (spec.md §4.6.a).
func composeSystemPrompt(recipePrompt string, extNames []string, disableHint string) string {
	var b strings.Builder
	b.WriteString(staticPreamble)

	if len(extNames) > 0 {
		sorted := append([]string(nil), extNames...)
		sort.Strings(sorted)
		b.WriteString("\n\nConnected extensions: ")
		b.WriteString(strings.Join(sorted, ", "))
	}

	if recipePrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(recipePrompt)
	}

	if disableHint != "" {
		b.WriteString("\n\n")
		b.WriteString(disableHint)
	}

	return b.String()
}

// toProviderTools converts the manager's prefixed, per-extension tool list
// into the flat models.Tool slice a Provider.CompletionRequest carries.
func toProviderTools(prefixed []extensions.PrefixedTool) []models.Tool {
	if len(prefixed) == 0 {
		return nil
	}
	out := make([]models.Tool, 0, len(prefixed))
	for _, t := range prefixed {
		out = append(out, models.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Annotations: t.Annotations,
		})
	}
	return out
}

// extensionNames returns the distinct Extension field of each prefixed tool,
// used only for system-prompt composition.
func extensionNames(prefixed []extensions.PrefixedTool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range prefixed {
		if !seen[t.Extension] {
			seen[t.Extension] = true
			out = append(out, t.Extension)
		}
	}
	return out
}

// providerSummarizer adapts a provider.Provider to contextmgr.Summarizer by
// issuing a one-shot completion with a summarisation-flavoured system
// prompt. Grounded in the teacher's internal/compaction summariser adapter,
// generalized from a SessionStore-backed history read to the plain
// []models.Message contextmgr already resolved.
type providerSummarizer struct {
	p provider.Provider
}

func newProviderSummarizer(p provider.Provider) *providerSummarizer {
	return &providerSummarizer{p: p}
}

const summarizeSystemPrompt = "Summarise the conversation so far into a compact but complete account of what has happened, what was decided, and what remains to be done. Write prose, not a transcript."

func (s *providerSummarizer) Summarize(ctx context.Context, system string, messages []models.Message) (string, error) {
	if system == "" {
		system = summarizeSystemPrompt
	}
	msg, _, err := s.p.Complete(ctx, provider.CompletionRequest{System: system, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("agent: summarize: %w", err)
	}
	return msg.ConcatText(), nil
}

// maxTurnsNotice is the assistant-authored text synthesised when a turn
// budget is exhausted or explicitly zero (spec.md §4.6 terminal condition,
// §8 "max_turns=0" boundary behaviour).
func maxTurnsNotice(maxTurns int) string {
	if maxTurns <= 0 {
		return "I've reached the configured turn limit (0) for this reply and must stop before calling the model."
	}
	return fmt.Sprintf("I've reached the maximum number of turns (%d) for this reply and need to stop here. Let me know how you'd like to proceed.", maxTurns)
}
