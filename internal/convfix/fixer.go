// Package convfix normalises an arbitrary message list into a shape that
// satisfies the structural invariants a provider requires (role alternation,
// tool-call/response pairing, no orphan references). Grounded in the
// teacher's internal/agent/transcript_repair.go (tool-pairing repair) and,
// for the full five-step pipeline, the upstream conversation-fixer design
// it was itself distilled from.
package convfix

import (
	"fmt"

	"github.com/agentcore/runtime/pkg/models"
)

// PlaceholderUserText is inserted when a conversation reduces to nothing.
const PlaceholderUserText = "Hello"

// Fix runs the five-step pipeline and returns the normalised conversation
// together with a human-readable log of every mutation applied. Fix is
// idempotent: Fix(Fix(m).Messages) always returns an empty Issues slice
// (I1).
func Fix(messages []models.Message) (fixed []models.Message, issues []string) {
	messages, i1 := removeEmptyMessages(messages)
	messages, i2 := fixToolCalling(messages)
	messages, i3 := mergeConsecutive(messages)
	messages, i4 := fixLeadTrail(messages)
	messages, i5 := populateIfEmpty(messages)

	issues = append(issues, i1...)
	issues = append(issues, i2...)
	issues = append(issues, i3...)
	issues = append(issues, i4...)
	issues = append(issues, i5...)
	return messages, issues
}

// Validate returns an error describing the first structural violation found,
// or nil if messages already satisfies every invariant in spec §3. Used when
// constructing a Conversation from untrusted input, where silently fixing
// would hide a caller bug.
func Validate(messages []models.Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("convfix: empty conversation")
	}
	if messages[0].Role != models.RoleUser {
		return fmt.Errorf("convfix: first message must have role User, got %s", messages[0].Role)
	}
	if messages[len(messages)-1].Role != models.RoleUser {
		return fmt.Errorf("convfix: last message must have role User, got %s", messages[len(messages)-1].Role)
	}

	pending := map[string]bool{}
	var prevEffective models.EffectiveRole
	for i, m := range messages {
		if m.IsEmpty() {
			return fmt.Errorf("convfix: message %d is empty", i)
		}
		eff := m.EffectiveRole()
		if i > 0 && eff == prevEffective {
			return fmt.Errorf("convfix: message %d has same effective role %q as previous message", i, eff)
		}
		prevEffective = eff

		for _, c := range m.Content {
			switch c.Kind {
			case models.ContentToolRequest, models.ContentToolConfirmationReq, models.ContentThinking, models.ContentRedactedThinking:
				if m.Role == models.RoleUser {
					return fmt.Errorf("convfix: message %d (User) carries forbidden block kind %q", i, c.Kind)
				}
			case models.ContentToolResponse, models.ContentFrontendToolRequest:
				if m.Role == models.RoleAssistant {
					return fmt.Errorf("convfix: message %d (Assistant) carries forbidden block kind %q", i, c.Kind)
				}
			}
			if m.Role == models.RoleAssistant && c.Kind == models.ContentToolRequest {
				pending[c.ID] = true
			}
			if m.Role == models.RoleUser && c.Kind == models.ContentToolResponse {
				if !pending[c.ID] {
					return fmt.Errorf("convfix: message %d has orphaned tool response %q", i, c.ID)
				}
				delete(pending, c.ID)
			}
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("convfix: %d tool request(s) never answered", len(pending))
	}
	return nil
}

// DebugReport renders a human-readable before/issues/after dump, grounded in
// the original implementation's debug_conversation_fix helper. Useful for
// test failures and manual transcript inspection.
func DebugReport(before, after []models.Message, issues []string) string {
	out := "=== CONVERSATION FIX DEBUG ===\n\nBEFORE:\n"
	for i, m := range before {
		out += fmt.Sprintf("  [%d] %s: %s\n", i, m.Role, debugContent(m))
	}
	out += "\nISSUES FOUND:\n"
	if len(issues) == 0 {
		out += "  (none)\n"
	}
	for _, s := range issues {
		out += "  - " + s + "\n"
	}
	out += "\nAFTER:\n"
	for i, m := range after {
		out += fmt.Sprintf("  [%d] %s: %s\n", i, m.Role, debugContent(m))
	}
	out += "\n==============================\n"
	return out
}

func debugContent(m models.Message) string {
	s := ""
	for _, c := range m.Content {
		s += "[" + string(c.Kind) + "]"
	}
	return s
}

// removeEmptyMessages drops every message with zero content blocks.
func removeEmptyMessages(messages []models.Message) ([]models.Message, []string) {
	var issues []string
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.IsEmpty() {
			issues = append(issues, "Removed empty message")
			continue
		}
		out = append(out, m)
	}
	return out, issues
}

// fixToolCalling strips role-misplaced blocks, drops orphaned tool
// responses, and (after a full forward pass) drops any Assistant tool
// request that was never answered. Mirrors transcript_repair.go's
// pending-set tracking but implements the full block-kind rule set from
// spec §3 rather than only request/response pairing.
func fixToolCalling(messages []models.Message) ([]models.Message, []string) {
	var issues []string
	out := make([]models.Message, len(messages))
	copy(out, messages)

	pending := map[string]bool{}

	for i := range out {
		m := out[i]
		kept := make([]models.ContentBlock, 0, len(m.Content))

		switch m.Role {
		case models.RoleUser:
			for _, c := range m.Content {
				switch c.Kind {
				case models.ContentToolRequest:
					issues = append(issues, fmt.Sprintf("Removed tool request '%s' from user message", c.ID))
				case models.ContentToolConfirmationReq:
					issues = append(issues, fmt.Sprintf("Removed tool confirmation request '%s' from user message", c.ID))
				case models.ContentThinking, models.ContentRedactedThinking:
					issues = append(issues, "Removed thinking content from user message")
				case models.ContentToolResponse:
					if pending[c.ID] {
						delete(pending, c.ID)
						kept = append(kept, c)
					} else {
						issues = append(issues, fmt.Sprintf("Removed orphaned tool response '%s'", c.ID))
					}
				default:
					kept = append(kept, c)
				}
			}
		case models.RoleAssistant:
			for _, c := range m.Content {
				switch c.Kind {
				case models.ContentToolResponse:
					issues = append(issues, fmt.Sprintf("Removed tool response '%s' from assistant message", c.ID))
				case models.ContentFrontendToolRequest:
					issues = append(issues, fmt.Sprintf("Removed frontend tool request '%s' from assistant message", c.ID))
				case models.ContentToolRequest:
					pending[c.ID] = true
					kept = append(kept, c)
				default:
					kept = append(kept, c)
				}
			}
		}
		m.Content = kept
		out[i] = m
	}

	// Second pass: drop any Assistant ToolRequest whose id was never
	// matched by a User ToolResponse anywhere in the transcript.
	for i := range out {
		m := out[i]
		if m.Role != models.RoleAssistant {
			continue
		}
		kept := make([]models.ContentBlock, 0, len(m.Content))
		changed := false
		for _, c := range m.Content {
			if c.Kind == models.ContentToolRequest && pending[c.ID] {
				issues = append(issues, fmt.Sprintf("Removed orphaned tool request '%s'", c.ID))
				changed = true
				continue
			}
			kept = append(kept, c)
		}
		if changed {
			m.Content = kept
			out[i] = m
		}
	}

	out, moreIssues := removeEmptyMessages(out)
	issues = append(issues, moreIssues...)
	return out, issues
}

// mergeConsecutive merges adjacent messages sharing the same literal role.
// Literal-role alternation is strictly stronger than effective-role
// alternation (there are only two literal roles), so merging on literal
// role also guarantees the §3 effective-role adjacency invariant holds
// afterward: a message is only ever adjacent to the opposite literal role.
func mergeConsecutive(messages []models.Message) ([]models.Message, []string) {
	var issues []string
	var out []models.Message
	for _, m := range messages {
		if len(out) > 0 && out[len(out)-1].Role == m.Role {
			last := out[len(out)-1]
			last.Content = append(last.Content, m.Content...)
			out[len(out)-1] = last
			issues = append(issues, fmt.Sprintf("Merged consecutive %s messages", roleName(m.Role)))
			continue
		}
		out = append(out, m)
	}
	return out, issues
}

func roleName(r models.Role) string {
	switch r {
	case models.RoleUser:
		return "user"
	case models.RoleAssistant:
		return "assistant"
	default:
		return string(r)
	}
}

// fixLeadTrail removes a leading or trailing Assistant message, since every
// validated conversation must begin and end with a User message. Trailing is
// checked first so a single lone Assistant message is reported as trailing,
// not leading.
func fixLeadTrail(messages []models.Message) ([]models.Message, []string) {
	var issues []string
	if len(messages) > 0 && messages[len(messages)-1].Role == models.RoleAssistant {
		messages = messages[:len(messages)-1]
		issues = append(issues, "Removed trailing assistant message")
	}
	if len(messages) > 0 && messages[0].Role == models.RoleAssistant {
		messages = messages[1:]
		issues = append(issues, "Removed leading assistant message")
	}
	return messages, issues
}

// populateIfEmpty inserts the placeholder User message if the pipeline
// reduced the conversation to nothing.
func populateIfEmpty(messages []models.Message) ([]models.Message, []string) {
	if len(messages) == 0 {
		issues := []string{"Added placeholder user message to empty conversation"}
		return []models.Message{models.NewUserText(PlaceholderUserText, 0)}, issues
	}
	return messages, nil
}
