package extensions

import "strings"

// SanitizeName implements the spec's extension-name sanitisation rule:
// lowercase; [a-zA-Z0-9_-] preserved; whitespace dropped; every other code
// point becomes '_'. Grounded in the teacher's mcp/tool_summaries.go
// sanitizeToolPart, generalized to preserve hyphens and drop (not collapse)
// whitespace rather than dropping every run to a single underscore, per
// spec.md §3's exact wording.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			continue
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// PrefixedToolName forms the wire-visible tool name "{ext}__{tool}".
func PrefixedToolName(sanitisedExt, toolName string) string {
	return sanitisedExt + "__" + toolName
}

// SplitPrefixedToolName extracts the tool name given the sanitised extension
// name it should be prefixed by, per spec.md §4.4 dispatch step 2: strip the
// extension name, then strip a leading "__". Returns ok=false if either
// strip fails.
func SplitPrefixedToolName(prefixedName, sanitisedExt string) (toolName string, ok bool) {
	if !strings.HasPrefix(prefixedName, sanitisedExt) {
		return "", false
	}
	rest := prefixedName[len(sanitisedExt):]
	if !strings.HasPrefix(rest, "__") {
		return "", false
	}
	return rest[2:], true
}
