package tokens

import "strings"

// DefaultContextWindow is used when a model's context window isn't known.
const DefaultContextWindow = 128000

// modelContextWindows maps model-ID prefixes to their usable context window,
// grounded in the teacher's internal/context/window.go ModelContextWindows table.
var modelContextWindows = map[string]int{
	"claude-opus-4":   200000,
	"claude-sonnet-4": 200000,
	"claude-3-5":      200000,
	"claude-3-opus":   200000,
	"claude-3-haiku":  200000,
	"gpt-4o":          128000,
	"gpt-4-turbo":     128000,
	"gpt-4":           8192,
	"o1":              200000,
	"o3":              200000,
	"gemini-1.5-pro":  2000000,
	"gemini-1.5":      1000000,
	"gemini-2":        1000000,
}

// ContextWindowFor returns the known usable context window for a model ID,
// matching by longest registered prefix, or DefaultContextWindow if unknown.
func ContextWindowFor(model string) int {
	best := 0
	bestLen := -1
	for prefix, size := range modelContextWindows {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = size
			bestLen = len(prefix)
		}
	}
	if bestLen < 0 {
		return DefaultContextWindow
	}
	return best
}

// RegisterContextWindow registers or overrides a model's context window,
// e.g. for a newly released model not yet in the built-in table.
func RegisterContextWindow(modelPrefix string, size int) {
	modelContextWindows[modelPrefix] = size
}
