package models

import "time"

// ExtensionTransport tags which ExtensionConfig variant is populated.
type ExtensionTransport string

const (
	ExtensionBuiltin        ExtensionTransport = "builtin"
	ExtensionStdio          ExtensionTransport = "stdio"
	ExtensionSSE            ExtensionTransport = "sse"
	ExtensionStreamableHTTP ExtensionTransport = "streamable_http"
	ExtensionInlinePython   ExtensionTransport = "inline_python"
	ExtensionFrontend       ExtensionTransport = "frontend"
)

// ExtensionConfig is the union of ways an extension can be configured,
// per spec.md §3. Only the fields relevant to Transport are meaningful.
type ExtensionConfig struct {
	Name      string             `yaml:"name" json:"name"`
	Transport ExtensionTransport `yaml:"transport" json:"transport"`

	// Stdio / InlinePython
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Envs    map[string]string `yaml:"envs,omitempty" json:"envs,omitempty"`
	EnvKeys []string          `yaml:"env_keys,omitempty" json:"env_keys,omitempty"`

	// InlinePython
	Code string   `yaml:"code,omitempty" json:"code,omitempty"`
	Deps []string `yaml:"deps,omitempty" json:"deps,omitempty"`

	// SSE / StreamableHttp
	URI     string            `yaml:"uri,omitempty" json:"uri,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Frontend
	FrontendTools []string `yaml:"frontend_tools,omitempty" json:"frontend_tools,omitempty"`

	// Common
	Timeout        time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	AvailableTools []string      `yaml:"available_tools,omitempty" json:"available_tools,omitempty"`
}

// IsToolAvailable reports whether the named tool is exposed by this
// extension config. An empty allow-list means "all tools advertised are
// available" (spec.md §3).
func (c *ExtensionConfig) IsToolAvailable(name string) bool {
	if len(c.AvailableTools) == 0 {
		return true
	}
	for _, t := range c.AvailableTools {
		if t == name {
			return true
		}
	}
	return false
}

// SessionConfig is external-supplied configuration passed through the
// reply loop unmodified (spec.md §3).
type SessionConfig struct {
	ID            string         `json:"id"`
	WorkingDir    string         `json:"working_dir,omitempty"`
	ScheduleID    string         `json:"schedule_id,omitempty"`
	ExecutionMode string         `json:"execution_mode,omitempty"`
	MaxTurns      *int           `json:"max_turns,omitempty"`
	RetryConfig   *RetryConfig   `json:"retry_config,omitempty"`
}

// RetryConfig is the external-supplied retry policy override, if any.
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts,omitempty"`
	InitialDelay time.Duration `json:"initial_delay,omitempty"`
	MaxDelay     time.Duration `json:"max_delay,omitempty"`
}

// DefaultMaxTurns is used when SessionConfig.MaxTurns is nil (spec.md §4.6).
const DefaultMaxTurns = 100
