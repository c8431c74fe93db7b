// Package config loads the YAML configuration that parameterizes an agent
// core deployment: per-provider LLM credentials, the extension set, the
// approval policy, and the ambient logging/tracing settings. Grounded in the
// teacher's internal/config/config.go loader, trimmed from its full
// gateway/channels/database surface down to the fields a reply loop actually
// consults.
package config

import (
	"os"
	"strings"

	"github.com/agentcore/runtime/pkg/models"
)

// Config is the top-level configuration structure for an agent core process.
type Config struct {
	Version int `yaml:"version"`

	LLM        LLMConfig                `yaml:"llm"`
	Extensions []models.ExtensionConfig `yaml:"extensions"`
	Approval   ApprovalConfig           `yaml:"approval"`
	Compaction CompactionConfig         `yaml:"compaction"`
	Retry      RetryConfig              `yaml:"retry"`
	Logging    LoggingConfig            `yaml:"logging"`
	Tracing    TracingConfig            `yaml:"tracing"`
}

// ApprovalConfig mirrors internal/agent.ApprovalPolicy in YAML form.
type ApprovalConfig struct {
	Allowlist       []string `yaml:"allowlist"`
	Denylist        []string `yaml:"denylist"`
	RequireApproval []string `yaml:"require_approval"`
	SafeBins        []string `yaml:"safe_bins"`
	SkillAllowlist  bool     `yaml:"skill_allowlist"`
	AskFallback     bool     `yaml:"ask_fallback"`
	DefaultDecision string   `yaml:"default_decision"`
}

// CompactionConfig controls internal/contextmgr's auto-compaction threshold.
type CompactionConfig struct {
	// Threshold is the fraction of the model's context window that triggers
	// compaction (0, 1). Zero means "use contextmgr.DefaultThreshold".
	Threshold float64 `yaml:"threshold"`
}

// RetryConfig mirrors internal/retry.Config in YAML form.
type RetryConfig struct {
	MaxAttempts  int     `yaml:"max_attempts"`
	InitialDelay string  `yaml:"initial_delay"`
	MaxDelay     string  `yaml:"max_delay"`
	Factor       float64 `yaml:"factor"`
	Jitter       bool    `yaml:"jitter"`
}

// Load reads path, resolving $include directives and ${VAR} environment
// expansion (internal/config/loader.go), then decodes the merged document
// into a Config and applies per-provider API-key environment overrides.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if cfg.Version != 0 {
		if err := ValidateVersion(cfg.Version); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides fills in a provider's APIKey from <PROVIDER>_API_KEY when
// the YAML value is empty, so operators can keep credentials out of the
// config file entirely rather than relying solely on ${VAR} interpolation.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	for name, provider := range cfg.LLM.Providers {
		if provider.APIKey == "" {
			if v, ok := os.LookupEnv(strings.ToUpper(name) + "_API_KEY"); ok {
				provider.APIKey = v
			}
		}
		cfg.LLM.Providers[name] = provider
	}
}
