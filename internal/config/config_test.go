package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
extra_top_level_field: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      default_model: claude-sonnet-4
approval:
  default_decision: pending
compaction:
  threshold: 0.8
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Fatalf("expected default_provider anthropic, got %q", cfg.LLM.DefaultProvider)
	}
	if cfg.Compaction.Threshold != 0.8 {
		t.Fatalf("expected compaction threshold 0.8, got %v", cfg.Compaction.Threshold)
	}
}

func TestLoadAppliesAPIKeyEnvOverride(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key-value")

	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      default_model: claude-sonnet-4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "env-key-value" {
		t.Fatalf("expected env override to fill api_key, got %q", cfg.LLM.Providers["anthropic"].APIKey)
	}
}

func TestLoadDoesNotOverrideExplicitAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key-value")

	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: from-file
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "from-file" {
		t.Fatalf("expected explicit api_key to survive, got %q", cfg.LLM.Providers["anthropic"].APIKey)
	}
}

func TestLoadExpandsEnvVarReferences(t *testing.T) {
	t.Setenv("OPENAI_SECRET", "expanded-value")

	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    openai:
      api_key: ${OPENAI_SECRET}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Providers["openai"].APIKey != "expanded-value" {
		t.Fatalf("expected ${VAR} expansion, got %q", cfg.LLM.Providers["openai"].APIKey)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	includedPath := filepath.Join(dir, "llm.yaml")
	if err := os.WriteFile(includedPath, []byte("llm:\n  default_provider: anthropic\n  providers:\n    anthropic: {}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	path := filepath.Join(dir, "agentcore.yaml")
	if err := os.WriteFile(path, []byte("$include: llm.yaml\napproval:\n  ask_fallback: true\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Fatalf("expected included llm config to merge, got %q", cfg.LLM.DefaultProvider)
	}
	if !cfg.Approval.AskFallback {
		t.Fatalf("expected approval.ask_fallback to survive the merge")
	}
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	path := writeConfig(t, `
version: 99
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected version error")
	}
	if !strings.Contains(err.Error(), "version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentcore.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
