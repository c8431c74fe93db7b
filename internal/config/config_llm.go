package config

// LLMConfig configures the providers available to internal/provider's
// adapters.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default provider's
	// stream fails with a retryable FailoverReason after retry exhaustion.
	// Example: ["openai", "google"] - try OpenAI first, then Google.
	FallbackChain []string `yaml:"fallback_chain"`

	// Bedrock configures AWS Bedrock credential resolution.
	Bedrock BedrockConfig `yaml:"bedrock"`
}

// LLMProviderConfig is one provider's credentials and defaults.
type LLMProviderConfig struct {
	APIKey       string                              `yaml:"api_key"`
	DefaultModel string                               `yaml:"default_model"`
	BaseURL      string                              `yaml:"base_url"`
	APIVersion   string                              `yaml:"api_version"`
	Profiles     map[string]LLMProviderProfileConfig `yaml:"profiles"`
}

// LLMProviderProfileConfig overrides a subset of LLMProviderConfig for a
// named profile, e.g. a cheaper model used for summarization during
// compaction.
type LLMProviderProfileConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	APIVersion   string `yaml:"api_version"`
}

// BedrockConfig configures the AWS SDK credential chain used by
// internal/provider/bedrock.
type BedrockConfig struct {
	// Region is the AWS region to target. Default: us-east-1.
	Region string `yaml:"region"`

	// Profile selects a named profile from the shared AWS credentials file.
	// Empty uses the default credential chain (env vars, instance role, ...).
	Profile string `yaml:"profile"`
}
