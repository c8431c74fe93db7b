package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentcore/runtime/internal/agent"
	"github.com/agentcore/runtime/internal/config"
	"github.com/agentcore/runtime/internal/extensions"
	"github.com/agentcore/runtime/internal/observability"
	"github.com/agentcore/runtime/internal/provider"
	"github.com/agentcore/runtime/internal/provider/anthropic"
	"github.com/agentcore/runtime/internal/provider/bedrock"
	"github.com/agentcore/runtime/internal/provider/google"
	"github.com/agentcore/runtime/internal/provider/openai"
	"github.com/agentcore/runtime/internal/retry"
)

// buildProvider resolves cfg.LLM.DefaultProvider into a concrete
// provider.Provider, the way buildServeCmd's teacher ancestor picks an
// LLMProvider from config before constructing the runtime.
func buildProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider.Provider, error) {
	name := cfg.LLM.DefaultProvider
	if name == "" {
		return nil, fmt.Errorf("llm.default_provider is required")
	}
	pc, ok := cfg.LLM.Providers[name]
	if !ok {
		return nil, fmt.Errorf("llm.providers has no entry for default_provider %q", name)
	}

	switch name {
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.DefaultModel,
		}, logger), nil
	case "openai":
		return openai.New(openai.Config{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.DefaultModel,
		}, logger), nil
	case "google":
		return google.New(ctx, google.Config{
			APIKey: pc.APIKey,
			Model:  pc.DefaultModel,
		}, logger)
	case "bedrock":
		return bedrock.New(ctx, bedrock.Config{
			Region:  cfg.LLM.Bedrock.Region,
			ModelID: pc.DefaultModel,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// buildAgent wires a provider, extension manager, and approval checker into
// an *agent.Agent per the loaded Config, mirroring the teacher's buildServeCmd
// wiring sequence (config -> provider -> manager -> runtime) but without the
// gateway/channel layer this build has no use for. The returned shutdown
// func flushes the OTel tracer's batched spans and must be called once the
// agent is done with (typically via defer in the caller).
func buildAgent(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*agent.Agent, func(context.Context) error, error) {
	p, err := buildProvider(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build provider: %w", err)
	}

	extMgr := extensions.NewManager(config.EnvCredentialStore{}, nil, nil, nil, logger)
	for i := range cfg.Extensions {
		if err := extMgr.AddExtension(ctx, &cfg.Extensions[i]); err != nil {
			return nil, nil, fmt.Errorf("add extension %q: %w", cfg.Extensions[i].Name, err)
		}
	}

	policy := agent.DefaultApprovalPolicy()
	policy.Allowlist = append(policy.Allowlist, cfg.Approval.Allowlist...)
	policy.Denylist = append(policy.Denylist, cfg.Approval.Denylist...)
	policy.RequireApproval = append(policy.RequireApproval, cfg.Approval.RequireApproval...)
	policy.SafeBins = append(policy.SafeBins, cfg.Approval.SafeBins...)
	policy.SkillAllowlist = cfg.Approval.SkillAllowlist
	policy.AskFallback = cfg.Approval.AskFallback
	if cfg.Approval.DefaultDecision != "" {
		policy.DefaultDecision = agent.ApprovalDecision(cfg.Approval.DefaultDecision)
	}
	approval := agent.NewApprovalChecker(policy)

	metrics := observability.NewMetrics()
	tracer, shutdown := observability.NewTracer(buildTraceConfig(cfg.Tracing))
	sink := agent.NewMultiSink(observability.NewSink(metrics, tracer))

	a := agent.NewAgent("agentcore", extMgr, approval, sink)
	a.UpdateProvider(p)
	if cfg.Compaction.Threshold > 0 {
		a.SetCompactThreshold(cfg.Compaction.Threshold)
	}
	if cfg.Retry.MaxAttempts > 0 {
		a.SetRetryConfig(buildRetryConfig(cfg.Retry))
	}
	return a, shutdown, nil
}

// buildTraceConfig adapts the loaded TracingConfig into observability's
// TraceConfig. An empty Endpoint (including when tracing is disabled)
// makes NewTracer return a no-op tracer.
func buildTraceConfig(tc config.TracingConfig) observability.TraceConfig {
	cfg := observability.TraceConfig{
		ServiceName:    tc.ServiceName,
		ServiceVersion: tc.ServiceVersion,
		Environment:    tc.Environment,
		SamplingRate:   tc.SamplingRate,
		Attributes:     tc.Attributes,
		EnableInsecure: tc.Insecure,
	}
	if tc.Enabled {
		cfg.Endpoint = tc.Endpoint
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "agentcore"
	}
	return cfg
}

func buildRetryConfig(rc config.RetryConfig) retry.Config {
	defaults := retry.DefaultConfig()
	cfg := defaults
	if rc.MaxAttempts > 0 {
		cfg.MaxAttempts = rc.MaxAttempts
	}
	if d, err := time.ParseDuration(rc.InitialDelay); err == nil && d > 0 {
		cfg.InitialDelay = d
	}
	if d, err := time.ParseDuration(rc.MaxDelay); err == nil && d > 0 {
		cfg.MaxDelay = d
	}
	if rc.Factor > 0 {
		cfg.Factor = rc.Factor
	}
	cfg.Jitter = rc.Jitter
	return cfg
}
