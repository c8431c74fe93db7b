package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Reply-loop run outcomes and in-flight run count
//   - Provider request latency and token usage
//   - Tool-call dispatch outcomes and duration
//   - Context-compaction events
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	sink := observability.NewSink(metrics, tracer)
type Metrics struct {
	// RunsTotal counts finished Reply calls by outcome (finished|error|cancelled|timed_out).
	RunsTotal *prometheus.CounterVec

	// ProviderRequestDuration measures a single provider complete/stream call in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestsTotal counts provider requests by provider, model, and status.
	ProviderRequestsTotal *prometheus.CounterVec

	// ProviderTokensUsed tracks token consumption by provider, model, and kind (prompt|completion).
	ProviderTokensUsed *prometheus.CounterVec

	// ProviderRetriesTotal counts retry attempts by provider and failover reason.
	// Unused at present: the reply loop retries through internal/retry, which
	// exposes no per-attempt hook for a sink to observe.
	ProviderRetriesTotal *prometheus.CounterVec

	// ToolDispatchesTotal counts tool-call dispatches by tool name and outcome (ok|error|denied).
	ToolDispatchesTotal *prometheus.CounterVec

	// ToolDispatchDuration measures tool-call round trip time in seconds.
	// Labels: tool_name
	ToolDispatchDuration *prometheus.HistogramVec

	// CompactionsTotal counts context-compaction runs by trigger (threshold|explicit) and outcome.
	CompactionsTotal *prometheus.CounterVec

	// ContextWindowTokens tracks the input-token count reported with each
	// completed provider request. Context-packing diagnostics only carry
	// character counts, not token counts, so this is sampled from
	// model.completed events rather than context.packed ones.
	// Labels: provider, model
	ContextWindowTokens *prometheus.HistogramVec

	// ActiveRuns is a gauge tracking in-flight Reply calls.
	ActiveRuns prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics. Call once at
// application startup; the returned Metrics registers with the default
// registry so it is served at /metrics alongside Go runtime metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_runs_total",
				Help: "Total number of finished Reply calls by outcome",
			},
			[]string{"outcome"},
		),

		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_provider_request_duration_seconds",
				Help:    "Duration of provider complete/stream calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ProviderRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_requests_total",
				Help: "Total number of provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ProviderTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_tokens_total",
				Help: "Total number of tokens used by provider, model, and kind",
			},
			[]string{"provider", "model", "kind"},
		),

		ProviderRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_retries_total",
				Help: "Total number of provider retry attempts by provider and failover reason",
			},
			[]string{"provider", "reason"},
		),

		ToolDispatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_dispatches_total",
				Help: "Total number of tool-call dispatches by tool name and outcome",
			},
			[]string{"tool_name", "outcome"},
		),

		ToolDispatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_dispatch_duration_seconds",
				Help:    "Duration of tool-call dispatches in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		CompactionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_compactions_total",
				Help: "Total number of context-compaction runs by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),

		ContextWindowTokens: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_context_window_tokens",
				Help:    "Input token count reported with each completed provider request",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),

		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_active_runs",
				Help: "Current number of in-flight Reply calls",
			},
		),
	}
}

// RecordRun increments the run counter for the given outcome.
func (m *Metrics) RecordRun(outcome string) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

// RecordProviderRequest records metrics for a single provider request.
func (m *Metrics) RecordProviderRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.ProviderRequestsTotal.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordProviderRetry increments the retry counter for a provider/reason pair.
func (m *Metrics) RecordProviderRetry(provider, reason string) {
	m.ProviderRetriesTotal.WithLabelValues(provider, reason).Inc()
}

// RecordToolDispatch records metrics for a completed tool-call dispatch.
func (m *Metrics) RecordToolDispatch(toolName, outcome string, durationSeconds float64) {
	m.ToolDispatchesTotal.WithLabelValues(toolName, outcome).Inc()
	m.ToolDispatchDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordCompaction records a context-compaction run.
func (m *Metrics) RecordCompaction(trigger, outcome string) {
	m.CompactionsTotal.WithLabelValues(trigger, outcome).Inc()
}

// RecordContextWindow records the conversation token count observed at a compaction check.
func (m *Metrics) RecordContextWindow(provider, model string, tokens int) {
	m.ContextWindowTokens.WithLabelValues(provider, model).Observe(float64(tokens))
}

// RunStarted increments the active-runs gauge.
func (m *Metrics) RunStarted() {
	m.ActiveRuns.Inc()
}

// RunEnded decrements the active-runs gauge.
func (m *Metrics) RunEnded() {
	m.ActiveRuns.Dec()
}
