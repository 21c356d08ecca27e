package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the diagnostic runtime. All are registered with
// the default registry at package load; the CLI exposes them on demand via
// the metrics command.
var (
	// LLMRequestsTotal counts LLM requests.
	// Labels: provider (openai|anthropic|google|xai|ollama), model, status (ok|error)
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmedic_llm_requests_total",
			Help: "Total number of LLM requests by provider, model, and status",
		},
		[]string{"provider", "model", "status"},
	)

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider
	// Buckets: 0.1s .. 60s
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netmedic_llm_request_duration_seconds",
			Help:    "Duration of LLM requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	// LLMTokensTotal tracks token consumption.
	// Labels: provider, kind (prompt|completion)
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmedic_llm_tokens_total",
			Help: "Total number of tokens used by provider and kind",
		},
		[]string{"provider", "kind"},
	)

	// ProviderFallbacksTotal counts provider downgrades.
	// Labels: from, to, reason (offline|missing_credentials|unavailable)
	ProviderFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmedic_provider_fallbacks_total",
			Help: "Total number of provider fallbacks by origin, target, and reason",
		},
		[]string{"from", "to", "reason"},
	)

	// ToolExecutionsTotal counts diagnostic tool invocations.
	// Labels: tool, status (ok|error)
	ToolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmedic_tool_executions_total",
			Help: "Total number of tool executions by tool name and status",
		},
		[]string{"tool", "status"},
	)

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	// Buckets: 0.01s .. 60s, sized for shell probes like ping and nslookup
	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netmedic_tool_duration_seconds",
			Help:    "Duration of tool executions in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)

	// SessionsActive tracks sessions that have started but not ended.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netmedic_sessions_active",
			Help: "Current number of diagnostic sessions in progress",
		},
	)

	// StoreErrorsTotal counts persistence failures.
	// Labels: op (save_session|save_message|save_event|...)
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netmedic_store_errors_total",
			Help: "Total number of store write failures by operation",
		},
		[]string{"op"},
	)
)
