package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for orchestrator metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Query runs and their outcomes
//   - Turns per query and LLM request latency
//   - Tool execution patterns, outcomes, and latencies
//   - Transparent retries and context truncations
//   - Rate-limit rejections and dropped audit writes
type Metrics struct {
	// QueryCounter counts query runs by outcome.
	// Labels: status (success|error|cancelled)
	QueryCounter *prometheus.CounterVec

	// TurnsPerQuery observes the number of turns a query took.
	TurnsPerQuery prometheus.Histogram

	// LLMRequestDuration measures backend call latency in seconds.
	// Labels: model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRetryCounter counts transparent throttling retries.
	LLMRetryCounter prometheus.Counter

	// LLMTokensUsed tracks token consumption.
	// Labels: model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: status (success|error|rejected|rate_limited)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration prometheus.Histogram

	// ContextTruncations counts context-overflow recoveries.
	ContextTruncations prometheus.Counter

	// AuditDropCounter counts audit records dropped on write failure.
	AuditDropCounter prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics on the given
// registerer. Call once at startup; pass prometheus.DefaultRegisterer for
// the /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphpilot_queries_total",
				Help: "Total number of query runs by outcome",
			},
			[]string{"status"},
		),

		TurnsPerQuery: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "graphpilot_query_turns",
				Help:    "Number of turns per query run",
				Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
			},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "graphpilot_llm_request_duration_seconds",
				Help:    "Duration of LLM backend calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),

		LLMRetryCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "graphpilot_llm_retries_total",
				Help: "Total number of transparent throttling retries",
			},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphpilot_llm_tokens_total",
				Help: "Total number of tokens used by model and type",
			},
			[]string{"model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphpilot_tool_executions_total",
				Help: "Total number of tool executions by status",
			},
			[]string{"status"},
		),

		ToolExecutionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "graphpilot_tool_execution_duration_seconds",
				Help:    "Duration of graph query executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),

		ContextTruncations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "graphpilot_context_truncations_total",
				Help: "Total number of context-overflow truncation recoveries",
			},
		),

		AuditDropCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "graphpilot_audit_drops_total",
				Help: "Total number of audit records dropped on write failure",
			},
		),
	}
}
