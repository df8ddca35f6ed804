package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of Prometheus collectors exported by the controller
// daemon at /metrics.
type Metrics struct {
	// ProcessesActive is the live process count, labeled by status.
	ProcessesActive *prometheus.GaugeVec

	// MessagesProcessed counts inbound duplex frames, labeled by event type.
	MessagesProcessed *prometheus.CounterVec

	// ProviderRequestDuration measures streaming provider call latency.
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequests counts provider calls by outcome.
	ProviderRequests *prometheus.CounterVec

	// ProviderFallbacks counts model-fallback switches triggered by the Runner.
	ProviderFallbacks *prometheus.CounterVec

	// ToolExecutions counts dispatched tool calls by tool name and outcome.
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool dispatch latency.
	ToolExecutionDuration *prometheus.HistogramVec

	// StageRetries counts staged-orchestrator per-stage retries.
	StageRetries *prometheus.CounterVec

	// CostPerMinute is the global cost-per-minute gauge from the aggregator.
	CostPerMinute prometheus.Gauge

	// CostTotal is the running global cost counter.
	CostTotal prometheus.Counter

	// CostLimitWarnings counts daily-limit warning emissions by kind (approaching|exceeded).
	CostLimitWarnings *prometheus.CounterVec
}

// NewMetrics registers and returns the controller's metric collectors. Call
// once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		ProcessesActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "magi_processes_active",
			Help: "Current number of tracked agent processes by status",
		}, []string{"status"}),

		MessagesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "magi_messages_total",
			Help: "Total duplex frames processed, labeled by event type",
		}, []string{"event_type"}),

		ProviderRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "magi_provider_request_duration_seconds",
			Help:    "Duration of streaming provider calls",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		ProviderRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "magi_provider_requests_total",
			Help: "Total provider calls by provider, model, and outcome",
		}, []string{"provider", "model", "outcome"}),

		ProviderFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "magi_provider_fallbacks_total",
			Help: "Total model-fallback switches",
		}, []string{"from_model", "to_model"}),

		ToolExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "magi_tool_executions_total",
			Help: "Total tool dispatches by tool name and outcome",
		}, []string{"tool", "outcome"}),

		ToolExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "magi_tool_execution_duration_seconds",
			Help:    "Duration of tool dispatch",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		StageRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "magi_stage_retries_total",
			Help: "Staged-orchestrator retries by stage name",
		}, []string{"stage"}),

		CostPerMinute: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "magi_cost_per_minute_usd",
			Help: "Global cost accrual rate in USD per minute",
		}),

		CostTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "magi_cost_total_usd",
			Help: "Global cumulative cost in USD",
		}),

		CostLimitWarnings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "magi_cost_limit_warnings_total",
			Help: "Daily cost limit warnings emitted, by kind",
		}, []string{"kind"}),
	}
}
