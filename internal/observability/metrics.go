package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the Zentro backend. Collectors
// are registered on a dedicated registry so tests can create as many Metrics
// values as they like without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	// Agent runtime
	AgentRuns        *prometheus.CounterVec
	AgentRunDuration *prometheus.HistogramVec
	AgentIterations  prometheus.Histogram
	ActiveStreams    prometheus.Gauge

	// LLM providers
	LLMRequests       *prometheus.CounterVec
	LLMRequestRetries *prometheus.CounterVec
	LLMTokens         *prometheus.CounterVec

	// Tools
	ToolExecutions       *prometheus.CounterVec
	ToolDuration         *prometheus.HistogramVec
	ToolInjectedOverride *prometheus.CounterVec

	// Checkpoints
	CheckpointOps       *prometheus.CounterVec
	CheckpointReadyWait prometheus.Histogram

	// Storage and HTTP
	DBTransactions  *prometheus.CounterVec
	DBTxDuration    prometheus.Histogram
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	FollowUpsSent   prometheus.Counter
	FollowUpsByKind *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		AgentRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zentro_agent_runs_total",
			Help: "Agent invocations by mode and outcome",
		}, []string{"mode", "status"}),

		AgentRunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zentro_agent_run_duration_seconds",
			Help:    "End-to-end agent run latency",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"mode"}),

		AgentIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "zentro_agent_iterations",
			Help:    "Model round trips per agent run",
			Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
		}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zentro_active_streams",
			Help: "SSE streams currently open",
		}),

		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zentro_llm_requests_total",
			Help: "Model completion requests by provider, model and outcome",
		}, []string{"provider", "model", "status"}),

		LLMRequestRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zentro_llm_request_retries_total",
			Help: "Retried model completion requests by provider",
		}, []string{"provider"}),

		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zentro_llm_tokens_total",
			Help: "Token usage by provider, model and direction",
		}, []string{"provider", "model", "direction"}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zentro_tool_executions_total",
			Help: "Tool dispatches by tool name and outcome",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zentro_tool_duration_seconds",
			Help:    "Tool execution latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),

		ToolInjectedOverride: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zentro_tool_injected_override_total",
			Help: "Model-supplied values discarded for injected tool parameters",
		}, []string{"tool", "param"}),

		CheckpointOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zentro_checkpoint_ops_total",
			Help: "Checkpoint store operations by kind and outcome",
		}, []string{"op", "status"}),

		CheckpointReadyWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "zentro_checkpoint_ready_wait_seconds",
			Help:    "Time spent waiting for the checkpoint store to become ready",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5},
		}),

		DBTransactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zentro_db_transactions_total",
			Help: "Domain store transactions by outcome",
		}, []string{"status"}),

		DBTxDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "zentro_db_transaction_duration_seconds",
			Help:    "Domain store transaction latency",
			Buckets: prometheus.DefBuckets,
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zentro_http_requests_total",
			Help: "HTTP requests by route, method and status class",
		}, []string{"route", "method", "status"}),

		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zentro_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		FollowUpsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "zentro_followups_sent_total",
			Help: "Follow-up messages created by the due-date scanner",
		}),

		FollowUpsByKind: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zentro_followups_by_kind_total",
			Help: "Follow-up messages by reason kind",
		}, []string{"kind"}),
	}
}

// ObserveHTTPRequest records one served request. The status label is the
// class ("2xx", "4xx", ...) to keep cardinality down.
func (m *Metrics) ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	class := fmt.Sprintf("%dxx", status/100)
	m.HTTPRequests.WithLabelValues(route, method, class).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// Handler returns an HTTP handler exposing this registry in the Prometheus
// text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
