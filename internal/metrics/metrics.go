package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	RequestsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kumbuk_requests_processed_total",
			Help: "Total number of chat requests processed by the aggregator",
		},
		[]string{"agent_type", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kumbuk_request_duration_seconds",
			Help:    "End-to-end chat request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kumbuk_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"stage"},
	)

	// Routing metrics
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kumbuk_routing_decisions_total",
			Help: "Routing decisions by agent type and intent",
		},
		[]string{"agent_type", "intent"},
	)

	RoutingFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kumbuk_routing_fallbacks_total",
			Help: "Routing decisions produced by the error fallback",
		},
	)

	// Agent metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kumbuk_agent_executions_total",
			Help: "Agent executions by agent type and outcome",
		},
		[]string{"agent_type", "status"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kumbuk_agent_execution_duration_seconds",
			Help:    "Agent execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent_type"},
	)

	AgentsInitialized = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kumbuk_agents_initialized",
			Help: "Number of agents constructed by the dispatcher",
		},
	)

	// Analyzer metrics
	AnalyzerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kumbuk_analyzer_calls_total",
			Help: "Semantic analyzer calls by result",
		},
		[]string{"analyzer", "result"},
	)

	// Session metrics
	SessionUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kumbuk_session_updates_total",
			Help: "Session state writes by backend and outcome",
		},
		[]string{"backend", "status"},
	)

	SessionsCleared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kumbuk_sessions_cleared_total",
			Help: "Total number of sessions cleared",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kumbuk_session_cache_size",
			Help: "Sessions held by the in-memory store",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kumbuk_session_cache_evictions_total",
			Help: "Sessions evicted from the in-memory store",
		},
	)

	// Storage metrics
	ConversationsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kumbuk_conversations_saved_total",
			Help: "Conversation records persisted by backend and outcome",
		},
		[]string{"backend", "status"},
	)

	// Streaming metrics
	StreamEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kumbuk_stream_events_published_total",
			Help: "Realtime events published by type",
		},
		[]string{"type"},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kumbuk_stream_subscribers",
			Help: "Currently connected realtime subscribers",
		},
	)

	// HTTP metrics
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kumbuk_rate_limited_total",
			Help: "Requests rejected by the per-user rate limiter",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kumbuk_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kumbuk_websocket_connections",
			Help: "Open chat WebSocket connections",
		},
	)
)

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Status maps an outcome to the label value used across counters.
func Status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
