// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection registry metrics
var (
	RegistryIdentifiedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_identified_users",
			Help: "Number of distinct users holding at least one live connection",
		},
	)

	RegistryHandles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_handles",
			Help: "Live connection handles by subscriber kind (identified/anonymous)",
		},
		[]string{"kind"},
	)

	RegistryCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_command_channel_depth",
			Help: "Pending commands in the registry actor's queue",
		},
	)

	// BroadcastDeliveriesTotal counts per-handle outcomes (delivered/skipped/faulted)
	BroadcastDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_deliveries_total",
			Help: "Per-handle broadcast outcomes by result",
		},
		[]string{"result"},
	)

	RegistryPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_panics_total",
			Help: "Panics recovered in the registry actor",
		},
	)

	RegistryStopTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_stop_timeouts_total",
			Help: "Registry shutdowns that exceeded the stop timeout",
		},
	)
)

// WebSocket metrics
var (
	WebSocketConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_current",
			Help: "Current number of upgraded WebSocket connections",
		},
	)

	WebSocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "WebSocket connection attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	WebSocketConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_connection_duration_seconds",
			Help:    "Lifetime of WebSocket connections",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		},
	)

	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "Time to write one frame to a WebSocket",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	HeartbeatFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_heartbeat_failures_total",
			Help: "Heartbeat pings that failed and pruned an anonymous connection",
		},
	)
)

// Submission and dispatch metrics
var (
	ReadingsAcceptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readings_accepted_total",
			Help: "Accepted stress readings by kind",
		},
		[]string{"kind"},
	)

	CooldownRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cooldown_rejections_total",
			Help: "Submissions rejected by the cooldown gate by kind",
		},
		[]string{"kind"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Time to fan out one accepted reading including the summary recompute",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	SummaryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "summary_compute_duration_seconds",
			Help:    "Time to compute the aggregate summary",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	SummaryErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "summary_errors_total",
			Help: "Summary recomputations that failed during dispatch",
		},
	)

	// DecoratorRequestsTotal outcome: ok/error/fallback/disabled
	DecoratorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decorator_requests_total",
			Help: "Decorator text generation outcomes",
		},
		[]string{"outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Storage metrics
var (
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration by statement kind",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Database errors by statement kind",
		},
		[]string{"query"},
	)

	RedisCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_commands_total",
			Help: "Redis commands by command and status",
		},
		[]string{"command", "status"},
	)

	RedisCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_command_duration_seconds",
			Help:    "Redis command latency by command",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"command"},
	)

	RedisDialErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_dial_errors_total",
			Help: "Failed Redis connection attempts",
		},
	)

	SessionOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_operations_total",
			Help: "Session store operations by operation and status",
		},
		[]string{"operation", "status"},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Structured HTTP errors by error type",
		},
		[]string{"type"},
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
		[]string{"route"},
	)
)
