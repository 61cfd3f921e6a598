// Package metrics provides Prometheus metrics for forgehook (RED +
// lifecycle + registry + WebSocket).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "forgehook"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		},
		[]string{"method", "path"},
	)

	// DBQueryDurationSeconds tracks database query latency by operation type.
	DBQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"operation"},
	)

	// WebSocketConnectionsActive is current number of Event Bus subscribers.
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of active WebSocket (Event Bus) connections.",
		},
	)

	// WebSocketMessagesSentTotal counts WebSocket messages sent to clients.
	WebSocketMessagesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_sent_total",
			Help:      "Total number of WebSocket messages sent to clients.",
		},
	)

	// WebSocketMessagesReceivedTotal counts messages received from clients.
	WebSocketMessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_received_total",
			Help:      "Total number of WebSocket messages received from clients.",
		},
	)

	// WebSocketMessageSizeBytes tracks message size by direction (sent|received).
	WebSocketMessageSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "websocket_message_size_bytes",
			Help:      "WebSocket message size in bytes by direction.",
			Buckets:   prometheus.ExponentialBuckets(32, 4, 8),
		},
		[]string{"direction"},
	)

	// AuthAPIKeyValidationsTotal counts API key validation attempts.
	AuthAPIKeyValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_api_key_validations_total",
			Help:      "Total number of API key validation attempts.",
		},
		[]string{"outcome"},
	)

	// PluginInvocationsTotal counts /invoke calls by plugin, runtime, outcome.
	PluginInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_invocations_total",
			Help:      "Total number of plugin function invocations.",
		},
		[]string{"plugin_id", "runtime", "outcome"},
	)

	// PluginInvocationDurationSeconds is invocation latency by runtime.
	PluginInvocationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plugin_invocation_duration_seconds",
			Help:      "Plugin invocation duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"runtime"},
	)

	// PluginLifecycleTotal counts lifecycle operations by action and outcome.
	PluginLifecycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_lifecycle_total",
			Help:      "Total number of plugin lifecycle operations.",
		},
		[]string{"action", "outcome"}, // action: install|start|stop|restart|update|rollback|uninstall
	)

	// PluginInstancesActive is current instance count by status.
	PluginInstancesActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugin_instances_active",
			Help:      "Number of plugin instances by status.",
		},
		[]string{"status"},
	)

	// PortAllocatorUtilization is the fraction of the configured port range in use.
	PortAllocatorUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "port_allocator_utilization_ratio",
			Help:      "Fraction of the plugin port range currently allocated.",
		},
	)

	// RegistryRefreshTotal counts registry source refresh attempts.
	RegistryRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_refresh_total",
			Help:      "Total number of registry source refresh attempts.",
		},
		[]string{"source_id", "outcome"},
	)

	// RegistryRefreshDurationSeconds is registry source fetch latency.
	RegistryRefreshDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_refresh_duration_seconds",
			Help:      "Registry source refresh duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"source_id"},
	)

	// ContainerHealthCheckTotal counts Container Supervisor health polls.
	ContainerHealthCheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "container_health_check_total",
			Help:      "Total number of container health checks by outcome.",
		},
		[]string{"plugin_id", "outcome"},
	)

	// GatewayHealthCheckTotal counts Gateway Driver health probes.
	GatewayHealthCheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_health_check_total",
			Help:      "Total number of gateway health probes by outcome.",
		},
		[]string{"plugin_id", "outcome"},
	)
)
