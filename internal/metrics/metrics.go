package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "HTTP response size in bytes",
		Buckets: prometheus.ExponentialBuckets(100, 10, 5),
	}, []string{"method", "path"})

	// gRPC метрики
	GRPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests",
	}, []string{"method", "status"})

	GRPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grpc_request_duration_seconds",
		Help:    "gRPC request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})

	// DB метрики
	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Database query duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"store", "operation"})

	DBActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_active_connections",
		Help: "Number of active database connections",
	})

	DBIdleConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_idle_connections",
		Help: "Number of idle database connections",
	})

	// метрики телеметрии
	TelemetryTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_ticks_total",
		Help: "Total number of telemetry ticks across all missions",
	})

	TelemetryTickFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_tick_failures_total",
		Help: "Total number of ticks aborted by an unexpected failure",
	})

	TelemetryTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "telemetry_tick_duration_seconds",
		Help:    "Duration of one generate-persist-broadcast cycle",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15), // от 0.5ms до ~8 секунд
	})

	TelemetryPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_persisted_total",
		Help: "Total number of telemetry samples written to the store",
	})

	TelemetryPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_persist_failures_total",
		Help: "Total number of telemetry samples the store failed to write",
	})

	BroadcastDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_deliveries_total",
		Help: "Messages queued to subscriber handles",
	}, []string{"type"})

	BroadcastFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_failures_total",
		Help: "Messages that could not be queued to a subscriber handle",
	}, []string{"reason"})

	ActiveMissionTimers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_mission_timers",
		Help: "Current number of running per-mission telemetry timers",
	})

	ConnectedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "connected_subscribers",
		Help: "Current number of subscribed handles across all missions",
	})

	MissionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "missions_started_total",
		Help: "Total number of missions started",
	})

	MissionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "missions_completed_total",
		Help: "Total number of missions completed",
	}, []string{"reason"})
)
