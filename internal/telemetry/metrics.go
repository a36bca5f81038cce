package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP layer metrics.
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "songbase_api_request_duration_seconds",
		Help:    "HTTP request latency by method, endpoint, and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "songbase_api_requests_total",
		Help: "Total HTTP requests by method, endpoint, and status code.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "songbase_api_active_connections",
		Help: "In-flight HTTP requests.",
	})
)

// Database metrics, recorded via gorm callbacks.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "songbase_database_query_duration_seconds",
		Help:    "Database operation latency by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "songbase_database_errors_total",
		Help: "Database errors by operation and kind.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "songbase_database_connections_active",
		Help: "Open database connections.",
	})
)

// Rule engine metrics.
var (
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "songbase_evaluations_total",
		Help: "Rule evaluations by outcome (success, error).",
	}, []string{"outcome"})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "songbase_evaluation_duration_seconds",
		Help:    "Rule evaluation latency.",
		Buckets: prometheus.DefBuckets,
	})

	EvaluationWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "songbase_evaluation_warnings_total",
		Help: "Soft warnings surfaced by evaluations (unresolved references).",
	})

	MaterializationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "songbase_materializations_total",
		Help: "Smart playlist materializations by outcome (success, error).",
	}, []string{"outcome"})

	CacheOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "songbase_cache_operations_total",
		Help: "Cache operations by kind (hit, miss, error).",
	}, []string{"kind"})
)

// Multi-instance coordination metrics.
var (
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "songbase_leader_election_status",
		Help: "Whether this instance currently holds the refresh leadership (1 or 0).",
	}, []string{"instance_id"})

	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "songbase_leader_election_changes_total",
		Help: "Leadership transitions by instance and direction (acquired, lost).",
	}, []string{"instance_id", "transition"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
