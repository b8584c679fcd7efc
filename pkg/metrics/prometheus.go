// Package metrics provides Prometheus metrics for the Tenon BFF.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the BFF process.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Forwarder Metrics - upstream behaviour as seen through the BFF
	forwardTotal       *prometheus.CounterVec
	forwardLatency     *prometheus.HistogramVec
	redirectsBlocked   prometheus.Counter
	upstreamFailures   *prometheus.CounterVec
	authFailures       *prometheus.CounterVec
	guardDecisions     *prometheus.CounterVec
	coalescedJoins     *prometheus.CounterVec
	sessionRefreshes   *prometheus.CounterVec
	storageOperations  *prometheus.CounterVec
	submissionOutcomes *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Configure rebuilds the global manager on a fresh registry with opts. It is
// meant for process start, before any metric is recorded or served.
func Configure(opts ...Option) {
	customRegistry = prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(customRegistry))...)
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "tenon",
		subsystem:        "bff",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.forwardTotal = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "forward_total",
			Help:      "Upstream calls issued by the forwarder, by method and literal upstream status",
		},
		[]string{"method", "upstream_status"},
	)

	m.forwardLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "forward_latency_milliseconds",
			Help:      "Upstream round-trip latency in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"method"},
	)

	m.redirectsBlocked = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "upstream_redirects_blocked_total",
		Help:      "Upstream 3xx responses replaced with a synthesized 502",
	})

	m.upstreamFailures = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "upstream_failures_total",
			Help:      "Upstream calls that produced no HTTP response",
		},
		[]string{"reason"},
	)

	m.authFailures = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "auth_failures_total",
			Help:      "Access checks rejected before forwarding, by status",
		},
		[]string{"status_code"},
	)

	m.guardDecisions = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "guard_decisions_total",
			Help:      "Route guard outcomes by decision",
		},
		[]string{"decision"},
	)

	m.coalescedJoins = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "coalesced_joins_total",
			Help:      "Calls that joined an in-flight request of the same kind",
		},
		[]string{"kind"},
	)

	m.sessionRefreshes = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "session_refreshes_total",
			Help:      "Access token refresh attempts by result",
		},
		[]string{"result"},
	)

	m.storageOperations = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "storage_operations_total",
			Help:      "Session storage operations by backend, operation and result",
		},
		[]string{"backend", "op", "result"},
	)

	m.submissionOutcomes = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "submission_outcomes_total",
			Help:      "Task submission attempts by outcome",
		},
		[]string{"outcome"},
	)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordForward records one upstream call and its literal status.
func RecordForward(method string, upstreamStatus int, latencyMs float64) {
	globalManager.forwardTotal.WithLabelValues(method, strconv.Itoa(upstreamStatus)).Inc()
	globalManager.forwardLatency.WithLabelValues(method).Observe(latencyMs)
}

// RecordRedirectBlocked increments the blocked redirect counter.
func RecordRedirectBlocked() {
	globalManager.redirectsBlocked.Inc()
}

// RecordUpstreamFailure records an upstream call without a response.
func RecordUpstreamFailure(reason string) {
	globalManager.upstreamFailures.WithLabelValues(reason).Inc()
}

// RecordAuthFailure records a rejected access check.
func RecordAuthFailure(status int) {
	globalManager.authFailures.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordGuardDecision records a route guard outcome.
func RecordGuardDecision(decision string) {
	globalManager.guardDecisions.WithLabelValues(decision).Inc()
}

// RecordCoalescedJoin records a call that reused an in-flight request.
func RecordCoalescedJoin(kind string) {
	globalManager.coalescedJoins.WithLabelValues(kind).Inc()
}

// RecordSessionRefresh records a token refresh attempt.
func RecordSessionRefresh(result string) {
	globalManager.sessionRefreshes.WithLabelValues(result).Inc()
}

// RecordStorageOperation records a session storage call.
func RecordStorageOperation(backend, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	globalManager.storageOperations.WithLabelValues(backend, op, result).Inc()
}

// RecordSubmissionOutcome records how a task submission attempt ended.
func RecordSubmissionOutcome(outcome string) {
	globalManager.submissionOutcomes.WithLabelValues(outcome).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
