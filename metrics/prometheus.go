// Package metrics exposes Prometheus metrics for results publishing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector of the service.
type Manager struct {
	namespace string
	subsystem string
	buckets   []float64
	registry  prometheus.Registerer

	batches          *prometheus.CounterVec
	rowsCommitted    prometheus.Counter
	outcomes         *prometheus.CounterVec
	validations      prometheus.Counter
	publishDuration  prometheus.Histogram
	publishFailures  *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	asyncDropped     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	uploadsInFlight  prometheus.Gauge
	notifyQueueDepth prometheus.Gauge
}

var customRegistry = prometheus.NewRegistry()

var globalManager *Manager

func init() {
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "scholars",
		subsystem: "results",
		buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.init()
	return m
}

func (m *Manager) init() {
	auto := promauto.With(m.registry)

	m.batches = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batches_total",
		Help:      "Committed publication batches by kind",
	}, []string{"kind"})

	m.rowsCommitted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rows_committed_total",
		Help:      "Result rows written by publish and reversal batches",
	})

	m.outcomes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "validation_outcomes_total",
		Help:      "Validated rows by outcome",
	}, []string{"outcome"})

	m.validations = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "validations_total",
		Help:      "Dry-run validation passes",
	})

	m.publishDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "publish_duration_milliseconds",
		Help:      "Time from lock acquisition to commit",
		Buckets:   m.buckets,
	})

	m.publishFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "publish_failures_total",
		Help:      "Failed publish or rollback attempts by reason",
	}, []string{"reason"})

	m.notifications = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notifications_total",
		Help:      "Notification deliveries by result",
	}, []string{"result"})

	m.asyncDropped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "async_jobs_dropped_total",
		Help:      "Post-commit jobs dropped because their queue was full or failed",
	}, []string{"job"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status",
	}, []string{"route", "method", "status_code"})

	m.httpDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.buckets,
	}, []string{"route", "method"})

	m.uploadsInFlight = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "uploads_in_flight",
		Help:      "Upload sessions held in memory",
	})

	m.notifyQueueDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notification_queue_depth",
		Help:      "Notifications waiting for a worker",
	})
}

func RecordBatch(kind string, rows int) {
	globalManager.batches.WithLabelValues(kind).Inc()
	globalManager.rowsCommitted.Add(float64(rows))
}

func RecordOutcome(outcome string, n int) {
	globalManager.outcomes.WithLabelValues(outcome).Add(float64(n))
}

func RecordValidation() {
	globalManager.validations.Inc()
}

func RecordPublishDuration(ms float64) {
	globalManager.publishDuration.Observe(ms)
}

func RecordPublishFailure(reason string) {
	globalManager.publishFailures.WithLabelValues(reason).Inc()
}

func RecordNotification(result string) {
	globalManager.notifications.WithLabelValues(result).Inc()
}

func RecordAsyncDropped(job string, n int) {
	globalManager.asyncDropped.WithLabelValues(job).Add(float64(n))
}

func RecordHTTPRequest(route, method, status string, ms float64) {
	globalManager.httpRequests.WithLabelValues(route, method, status).Inc()
	globalManager.httpDuration.WithLabelValues(route, method).Observe(ms)
}

func UpdateUploadsInFlight(n int) {
	globalManager.uploadsInFlight.Set(float64(n))
}

func UpdateNotifyQueueDepth(n int) {
	globalManager.notifyQueueDepth.Set(float64(n))
}

// GetRegistry returns the registry served on /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
