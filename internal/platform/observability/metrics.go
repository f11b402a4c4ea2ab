package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "orderops"

// Metrics holds the Prometheus collectors exported on /metrics. It satisfies the metric hooks of the
// batch orchestrator, the catalog import pipeline and the side-effect worker.
type Metrics struct {
	registry          *prometheus.Registry
	batchItems        *prometheus.CounterVec
	importRows        *prometheus.CounterVec
	sideEffectDropped *prometheus.CounterVec
	sideEffectFailed  *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	authVerifications *prometheus.CounterVec
}

// NewMetrics registers collectors on the supplied registry. A nil registry gets a fresh one with the
// Go runtime and process collectors attached.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := &Metrics{
		registry: registry,
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batch_items_total",
			Help:      "Orders processed by bulk operations, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		importRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "import_rows_total",
			Help:      "Catalog import rows by outcome.",
		}, []string{"outcome"}),
		sideEffectDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "side_effects_dropped_total",
			Help:      "Audit and notification tasks dropped before running.",
		}, []string{"kind"}),
		sideEffectFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "side_effects_failed_total",
			Help:      "Audit and notification tasks that returned an error or panicked.",
		}, []string{"kind"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		authVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_verifications_total",
			Help:      "Service token verifications by kind and reason.",
		}, []string{"kind", "result", "reason"}),
	}
	registry.MustRegister(m.batchItems, m.importRows, m.sideEffectDropped, m.sideEffectFailed, m.requestDuration, m.authVerifications)
	return m
}

// BatchItem counts one processed batch entry.
func (m *Metrics) BatchItem(operation, outcome string) {
	m.batchItems.WithLabelValues(operation, outcome).Inc()
}

// ImportRows adds import rows for an outcome.
func (m *Metrics) ImportRows(outcome string, count int) {
	if count <= 0 {
		return
	}
	m.importRows.WithLabelValues(outcome).Add(float64(count))
}

// SideEffectDropped counts a task that never ran.
func (m *Metrics) SideEffectDropped(kind string) {
	m.sideEffectDropped.WithLabelValues(kind).Inc()
}

// SideEffectFailed counts a task that failed.
func (m *Metrics) SideEffectFailed(kind string) {
	m.sideEffectFailed.WithLabelValues(kind).Inc()
}

// ObserveRequest records request latency.
func (m *Metrics) ObserveRequest(method, route string, status int, latency time.Duration) {
	m.requestDuration.WithLabelValues(SanitizeMethod(method), SanitizeRoute(route), strconv.Itoa(status)).Observe(latency.Seconds())
}

// RecordVerification counts one service token verification.
func (m *Metrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	m.authVerifications.WithLabelValues(kind, result, reason).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
