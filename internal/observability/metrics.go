package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "ordermanager"

// Metrics holds the workflow and outbox collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Operations      *prometheus.CounterVec
	LatencyMS       *prometheus.HistogramVec
	ContentionRetry *prometheus.CounterVec
	Reconciliations prometheus.Counter
	OutboxPublished *prometheus.CounterVec
	OutboxFailures  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "orders",
			Name:      "operations_total",
			Help:      "Total number of order workflow operations by outcome.",
		}, []string{"operation", "outcome"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "orders",
			Name:      "operation_duration_ms",
			Help:      "Order workflow latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"operation"}),
		ContentionRetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "orders",
			Name:      "contention_retries_total",
			Help:      "Transactions retried after a concurrent modification.",
		}, []string{"operation"}),
		Reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "orders",
			Name:      "reconciliations_total",
			Help:      "Payments captured at the gateway whose local commit failed.",
		}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events published by topic.",
		}, []string{"topic"}),
		OutboxFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "outbox",
			Name:      "publish_failures_total",
			Help:      "Outbox publish attempts that failed, by topic.",
		}, []string{"topic"}),
	}

	reg.MustRegister(m.Operations, m.LatencyMS, m.ContentionRetry, m.Reconciliations, m.OutboxPublished, m.OutboxFailures)
	return m
}

// ObserveOperation records the outcome and latency of a workflow call
func (m *Metrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.LatencyMS.WithLabelValues(operation).Observe(float64(elapsed) / float64(time.Millisecond))
}

// IncContentionRetry counts one retried transaction
func (m *Metrics) IncContentionRetry(operation string) {
	if m == nil {
		return
	}
	m.ContentionRetry.WithLabelValues(operation).Inc()
}

// IncReconciliation counts one payment that needs reconciliation
func (m *Metrics) IncReconciliation() {
	if m == nil {
		return
	}
	m.Reconciliations.Inc()
}

// IncOutboxPublished counts one published outbox event
func (m *Metrics) IncOutboxPublished(topic string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(topic).Inc()
}

// IncOutboxFailure counts one failed publish attempt
func (m *Metrics) IncOutboxFailure(topic string) {
	if m == nil {
		return
	}
	m.OutboxFailures.WithLabelValues(topic).Inc()
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
