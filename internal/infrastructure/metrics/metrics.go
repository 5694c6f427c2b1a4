package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stockkeeper"

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	operations      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	outboxPublished *prometheus.CounterVec
	outboxFailed    *prometheus.CounterVec
	swept           *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger and reservation operations by outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of ledger and reservation operations, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deadlock_retries_total",
			Help:      "Transactions retried after a deadlock or lock wait timeout.",
		}, []string{"operation"}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox events delivered to the broker.",
		}, []string{"event_type"}),
		outboxFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_failed_total",
			Help:      "Outbox delivery attempts that failed or were skipped.",
		}, []string{"event_type", "reason"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_reservations_total",
			Help:      "Expired reservations processed by the sweeper.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.operations, m.duration, m.retries, m.outboxPublished, m.outboxFailed, m.swept)
	return m
}

func (m *Metrics) ObserveOperation(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) IncRetry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncPublished(eventType string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncPublishFailed(eventType, reason string) {
	if m == nil {
		return
	}
	m.outboxFailed.WithLabelValues(eventType, reason).Inc()
}

func (m *Metrics) IncSwept(outcome string) {
	if m == nil {
		return
	}
	m.swept.WithLabelValues(outcome).Inc()
}
