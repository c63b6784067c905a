package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus primitives for the outbox pipeline and the ops
// HTTP surface.
type Metrics struct {
	apiRequests        *prometheus.CounterVec
	apiDuration        *prometheus.HistogramVec
	outboxDispatch     *prometheus.CounterVec
	outboxDispatchTime *prometheus.HistogramVec
	outboxBacklog      prometheus.Gauge
	outboxDead         prometheus.Counter
	consumerDuplicates *prometheus.CounterVec
}

// NewMetrics registers and returns Prometheus metrics on reg. A nil reg
// falls back to the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	apiRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signflow_api_requests_total",
		Help: "Counts ops API requests by method, route and status.",
	}, []string{"method", "route", "status"})

	apiDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signflow_api_duration_seconds",
		Help:    "Ops API request latency per method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	outboxDispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signflow_outbox_dispatch_total",
		Help: "Counts outbox events handled by the dispatcher by outcome.",
	}, []string{"status"})

	outboxDispatchTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signflow_outbox_dispatch_duration_seconds",
		Help:    "Dispatcher batch durations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	outboxBacklog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signflow_outbox_backlog",
		Help: "Number of pending events in the outbox.",
	})

	outboxDead := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signflow_outbox_dead_total",
		Help: "Events that exhausted their delivery attempts.",
	})

	consumerDuplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signflow_consumer_duplicates_total",
		Help: "Events dropped by consumers because their id was already seen.",
	}, []string{"consumer"})

	reg.MustRegister(
		apiRequests,
		apiDuration,
		outboxDispatch,
		outboxDispatchTime,
		outboxBacklog,
		outboxDead,
		consumerDuplicates,
	)

	return &Metrics{
		apiRequests:        apiRequests,
		apiDuration:        apiDuration,
		outboxDispatch:     outboxDispatch,
		outboxDispatchTime: outboxDispatchTime,
		outboxBacklog:      outboxBacklog,
		outboxDead:         outboxDead,
		consumerDuplicates: consumerDuplicates,
	}
}

// ObserveAPIRequest records an API request and latency.
func (m *Metrics) ObserveAPIRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	methodLabel := sanitizeLabel(method)
	routeLabel := sanitizeLabel(route)
	m.apiRequests.WithLabelValues(methodLabel, routeLabel, status).Inc()
	m.apiDuration.WithLabelValues(methodLabel, routeLabel).Observe(duration.Seconds())
}

// RecordOutboxBatch registers per-batch dispatch metrics. count is the number
// of events that reached the given status.
func (m *Metrics) RecordOutboxBatch(status string, count int, duration time.Duration) {
	if m == nil {
		return
	}
	if count > 0 {
		m.outboxDispatch.WithLabelValues(sanitizeLabel(status)).Add(float64(count))
	}
	m.outboxDispatchTime.WithLabelValues(sanitizeLabel(status)).Observe(duration.Seconds())
}

// RecordOutboxDead counts events moved to the dead state.
func (m *Metrics) RecordOutboxDead(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.outboxDead.Add(float64(count))
}

// SetOutboxBacklog updates the backlog gauge.
func (m *Metrics) SetOutboxBacklog(value float64) {
	if m == nil {
		return
	}
	m.outboxBacklog.Set(value)
}

// RecordConsumerDuplicate counts an event skipped by consumer dedupe.
func (m *Metrics) RecordConsumerDuplicate(consumer string) {
	if m == nil {
		return
	}
	m.consumerDuplicates.WithLabelValues(sanitizeLabel(consumer)).Inc()
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
