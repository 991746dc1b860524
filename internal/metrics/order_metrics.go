package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций над заказами.
const (
	ResultSuccess    = "success"
	ResultValidation = "validation_error"
	ResultNotFound   = "not_found"
	ResultError      = "error"
)

// OrderMetrics содержит метрики операций над заказами.
type OrderMetrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewOrderMetrics создаёт метрики в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer создаёт метрики в указанном реестре (удобно для тестов).
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	return &OrderMetrics{
		operations: register(registerer, "ordercrud_orders_operations_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordercrud_orders_operations_total",
			Help: "Total number of order operations grouped by operation and result.",
		}, []string{"operation", "result"})),
		operationDuration: register(registerer, "ordercrud_orders_operation_duration_seconds", prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ordercrud_orders_operation_duration_seconds",
			Help:    "Duration of order operations in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"operation"})),
		timelineEvents: register(registerer, "ordercrud_timeline_events_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordercrud_timeline_events_total",
			Help: "Total number of timeline events recorded.",
		})),
		outboxEvents: register(registerer, "ordercrud_outbox_enqueued_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordercrud_outbox_enqueued_total",
			Help: "Total number of events enqueued into the transactional outbox.",
		})),
	}
}

// RecordOperation учитывает завершённую операцию и её длительность.
func (m *OrderMetrics) RecordOperation(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
