package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики оформления заказов.
type OrderMetrics struct {
	placed       prometheus.Counter
	failed       *prometheus.CounterVec
	itemsPlaced  prometheus.Counter
	placeLatency prometheus.Histogram
	inFlight     prometheus.Gauge
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		placed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "mall_orders_placed_total",
			Help: "Total number of committed orders",
		}),
		failed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "mall_orders_failed_total",
			Help: "Total number of rejected order placements grouped by error kind",
		}, []string{"kind"}),
		itemsPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "mall_order_items_placed_total",
			Help: "Total number of order lines in committed orders",
		}),
		placeLatency: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "mall_order_place_duration_seconds",
			Help:    "Duration of the order placement transaction in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "mall_order_placements_in_flight",
			Help: "Number of order placements currently running",
		}),
	}
}

// RecordStarted отмечает начало оформления.
func (m *OrderMetrics) RecordStarted() {
	m.inFlight.Inc()
}

// RecordPlaced фиксирует успешный коммит заказа.
func (m *OrderMetrics) RecordPlaced(items int, duration time.Duration) {
	m.inFlight.Dec()
	m.placed.Inc()
	m.itemsPlaced.Add(float64(items))
	m.placeLatency.Observe(duration.Seconds())
}

// RecordFailed фиксирует отказ с типом ошибки.
func (m *OrderMetrics) RecordFailed(kind string, duration time.Duration) {
	m.inFlight.Dec()
	m.failed.WithLabelValues(kind).Inc()
	m.placeLatency.Observe(duration.Seconds())
}
