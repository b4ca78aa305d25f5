// Package telemetry exposes the exchange's Prometheus metrics: counters and
// gauges for orders, trades, book depth and replay lag, registered through
// promauto on a single registry.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every Prometheus collector this exchange registers.
type Metrics struct {
	OrdersSubmitted   *prometheus.CounterVec
	TradesExecuted    *prometheus.CounterVec
	OrderBookDepth    *prometheus.GaugeVec
	ReplayLagSeconds  prometheus.Gauge
	ReplayEmittedTotal prometheus.Counter
	NotifyQueueDepth  *prometheus.GaugeVec
}

// New registers and returns the metric set against the default registry. A
// caller that needs isolation (tests) should use NewWithRegisterer instead.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metric set against reg, which lets tests
// use a throwaway prometheus.NewRegistry() instead of polluting the default
// global one.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OrdersSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vexchange_orders_submitted_total",
			Help: "Orders announced with a NEW change event (accepted with no immediate fill, including parked stops), by symbol and status; orders that trade, expire or are rejected on submission are not counted.",
		}, []string{"symbol", "status"}),
		TradesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vexchange_trades_executed_total",
			Help: "Total number of trades executed, by symbol.",
		}, []string{"symbol"}),
		OrderBookDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vexchange_order_book_depth",
			Help: "Aggregated resting quantity at the best level, by symbol and side.",
		}, []string{"symbol", "side"}),
		ReplayLagSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vexchange_replay_lag_seconds",
			Help: "Wall-clock elapsed since the replay run started.",
		}),
		ReplayEmittedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vexchange_replay_emitted_total",
			Help: "Total data points emitted by the replay controller.",
		}),
		NotifyQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vexchange_notify_queue_depth",
			Help: "Approximate per-topic subscriber queue depth.",
		}, []string{"topic"}),
	}
}
