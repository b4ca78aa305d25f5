package telemetry

import (
	"github.com/tradsys/vexchange/internal/domain"
	"github.com/tradsys/vexchange/internal/matching"
)

// NotifierMiddleware wraps a matching.Notifier, sampling order/trade volume
// into Metrics before delegating to the wrapped notifier (the notify.Bus
// fan-out to WS subscribers). Sitting directly on the notification path lets
// counters update exactly once per event, at the source, rather than via a
// separate polling loop.
type NotifierMiddleware struct {
	next    matching.Notifier
	metrics *Metrics
}

// WrapNotifier returns a matching.Notifier that records metrics for every
// order/trade event before forwarding it to next. If metrics is nil, next is
// returned unwrapped.
func WrapNotifier(next matching.Notifier, metrics *Metrics) matching.Notifier {
	if metrics == nil {
		return next
	}
	return &NotifierMiddleware{next: next, metrics: metrics}
}

// NotifyOrder implements matching.Notifier.
func (n *NotifierMiddleware) NotifyOrder(order *domain.Order, change domain.ChangeType, reason string) {
	if change == domain.ChangeNew {
		n.metrics.OrdersSubmitted.WithLabelValues(order.Symbol, string(order.Status)).Inc()
	}
	n.next.NotifyOrder(order, change, reason)
}

// NotifyTrade implements matching.Notifier.
func (n *NotifierMiddleware) NotifyTrade(trade *domain.Trade) {
	n.metrics.TradesExecuted.WithLabelValues(trade.Symbol).Inc()
	n.next.NotifyTrade(trade)
}
