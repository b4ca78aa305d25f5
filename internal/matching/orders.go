package matching

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tradsys/vexchange/internal/apierror"
	"github.com/tradsys/vexchange/internal/domain"
)

// checkParkedStops implements stop/take-profit triggering: after
// every trade, the new last price may touch one or more parked orders, each
// of which is released into match() as its TriggeredType(). Triggering can
// itself move the price further, so this loops until a pass finds nothing
// left to trigger.
func (e *Engine) checkParkedStops(ss *symbolState, trades []*domain.Trade) {
	if len(trades) == 0 {
		return
	}
	for {
		lastPrice := ss.book.LastPrice()
		idx := -1
		for i, o := range ss.parkedStops {
			if stopTriggered(o, lastPrice) {
				idx = i
				break
			}
		}
		if idx == -1 {
			return
		}
		o := ss.parkedStops[idx]
		ss.parkedStops = append(ss.parkedStops[:idx], ss.parkedStops[idx+1:]...)

		o.Type = o.Type.TriggeredType()
		o.UpdateTime = e.clock.NowMillis()

		newTrades := e.match(ss, o)
		e.dispose(ss, o)
		e.indexOrder(o)
		for _, t := range newTrades {
			e.notify.NotifyTrade(t)
		}
		e.notify.NotifyOrder(o, changeTypeFor(o), o.RejectReason)
		if o.Status.IsTerminal() {
			e.archiveOrder(o)
		}
	}
}

// stopTriggered reports whether lastPrice touches o's stop price, per the
// conventional stop-loss/take-profit direction: a stop-loss protects against
// the market moving against the position (sell triggers on a fall, buy
// triggers on a rise); a take-profit locks in a favorable move (the reverse).
func stopTriggered(o *domain.Order, lastPrice decimal.Decimal) bool {
	if lastPrice.Sign() == 0 {
		return false
	}
	switch o.Type {
	case domain.TypeStopLoss, domain.TypeStopLossLimit:
		if o.Side == domain.SideSell {
			return lastPrice.LessThanOrEqual(o.StopPrice)
		}
		return lastPrice.GreaterThanOrEqual(o.StopPrice)
	case domain.TypeTakeProfit, domain.TypeTakeProfitLimit:
		if o.Side == domain.SideSell {
			return lastPrice.GreaterThanOrEqual(o.StopPrice)
		}
		return lastPrice.LessThanOrEqual(o.StopPrice)
	default:
		return false
	}
}

// CancelOrder cancels a resting or parked
// order, releases its unused reservation and marks it CANCELED.
func (e *Engine) CancelOrder(symbol, userID, orderID string) (*domain.Order, error) {
	ss, ok := e.symbolState(symbol)
	if !ok {
		return nil, apierror.UnknownSymbol(symbol)
	}

	e.mu.RLock()
	o, live := e.liveOrders[orderID]
	e.mu.RUnlock()
	if !live || o.Symbol != symbol || o.UserID != userID {
		return nil, apierror.UnknownOrder()
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if o.Type.IsStopType() {
		for i, p := range ss.parkedStops {
			if p.OrderID == orderID {
				ss.parkedStops = append(ss.parkedStops[:i], ss.parkedStops[i+1:]...)
				break
			}
		}
	} else {
		ss.book.Remove(o.Side, o.OrderID)
	}

	o.Status = domain.StatusCanceled
	o.UpdateTime = e.clock.NowMillis()
	e.releaseMakerReservation(o)
	e.archiveOrder(o)
	e.notify.NotifyOrder(o, domain.ChangeCanceled, "")
	return o, nil
}

// QueryOrder looks up a single order, checking live orders first and
// falling back to the bounded archive.
func (e *Engine) QueryOrder(symbol, orderID string) (*domain.Order, bool) {
	e.mu.RLock()
	if o, ok := e.liveOrders[orderID]; ok && o.Symbol == symbol {
		e.mu.RUnlock()
		return o, true
	}
	e.mu.RUnlock()
	if v, ok := e.archive.Get(orderID); ok {
		if o, ok := v.(*domain.Order); ok && o.Symbol == symbol {
			return o, true
		}
	}
	return nil, false
}

// QueryOrderByClientID resolves a client_order_id back to its current order.
func (e *Engine) QueryOrderByClientID(userID, clientOrderID string) (*domain.Order, bool) {
	e.mu.RLock()
	orderID, ok := e.clientOrderIDs[userID+":"+clientOrderID]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if o, ok := e.liveOrders[orderID]; ok {
		return o, true
	}
	if v, ok := e.archive.Get(orderID); ok {
		if o, ok := v.(*domain.Order); ok {
			return o, true
		}
	}
	return nil, false
}

// OpenOrders returns all live (non-terminal) orders
// for a user, optionally filtered to one symbol, oldest first.
func (e *Engine) OpenOrders(symbol, userID string) []*domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*domain.Order
	for _, o := range e.liveOrders {
		if o.UserID != userID {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// AllOrders returns live plus archived orders for a
// user/symbol, oldest first, bounded by the archive's retention window.
func (e *Engine) AllOrders(symbol, userID string) []*domain.Order {
	seen := make(map[string]struct{})
	var out []*domain.Order

	e.mu.RLock()
	for id, o := range e.liveOrders {
		if o.UserID == userID && o.Symbol == symbol {
			out = append(out, o)
			seen[id] = struct{}{}
		}
	}
	e.mu.RUnlock()

	for id, item := range e.archive.Items() {
		if _, dup := seen[id]; dup {
			continue
		}
		o, ok := item.Object.(*domain.Order)
		if !ok || o.UserID != userID || o.Symbol != symbol {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// EveryOrder returns every live and archived order across all users and
// symbols, for snapshot export (internal/persistence). AllOrders cannot
// serve this since it always filters to one user/symbol pair.
func (e *Engine) EveryOrder() []*domain.Order {
	seen := make(map[string]struct{})
	var out []*domain.Order

	e.mu.RLock()
	for id, o := range e.liveOrders {
		out = append(out, o)
		seen[id] = struct{}{}
	}
	e.mu.RUnlock()

	for id, item := range e.archive.Items() {
		if _, dup := seen[id]; dup {
			continue
		}
		if o, ok := item.Object.(*domain.Order); ok {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
