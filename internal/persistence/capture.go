package persistence

import (
	"github.com/shopspring/decimal"

	"github.com/tradsys/vexchange/internal/account"
	"github.com/tradsys/vexchange/internal/domain"
	"github.com/tradsys/vexchange/internal/exchange"
	"github.com/tradsys/vexchange/internal/matching"
)

// Capture builds a Payload from ex's current state.
func Capture(ex *exchange.Exchange) Payload {
	now := ex.Clock.NowMillis()
	symbols := ex.ExchangeInfo()

	accounts := make(map[string]account.Snapshot)
	rates := account.CommissionRates{Maker: ex.Engine.CommissionRateMaker(), Taker: ex.Engine.CommissionRateTaker()}
	for _, userID := range ex.Accounts.UserIDs() {
		accounts[userID] = ex.Accounts.Snapshot(userID, now, rates)
	}

	var trades []*domain.Trade
	for _, sym := range symbols {
		t, ok := ex.Engine.SymbolTrades(sym.Symbol)
		if ok {
			trades = append(trades, t...)
		}
	}

	return Payload{
		Version:   FormatVersion,
		TakenAtMs: now,
		Symbols:   symbols,
		Accounts:  accounts,
		Orders:    ex.Engine.EveryOrder(),
		Trades:    trades,
	}
}

// Restore rebuilds symbols, user balances and the terminal order archive
// into a freshly constructed exchange.Exchange. It is intentionally
// not a hot-resume: still-open orders are resubmitted through SubmitOrder
// so the book and fund reservations are rebuilt
// honestly rather than poked in directly; this assigns resting orders fresh
// order ids. Terminal orders are reinserted verbatim for audit/query
// purposes via RestoreArchivedOrder; the payload's trades are not restored.
func Restore(ex *exchange.Exchange, payload Payload) error {
	for _, sym := range payload.Symbols {
		ex.RegisterSymbol(sym)
	}

	for userID, snap := range payload.Accounts {
		ex.RegisterUser(userID)
		for asset, bal := range snap.Balances {
			total := bal.Free.Add(bal.Locked)
			if total.Sign() > 0 {
				if err := ex.Deposit(userID, asset, total); err != nil {
					return err
				}
			}
		}
	}

	for _, o := range payload.Orders {
		if o.Status.IsTerminal() {
			ex.Engine.RestoreArchivedOrder(o)
			continue
		}
		resubmitOpenOrder(ex, o)
	}

	return nil
}

func resubmitOpenOrder(ex *exchange.Exchange, o *domain.Order) {
	remaining := o.Quantity.Sub(o.FilledQuantity)
	if remaining.Sign() <= 0 {
		return
	}
	// Best-effort: a snapshot taken mid-session may replay against different
	// available liquidity than when it was captured; the operator is
	// expected to reconcile manually rather than have restore fail the
	// whole load for one order.
	_, _, _ = ex.SubmitOrder(submitRequestFor(o, remaining))
}

func submitRequestFor(o *domain.Order, quantity decimal.Decimal) matching.SubmitRequest {
	return matching.SubmitRequest{
		Symbol:              o.Symbol,
		UserID:              o.UserID,
		ClientOrderID:       o.ClientOrderID,
		Side:                o.Side,
		Type:                o.Type,
		TimeInForce:         o.TimeInForce,
		SelfTradePrevention: o.SelfTradePrevention,
		Price:               o.Price,
		StopPrice:           o.StopPrice,
		Quantity:            quantity,
	}
}
