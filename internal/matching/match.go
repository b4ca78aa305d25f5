package matching

import (
	"github.com/shopspring/decimal"

	"github.com/tradsys/vexchange/internal/domain"
)

// match implements the price-time-priority matching algorithm
// ("Matching algorithm") including self-trade prevention. It mutates taker and any resting orders it trades
// against in place, and returns every trade produced in match order.
func (e *Engine) match(ss *symbolState, taker *domain.Order) []*domain.Trade {
	var trades []*domain.Trade
	now := e.clock.NowMillis()

matchLoop:
	for taker.Remaining().Sign() > 0 {
		lvl := ss.book.Best(taker.Side.Opposite())
		if lvl == nil {
			break
		}
		if isLimitLike(taker.Type) && !priceCrosses(taker.Side, taker.Price, lvl.Price) {
			break
		}

		resting := lvl.Front()
		if resting == nil {
			break // invariant violation: empty level left in book
		}

		if resting.UserID == taker.UserID {
			switch e.applySTP(ss, taker, resting, lvl) {
			case stpHalt:
				break matchLoop
			case stpRetry:
				continue matchLoop
			case stpTrade:
				// NONE permits the self-trade; fall through to the normal
				// trade-execution path below using this same resting order.
			}
		}

		tradeQty := decimal.Min(taker.Remaining(), resting.Remaining())
		tradeQty = e.capByReservation(taker, tradeQty, resting.Price)
		if tradeQty.Sign() <= 0 {
			break
		}
		tradePrice := resting.Price

		trade := e.settleTrade(ss, taker, resting, tradePrice, tradeQty, now)
		trades = append(trades, trade)

		taker.FilledQuantity = taker.FilledQuantity.Add(tradeQty)
		taker.FilledQuoteQuantity = taker.FilledQuoteQuantity.Add(tradeQty.Mul(tradePrice))
		taker.UpdateTime = now

		resting.FilledQuantity = resting.FilledQuantity.Add(tradeQty)
		resting.FilledQuoteQuantity = resting.FilledQuoteQuantity.Add(tradeQty.Mul(tradePrice))
		resting.UpdateTime = now

		if resting.Remaining().Sign() == 0 {
			resting.Status = domain.StatusFilled
			ss.book.PopFront(resting.Side, lvl)
			e.releaseMakerReservation(resting)
			e.archiveOrder(resting)
			e.notify.NotifyOrder(resting, domain.ChangeTrade, "")
		} else {
			resting.Status = domain.StatusPartiallyFilled
			e.notify.NotifyOrder(resting, domain.ChangeTrade, "")
		}

		if taker.Remaining().Sign() == 0 {
			break
		}
	}
	return trades
}

func isLimitLike(t domain.Type) bool {
	return t == domain.TypeLimit || t == domain.TypeLimitMaker
}

func priceCrosses(side domain.Side, takerPrice, restingPrice decimal.Decimal) bool {
	if side == domain.SideBuy {
		return restingPrice.LessThanOrEqual(takerPrice)
	}
	return restingPrice.GreaterThanOrEqual(takerPrice)
}

// capByReservation keeps a MARKET-buy-by-quote(or by-quantity estimate) taker
// from trading past what it actually reserved, which protects the account
// invariant (free/locked never negative) against an underestimated slippage
// buffer.
func (e *Engine) capByReservation(taker *domain.Order, qty, price decimal.Decimal) decimal.Decimal {
	if taker.Side != domain.SideBuy || taker.ReservedAmount.Sign() == 0 {
		return qty
	}
	remainingQuote := taker.ReservedAmount.Sub(taker.FilledQuoteQuantity)
	if remainingQuote.Sign() <= 0 {
		return decimal.Zero
	}
	maxQty := remainingQuote.Div(price)
	if qty.GreaterThan(maxQty) {
		return maxQty
	}
	return qty
}

func (e *Engine) settleTrade(ss *symbolState, taker, resting *domain.Order, price, qty decimal.Decimal, now int64) *domain.Trade {
	var buyOrder, sellOrder *domain.Order
	var makerSide domain.Side
	if taker.Side == domain.SideBuy {
		buyOrder, sellOrder = taker, resting
		makerSide = domain.SideSell
	} else {
		buyOrder, sellOrder = resting, taker
		makerSide = domain.SideBuy
	}

	ss.trade++
	buyCommission, sellCommission := e.accounts.SettleFill(accountFillLegs(e, ss, taker, resting, buyOrder, sellOrder, price, qty))

	trade := &domain.Trade{
		TradeID:         ss.trade,
		Symbol:          ss.spec.Symbol,
		Price:           price,
		Quantity:        qty,
		QuoteQuantity:   price.Mul(qty),
		Timestamp:       now,
		BuyOrderID:      buyOrder.OrderID,
		SellOrderID:     sellOrder.OrderID,
		BuyUserID:       buyOrder.UserID,
		SellUserID:      sellOrder.UserID,
		MakerSide:       makerSide,
		BuyCommission:       buyCommission,
		SellCommission:      sellCommission,
		BuyCommissionAsset:  ss.spec.BaseAsset,
		SellCommissionAsset: ss.spec.QuoteAsset,
	}
	ss.book.RecordTrade(price)
	ss.recentTrades = append(ss.recentTrades, trade)
	if len(ss.recentTrades) > e.cfg.RecentTradesCap {
		ss.recentTrades = ss.recentTrades[len(ss.recentTrades)-e.cfg.RecentTradesCap:]
	}
	return trade
}
