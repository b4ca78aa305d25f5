package matching

import (
	"github.com/shopspring/decimal"

	"github.com/tradsys/vexchange/internal/account"
	"github.com/tradsys/vexchange/internal/book"
	"github.com/tradsys/vexchange/internal/domain"
)

// stpOutcome tells match()'s loop what to do after a self-trade is detected.
type stpOutcome int

const (
	stpTrade stpOutcome = iota // NONE: proceed to execute the trade normally
	stpRetry                   // the resting order was removed; re-peek the book
	stpHalt                    // the taker was expired; stop matching entirely
)

// applySTP applies self-trade prevention for a resting order that belongs to
// the same user as taker.
func (e *Engine) applySTP(ss *symbolState, taker, resting *domain.Order, lvl *book.Level) stpOutcome {
	switch taker.SelfTradePrevention {
	case domain.STPNone, "":
		return stpTrade
	case domain.STPExpireTaker:
		e.expireOrder(taker, "STP triggered")
		return stpHalt
	case domain.STPExpireMaker:
		ss.book.PopFront(resting.Side, lvl)
		e.expireOrder(resting, "STP triggered")
		return stpRetry
	case domain.STPExpireBoth:
		ss.book.PopFront(resting.Side, lvl)
		e.expireOrder(resting, "STP triggered")
		e.expireOrder(taker, "STP triggered")
		return stpHalt
	default:
		e.expireOrder(taker, "STP triggered")
		return stpHalt
	}
}

func (e *Engine) expireOrder(o *domain.Order, reason string) {
	o.Status = domain.StatusExpiredInMatch
	o.RejectReason = reason
	e.releaseMakerReservation(o)
	e.archiveOrder(o)
	e.notify.NotifyOrder(o, domain.ChangeExpiredInMatch, reason)
}

// releaseMakerReservation releases whatever portion of a resting (or
// STP-cancelled) order's reservation was never consumed.
func (e *Engine) releaseMakerReservation(o *domain.Order) {
	if o.ReservedAmount.Sign() == 0 {
		return
	}
	var consumed decimal.Decimal
	if o.Side == domain.SideSell {
		consumed = o.FilledQuantity
	} else {
		consumed = o.FilledQuoteQuantity
	}
	residual := o.ReservedAmount.Sub(consumed)
	if residual.Sign() > 0 {
		e.accounts.Release(o.UserID, o.ReservedAsset, residual)
		o.ReservedAmount = o.ReservedAmount.Sub(residual)
	}
}

// accountFillLegs resolves the per-side commission rate (each side pays its
// own maker/taker rate — the taker leg is charged commission_rate_taker, the
// resting (maker) leg commission_rate_maker) and builds the account.FillLegs
// for settlement. taker/resting identify the roles; buyOrder/sellOrder
// identify which side of the trade each occupies.
func accountFillLegs(e *Engine, ss *symbolState, taker, resting, buyOrder, sellOrder *domain.Order, price, qty decimal.Decimal) account.FillLegs {
	buyerRate := e.cfg.CommissionRateMaker
	if buyOrder == taker {
		buyerRate = e.cfg.CommissionRateTaker
	}
	sellerRate := e.cfg.CommissionRateMaker
	if sellOrder == taker {
		sellerRate = e.cfg.CommissionRateTaker
	}
	return account.FillLegs{
		BuyUserID:            buyOrder.UserID,
		SellUserID:           sellOrder.UserID,
		BaseAsset:            ss.spec.BaseAsset,
		QuoteAsset:           ss.spec.QuoteAsset,
		Price:                price,
		Quantity:             qty,
		BuyerCommissionRate:  buyerRate,
		SellerCommissionRate: sellerRate,
	}
}
