package matching

import (
	"github.com/shopspring/decimal"

	"github.com/tradsys/vexchange/internal/apierror"
	"github.com/tradsys/vexchange/internal/domain"
)

// reserveFunds reserves the funds an order requires and returns the asset/amount
// reserved so disposition can release any unused portion later.
func (e *Engine) reserveFunds(ss *symbolState, req SubmitRequest) (asset string, amount decimal.Decimal, err *apierror.Error) {
	spec := ss.spec
	switch {
	case req.Side == domain.SideBuy && req.Type == domain.TypeLimit:
		asset = spec.QuoteAsset
		amount = req.Price.Mul(req.Quantity)
	case req.Side == domain.SideBuy && (req.Type == domain.TypeStopLoss || req.Type == domain.TypeTakeProfit):
		// Plain (non-LIMIT) stop/take-profit orders carry no Price. They
		// park until triggered and then execute as MARKET (TriggeredType),
		// so reserve against the same best-ask slippage estimate a BUY
		// MARKET-by-quantity order uses.
		asset = spec.QuoteAsset
		lvl := bestOppositeLevel(ss, req.Side)
		if lvl.IsZero() {
			return "", decimal.Zero, apierror.InvalidOrder("no reference price for market order")
		}
		buffer := decimal.NewFromInt(1).Add(e.cfg.SlippageBuffer)
		amount = lvl.Mul(req.Quantity).Mul(buffer)
	case req.Side == domain.SideBuy && req.Type == domain.TypeMarket && req.QuoteOrderQty.Sign() > 0:
		asset = spec.QuoteAsset
		amount = req.QuoteOrderQty
	case req.Side == domain.SideBuy && req.Type == domain.TypeMarket:
		asset = spec.QuoteAsset
		lvl := bestOppositeLevel(ss, req.Side)
		if lvl.IsZero() {
			return "", decimal.Zero, apierror.InvalidOrder("no reference price for market order")
		}
		buffer := decimal.NewFromInt(1).Add(e.cfg.SlippageBuffer)
		amount = lvl.Mul(req.Quantity).Mul(buffer)
	case req.Side == domain.SideSell:
		asset = spec.BaseAsset
		amount = req.Quantity
	default:
		asset = spec.QuoteAsset
		amount = req.Price.Mul(req.Quantity)
	}

	if !e.accounts.Reserve(req.UserID, asset, amount) {
		return "", decimal.Zero, apierror.InsufficientBalance()
	}
	return asset, amount, nil
}

func bestOppositeLevel(ss *symbolState, side domain.Side) decimal.Decimal {
	lvl := ss.book.Best(side.Opposite())
	if lvl == nil {
		return decimal.Zero
	}
	return lvl.Price
}
