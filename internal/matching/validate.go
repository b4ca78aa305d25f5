package matching

import (
	"github.com/shopspring/decimal"

	"github.com/tradsys/vexchange/internal/apierror"
	"github.com/tradsys/vexchange/internal/domain"
)

// validate checks an incoming order against symbol filters and basic sanity rules.
func (e *Engine) validate(req SubmitRequest, ss *symbolState) *apierror.Error {
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return apierror.InvalidOrder("invalid side")
	}
	switch req.Type {
	case domain.TypeLimit, domain.TypeMarket, domain.TypeStopLoss, domain.TypeStopLossLimit,
		domain.TypeTakeProfit, domain.TypeTakeProfitLimit, domain.TypeLimitMaker:
	default:
		return apierror.InvalidOrder("invalid order type")
	}

	isMarketByQuote := req.Type == domain.TypeMarket && req.QuoteOrderQty.Sign() > 0
	if !isMarketByQuote && req.Quantity.Sign() <= 0 {
		return apierror.InvalidOrder("quantity must be positive")
	}
	if isMarketByQuote && req.QuoteOrderQty.Sign() <= 0 {
		return apierror.InvalidOrder("quoteOrderQty must be positive")
	}

	needsPrice := req.Type == domain.TypeLimit || req.Type == domain.TypeStopLossLimit ||
		req.Type == domain.TypeTakeProfitLimit || req.Type == domain.TypeLimitMaker
	if needsPrice && req.PriceMatch == domain.PriceMatchNone && req.Price.Sign() <= 0 {
		return apierror.InvalidOrder("price must be positive")
	}

	needsStop := req.Type == domain.TypeStopLoss || req.Type == domain.TypeStopLossLimit ||
		req.Type == domain.TypeTakeProfit || req.Type == domain.TypeTakeProfitLimit
	if needsStop && req.StopPrice.Sign() <= 0 {
		return apierror.InvalidOrder("stopPrice must be positive")
	}

	if req.Type == domain.TypeLimit && req.TimeInForce != "" {
		switch req.TimeInForce {
		case domain.TIFGTC, domain.TIFIOC, domain.TIFFOK:
		default:
			return apierror.InvalidOrder("invalid timeInForce")
		}
	}

	spec := ss.spec
	if needsPrice && req.PriceMatch == domain.PriceMatchNone {
		if !conformsTick(req.Price, spec.Price) {
			return apierror.InvalidOrder("price does not conform to tick filter")
		}
	}
	if !isMarketByQuote && !conformsStep(req.Quantity, spec.Lot) {
		return apierror.InvalidOrder("quantity does not conform to lot filter")
	}
	if needsPrice && req.PriceMatch == domain.PriceMatchNone {
		notional := req.Price.Mul(req.Quantity)
		if notional.LessThan(spec.MinNotional) {
			return apierror.InvalidOrder("order value below min notional")
		}
	}

	if req.ClientOrderID != "" {
		e.mu.RLock()
		_, exists := e.clientOrderIDs[req.UserID+":"+req.ClientOrderID]
		e.mu.RUnlock()
		if exists {
			return apierror.DuplicateClientOrderID()
		}
	}
	return nil
}

func conformsTick(price decimal.Decimal, f domain.SymbolFilterPrice) bool {
	if f.Min.Sign() > 0 && price.LessThan(f.Min) {
		return false
	}
	if f.Max.Sign() > 0 && price.GreaterThan(f.Max) {
		return false
	}
	if f.Tick.Sign() <= 0 {
		return true
	}
	rem := price.Sub(f.Min).Mod(f.Tick)
	return rem.IsZero()
}

func conformsStep(qty decimal.Decimal, f domain.SymbolFilterLot) bool {
	if f.Min.Sign() > 0 && qty.LessThan(f.Min) {
		return false
	}
	if f.Max.Sign() > 0 && qty.GreaterThan(f.Max) {
		return false
	}
	if f.Step.Sign() <= 0 {
		return true
	}
	rem := qty.Sub(f.Min).Mod(f.Step)
	return rem.IsZero()
}
