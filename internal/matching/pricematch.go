package matching

import (
	"github.com/shopspring/decimal"

	"github.com/tradsys/vexchange/internal/apierror"
	"github.com/tradsys/vexchange/internal/book"
	"github.com/tradsys/vexchange/internal/domain"
)

// resolvePriceMatch resolves a PriceMatch mode into a concrete limit price: OPPONENT = best price of the
// opposite side, QUEUE = best price of the same side.
func resolvePriceMatch(b *book.Book, side domain.Side, mode domain.PriceMatch) (decimal.Decimal, *apierror.Error) {
	var lookupSide domain.Side
	switch mode {
	case domain.PriceMatchOpponent:
		lookupSide = side.Opposite()
	case domain.PriceMatchQueue:
		lookupSide = side
	default:
		return decimal.Zero, apierror.InvalidOrder("unknown price_match mode")
	}
	lvl := b.Best(lookupSide)
	if lvl == nil {
		return decimal.Zero, apierror.InvalidOrder("no reference price")
	}
	return lvl.Price, nil
}

// wouldCross reports whether a LIMIT order at price would immediately match
// against the opposite side (used by LIMIT_MAKER validation).
func wouldCross(b *book.Book, side domain.Side, price decimal.Decimal) bool {
	lvl := b.Best(side.Opposite())
	if lvl == nil {
		return false
	}
	if side == domain.SideBuy {
		return price.GreaterThanOrEqual(lvl.Price)
	}
	return price.LessThanOrEqual(lvl.Price)
}

// canFillFully simulates matching against a read-only snapshot of the book to
// decide whether a FOK order could be filled entirely, without mutating
// anything.
func canFillFully(b *book.Book, side domain.Side, price, quantity decimal.Decimal) bool {
	opposite := side.Opposite()
	bidsSnap, asksSnap := b.Depth(1 << 20)
	var levels []book.PriceQty
	if opposite == domain.SideSell {
		levels = asksSnap
	} else {
		levels = bidsSnap
	}
	remaining := quantity
	for _, lvl := range levels {
		if side == domain.SideBuy && lvl.Price.GreaterThan(price) {
			break
		}
		if side == domain.SideSell && lvl.Price.LessThan(price) {
			break
		}
		remaining = remaining.Sub(lvl.Quantity)
		if remaining.Sign() <= 0 {
			return true
		}
	}
	return remaining.Sign() <= 0
}
