package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradsys/vexchange/internal/domain"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func order(id string, side domain.Side, price, qty string) *domain.Order {
	return &domain.Order{
		OrderID:  id,
		Side:     side,
		Price:    dec(price),
		Quantity: dec(qty),
	}
}

func TestInsertOrdersFIFOWithinLevel(t *testing.T) {
	b := New("BTCUSDT", nil)
	b.Insert(order("1", domain.SideBuy, "100", "1"))
	b.Insert(order("2", domain.SideBuy, "100", "2"))

	lvl := b.Best(domain.SideBuy)
	require.NotNil(t, lvl)
	assert.Equal(t, 2, lvl.Count())
	assert.Equal(t, "1", lvl.Front().OrderID, "first inserted order must be first in FIFO")
}

func TestBidsDescendingAsksAscending(t *testing.T) {
	b := New("BTCUSDT", nil)
	b.Insert(order("1", domain.SideBuy, "100", "1"))
	b.Insert(order("2", domain.SideBuy, "105", "1"))
	b.Insert(order("3", domain.SideBuy, "95", "1"))

	assert.True(t, b.Best(domain.SideBuy).Price.Equal(dec("105")), "best bid is the highest price")

	b.Insert(order("4", domain.SideSell, "110", "1"))
	b.Insert(order("5", domain.SideSell, "108", "1"))
	assert.True(t, b.Best(domain.SideSell).Price.Equal(dec("108")), "best ask is the lowest price")
}

func TestRemoveEmptiesLevel(t *testing.T) {
	b := New("BTCUSDT", nil)
	b.Insert(order("1", domain.SideBuy, "100", "1"))

	ok := b.Remove(domain.SideBuy, "1")
	assert.True(t, ok)
	assert.Nil(t, b.Best(domain.SideBuy), "a level with zero remaining orders must not exist")

	assert.False(t, b.Remove(domain.SideBuy, "missing"))
}

func TestPopFrontAdvancesFIFOAndEmptiesLevel(t *testing.T) {
	b := New("BTCUSDT", nil)
	b.Insert(order("1", domain.SideBuy, "100", "1"))
	b.Insert(order("2", domain.SideBuy, "100", "1"))

	lvl := b.Best(domain.SideBuy)
	b.PopFront(domain.SideBuy, lvl)

	lvl = b.Best(domain.SideBuy)
	require.NotNil(t, lvl)
	assert.Equal(t, "2", lvl.Front().OrderID)

	b.PopFront(domain.SideBuy, lvl)
	assert.Nil(t, b.Best(domain.SideBuy))
}

func TestDepthAggregatesQuantityPerLevel(t *testing.T) {
	b := New("BTCUSDT", nil)
	b.Insert(order("1", domain.SideBuy, "100", "1"))
	b.Insert(order("2", domain.SideBuy, "100", "2"))
	b.Insert(order("3", domain.SideBuy, "99", "5"))

	bids, _ := b.Depth(10)
	require.Len(t, bids, 2)
	assert.True(t, bids[0].Price.Equal(dec("100")))
	assert.True(t, bids[0].Quantity.Equal(dec("3")))
	assert.True(t, bids[1].Price.Equal(dec("99")))
}

func TestDepthRespectsLimit(t *testing.T) {
	b := New("BTCUSDT", nil)
	for i := 0; i < 5; i++ {
		b.Insert(order(string(rune('a'+i)), domain.SideBuy, dec("100").Sub(decimal.NewFromInt(int64(i))).String(), "1"))
	}
	bids, _ := b.Depth(2)
	assert.Len(t, bids, 2)
}

func TestBestBidAskReportsEmptySides(t *testing.T) {
	b := New("BTCUSDT", nil)
	_, _, hasBid, hasAsk := b.BestBidAsk()
	assert.False(t, hasBid)
	assert.False(t, hasAsk)

	b.Insert(order("1", domain.SideBuy, "100", "1"))
	bid, _, hasBid, hasAsk := b.BestBidAsk()
	assert.True(t, hasBid)
	assert.False(t, hasAsk)
	assert.True(t, bid.Equal(dec("100")))
}

func TestLastUpdateIDIncrementsOnMutation(t *testing.T) {
	b := New("BTCUSDT", nil)
	start := b.LastUpdateID()
	b.Insert(order("1", domain.SideBuy, "100", "1"))
	assert.Greater(t, b.LastUpdateID(), start)
	b.RecordTrade(dec("100"))
	assert.True(t, b.LastPrice().Equal(dec("100")))
}
