package exchange

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/tradsys/vexchange/internal/apierror"
	"github.com/tradsys/vexchange/internal/domain"
)

// Kline is one bar aggregate.
type Kline struct {
	OpenTime                 int64
	Open, High, Low, Close   decimal.Decimal
	Volume                   decimal.Decimal
	CloseTime                int64
	QuoteVolume               decimal.Decimal
	TradeCount                int64
	TakerBuyBaseVolume        decimal.Decimal
	TakerBuyQuoteVolume       decimal.Decimal
}

// ParseIntervalMillis converts a Binance-style interval string ("1m", "5m",
// "1h", "1d", ...) into its millisecond duration.
func ParseIntervalMillis(interval string) (int64, error) {
	if len(interval) < 2 {
		return 0, apierror.InvalidOrder("invalid interval")
	}
	unit := interval[len(interval)-1]
	n, err := strconv.ParseInt(interval[:len(interval)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, apierror.InvalidOrder("invalid interval")
	}
	var unitMs int64
	switch unit {
	case 'm':
		unitMs = 60_000
	case 'h':
		unitMs = 3_600_000
	case 'd':
		unitMs = 86_400_000
	case 'w':
		unitMs = 7 * 86_400_000
	default:
		return 0, apierror.InvalidOrder("invalid interval unit")
	}
	return n * unitMs, nil
}

// Klines aggregates the
// symbol's bounded recent-trades window into fixed-width bars, the
// simplest aggregation consistent with this core's in-memory, non-persistent
// trade history (longer-lived kline history belongs to the out-of-scope
// analysis/reporting layer).
func (e *Exchange) Klines(symbol, interval string, limit int) ([]Kline, error) {
	intervalMs, err := ParseIntervalMillis(interval)
	if err != nil {
		return nil, err
	}
	trades, rerr := e.RecentTrades(symbol, 0)
	if rerr != nil {
		return nil, rerr
	}
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	if len(trades) == 0 {
		return nil, nil
	}

	buckets := make(map[int64]*Kline)
	var order []int64
	for _, t := range trades {
		openTime := (t.Timestamp / intervalMs) * intervalMs
		k, ok := buckets[openTime]
		if !ok {
			k = &Kline{OpenTime: openTime, CloseTime: openTime + intervalMs - 1, Open: t.Price, High: t.Price, Low: t.Price}
			buckets[openTime] = k
			order = append(order, openTime)
		}
		if t.Price.GreaterThan(k.High) {
			k.High = t.Price
		}
		if t.Price.LessThan(k.Low) {
			k.Low = t.Price
		}
		k.Close = t.Price
		k.Volume = k.Volume.Add(t.Quantity)
		k.QuoteVolume = k.QuoteVolume.Add(t.QuoteQuantity)
		k.TradeCount++
		if t.MakerSide == domain.SideSell { // taker was the buyer
			k.TakerBuyBaseVolume = k.TakerBuyBaseVolume.Add(t.Quantity)
			k.TakerBuyQuoteVolume = k.TakerBuyQuoteVolume.Add(t.QuoteQuantity)
		}
	}

	out := make([]Kline, 0, len(order))
	for _, ts := range order {
		out = append(out, *buckets[ts])
	}
	// order built from trades which are already timestamp-ascending; dedupe
	// preserves that ordering since a bucket's first sighting fixes its slot.
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
// row renders a Kline as the 12-field array Binance's /klines returns.
func (k Kline) row() [12]interface{} {
	return [12]interface{}{
		k.OpenTime,
		k.Open.String(), k.High.String(), k.Low.String(), k.Close.String(),
		k.Volume.String(),
		k.CloseTime,
		k.QuoteVolume.String(),
		k.TradeCount,
		k.TakerBuyBaseVolume.String(),
		k.TakerBuyQuoteVolume.String(),
		"0", // unused field, kept for Binance wire-shape compatibility
	}
}

// Rows renders a slice of Klines as Binance's nested-array /klines response.
func Rows(ks []Kline) [][12]interface{} {
	out := make([][12]interface{}, len(ks))
	for i, k := range ks {
		out[i] = k.row()
	}
	return out
}
