package wsgateway

import (
	"strings"
	"time"

	"github.com/tradsys/vexchange/internal/apierror"
	"github.com/tradsys/vexchange/internal/book"
	"github.com/tradsys/vexchange/internal/domain"
	"github.com/tradsys/vexchange/internal/exchange"
	"github.com/tradsys/vexchange/internal/notify"
)

// streamKind identifies the public market-stream family a subscription name
// maps to.
type streamKind int

const (
	streamTrade streamKind = iota
	streamDepth
	streamKline
	streamTicker
	streamAvgPrice
)

// parsedStream is a decoded "<symbol>@<channel>" subscription name.
type parsedStream struct {
	Name     string
	Symbol   string
	Kind     streamKind
	Interval string // only set for streamKline
}

// parseStream decodes one Binance-style combined-stream component, e.g.
// "btcusd@trade", "btcusd@depth", "btcusd@kline_1m", "btcusd@ticker",
// "btcusd@avgPrice".
func parseStream(name string) (parsedStream, error) {
	at := strings.IndexByte(name, '@')
	if at < 0 {
		return parsedStream{}, apierror.InvalidOrder("invalid stream name: " + name)
	}
	symbol, channel := name[:at], name[at+1:]
	if symbol == "" {
		return parsedStream{}, apierror.InvalidOrder("invalid stream name: " + name)
	}
	switch {
	case channel == "trade":
		return parsedStream{Name: name, Symbol: symbol, Kind: streamTrade}, nil
	case channel == "depth":
		return parsedStream{Name: name, Symbol: symbol, Kind: streamDepth}, nil
	case channel == "ticker":
		return parsedStream{Name: name, Symbol: symbol, Kind: streamTicker}, nil
	case channel == "avgPrice":
		return parsedStream{Name: name, Symbol: symbol, Kind: streamAvgPrice}, nil
	case strings.HasPrefix(channel, "kline_"):
		interval := strings.TrimPrefix(channel, "kline_")
		if _, err := exchange.ParseIntervalMillis(interval); err != nil {
			return parsedStream{}, err
		}
		return parsedStream{Name: name, Symbol: symbol, Kind: streamKline, Interval: interval}, nil
	default:
		return parsedStream{}, apierror.InvalidOrder("unknown stream channel: " + channel)
	}
}

// tradeStreamPayload is the wire shape of a "<symbol>@trade" event,
// matching Binance's trade stream field names.
type tradeStreamPayload struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	BuyerOrderID string `json:"b"`
	SellOrderID  string `json:"a"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func newTradeStreamPayload(t *domain.Trade, now time.Time) tradeStreamPayload {
	return tradeStreamPayload{
		EventType:    "trade",
		EventTime:    now.UnixMilli(),
		Symbol:       t.Symbol,
		TradeID:      t.TradeID,
		Price:        t.Price.String(),
		Quantity:     t.Quantity.String(),
		BuyerOrderID: t.BuyOrderID,
		SellOrderID:  t.SellOrderID,
		TradeTime:    t.Timestamp,
		IsBuyerMaker: t.MakerSide == domain.SideBuy,
	}
}

// depthStreamPayload is the wire shape of a "<symbol>@depth" event: the
// current top 20 levels per side, stamped with the book's lastUpdateId,
// following simplified-depth convention rather than Binance's incremental
// diff stream (no diffs and no first-update-id field are sent).
type depthStreamPayload struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	LastUpdateID  int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

func newDepthStreamPayload(symbol string, ex *exchange.Exchange, now time.Time) (depthStreamPayload, error) {
	bids, asks, lastUpdateID, err := ex.MarketDepth(symbol, 20)
	if err != nil {
		return depthStreamPayload{}, err
	}
	return depthStreamPayload{
		EventType:    "depthUpdate",
		EventTime:    now.UnixMilli(),
		Symbol:       symbol,
		LastUpdateID: lastUpdateID,
		Bids:         rowsOf(bids),
		Asks:         rowsOf(asks),
	}, nil
}

func rowsOf(levels []book.PriceQty) [][]string {
	out := make([][]string, len(levels))
	for i, l := range levels {
		out[i] = []string{l.Price.String(), l.Quantity.String()}
	}
	return out
}

// tickerStreamPayload is the wire shape of a "<symbol>@ticker" event.
type tickerStreamPayload struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	BidPrice  string `json:"b"`
	AskPrice  string `json:"a"`
}

func newTickerStreamPayload(symbol string, ex *exchange.Exchange, now time.Time) (tickerStreamPayload, error) {
	t, err := ex.Ticker(symbol)
	if err != nil {
		return tickerStreamPayload{}, err
	}
	return tickerStreamPayload{
		EventType: "24hrTicker",
		EventTime: now.UnixMilli(),
		Symbol:    symbol,
		LastPrice: t.LastPrice.String(),
		BidPrice:  t.BidPrice.String(),
		AskPrice:  t.AskPrice.String(),
	}, nil
}

// avgPriceStreamPayload is the wire shape of a "<symbol>@avgPrice" event.
type avgPriceStreamPayload struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
}

func newAvgPriceStreamPayload(symbol string, ex *exchange.Exchange, windowMins int, now time.Time) (avgPriceStreamPayload, error) {
	p, err := ex.AvgPrice(symbol, windowMins)
	if err != nil {
		return avgPriceStreamPayload{}, err
	}
	return avgPriceStreamPayload{
		EventType: "avgPrice",
		EventTime: now.UnixMilli(),
		Symbol:    symbol,
		Price:     p.String(),
	}, nil
}

// userStreamPayload mirrors notify.OrderEvent over the private user-data
// stream, relabeled to Binance's executionReport event type name.
type userStreamPayload struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Event     notify.OrderEvent `json:"data"`
}
