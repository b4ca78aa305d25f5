// Package exchange implements the VirtualExchange façade: a
// thin composition root wiring the clock, account manager, matching engine,
// notification bus and (optionally) a replay controller together, and
// exposing the high-level operations REST/WS handlers call. It has no wire
// protocol of its own, so callers reach it through direct method calls
// rather than a registered RPC service.
package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradsys/vexchange/internal/account"
	"github.com/tradsys/vexchange/internal/apierror"
	"github.com/tradsys/vexchange/internal/book"
	"github.com/tradsys/vexchange/internal/domain"
	"github.com/tradsys/vexchange/internal/matching"
	"github.com/tradsys/vexchange/internal/notify"
	"github.com/tradsys/vexchange/internal/replay"
	"github.com/tradsys/vexchange/internal/telemetry"
	"github.com/tradsys/vexchange/internal/timeutil"
)

// Exchange is the VirtualExchange façade.
type Exchange struct {
	Clock    *timeutil.Clock
	Accounts *account.Manager
	Engine   *matching.Engine
	Bus      *notify.Bus
	logger   *zap.Logger

	replay *replay.Controller
}

// New wires a fresh VirtualExchange instance. Pass bufferSize 0 for
// notify.New's default-sized subscriber buffers. metrics may be nil, in
// which case no Prometheus collectors are exercised on the notification
// path (see telemetry.WrapNotifier).
func New(logger *zap.Logger, engineCfg matching.Config, notifyBufferSize int, metrics *telemetry.Metrics) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifyBufferSize <= 0 {
		notifyBufferSize = 1000
	}
	clock := timeutil.New(logger)
	accounts := account.New(logger)
	bus := notify.New(logger, notifyBufferSize)
	engine := matching.New(clock, accounts, engineCfg, telemetry.WrapNotifier(bus, metrics), logger)
	return &Exchange{Clock: clock, Accounts: accounts, Engine: engine, Bus: bus, logger: logger}
}

// RegisterUser creates a user and returns its API key.
func (e *Exchange) RegisterUser(userID string) string {
	return e.Accounts.RegisterUser(userID)
}

// Deposit credits a user's free balance.
func (e *Exchange) Deposit(userID, asset string, amount decimal.Decimal) error {
	return e.Accounts.Deposit(userID, asset, amount)
}

// RegisterSymbol adds a tradable symbol.
func (e *Exchange) RegisterSymbol(spec domain.Symbol) {
	e.Engine.RegisterSymbol(spec)
}

// SubmitOrder submits a new order to the matching engine.
func (e *Exchange) SubmitOrder(req matching.SubmitRequest) (*domain.Order, []*domain.Trade, error) {
	return e.Engine.SubmitOrder(req)
}

// CancelOrder cancels a resting order.
func (e *Exchange) CancelOrder(symbol, userID, orderID string) (*domain.Order, error) {
	return e.Engine.CancelOrder(symbol, userID, orderID)
}

// QueryOrder looks up a single order by id.
func (e *Exchange) QueryOrder(symbol, orderID string) (*domain.Order, bool) {
	return e.Engine.QueryOrder(symbol, orderID)
}

// OpenOrders returns a user's live orders.
func (e *Exchange) OpenOrders(symbol, userID string) []*domain.Order {
	return e.Engine.OpenOrders(symbol, userID)
}

// AllOrders returns every order (live+archived) for a user/symbol.
func (e *Exchange) AllOrders(symbol, userID string) []*domain.Order {
	return e.Engine.AllOrders(symbol, userID)
}

// AccountInfo returns a user's balances.
func (e *Exchange) AccountInfo(userID string) account.Snapshot {
	rates := account.CommissionRates{Maker: e.Engine.CommissionRateMaker(), Taker: e.Engine.CommissionRateTaker()}
	return e.Accounts.Snapshot(userID, e.Clock.NowMillis(), rates)
}

// MarketDepth returns the order book's current depth.
func (e *Exchange) MarketDepth(symbol string, limit int) (bids, asks []book.PriceQty, lastUpdateID int64, err error) {
	b, ok := e.Engine.Book(symbol)
	if !ok {
		return nil, nil, 0, apierror.UnknownSymbol(symbol)
	}
	bids, asks = b.Depth(limit)
	return bids, asks, b.LastUpdateID(), nil
}

// RecentTrades returns up to limit of
// the most recent trades for symbol, newest last.
func (e *Exchange) RecentTrades(symbol string, limit int) ([]*domain.Trade, error) {
	ss, ok := e.Engine.SymbolTrades(symbol)
	if !ok {
		return nil, apierror.UnknownSymbol(symbol)
	}
	if limit > 0 && len(ss) > limit {
		ss = ss[len(ss)-limit:]
	}
	return ss, nil
}

// Ticker returns the last trade price and best bid/ask.
type Ticker struct {
	Symbol    string
	LastPrice decimal.Decimal
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
}

// Ticker returns the current best bid/ask/last-price snapshot for symbol.
func (e *Exchange) Ticker(symbol string) (Ticker, error) {
	b, ok := e.Engine.Book(symbol)
	if !ok {
		return Ticker{}, apierror.UnknownSymbol(symbol)
	}
	bid, ask, _, _ := b.BestBidAsk()
	return Ticker{Symbol: symbol, LastPrice: b.LastPrice(), BidPrice: bid, AskPrice: ask}, nil
}

// AvgPrice returns the volume-weighted average trade
// price over the trailing window windowMins wide (avg_price_mins is a
// configurable window, default 5, rather than a fixed constant). Trades
// older than the window are excluded even if they are still present in the
// bounded recent-trades ring buffer.
func (e *Exchange) AvgPrice(symbol string, windowMins int) (decimal.Decimal, error) {
	trades, err := e.RecentTrades(symbol, 0)
	if err != nil {
		return decimal.Zero, err
	}
	if windowMins <= 0 {
		windowMins = 5
	}
	cutoff := e.Clock.NowMillis() - int64(windowMins)*60*1000
	var notional, qty decimal.Decimal
	for _, t := range trades {
		if t.Timestamp < cutoff {
			continue
		}
		notional = notional.Add(t.QuoteQuantity)
		qty = qty.Add(t.Quantity)
	}
	if qty.Sign() == 0 {
		return decimal.Zero, nil
	}
	return notional.Div(qty), nil
}

// ExchangeInfo returns every registered symbol's
// specification.
func (e *Exchange) ExchangeInfo() []domain.Symbol {
	return e.Engine.Symbols()
}

// SubscribeMarket subscribes a caller to a symbol's market data feed.
func (e *Exchange) SubscribeMarket(symbol string, cb func(payload []byte)) (string, error) {
	return e.Bus.SubscribeMarket(symbol, cb)
}

// SubscribeUser subscribes a caller to a user's private order/trade feed.
func (e *Exchange) SubscribeUser(userID string, cb func(payload []byte)) (string, error) {
	return e.Bus.SubscribeUser(userID, cb)
}

// Unsubscribe cancels a market or user subscription created above.
func (e *Exchange) Unsubscribe(id string) {
	e.Bus.Unsubscribe(id)
}

// AttachReplay wires replay payloads into
// the matching engine and the shared virtual clock. Payloads must be
// matching.SubmitRequest values; any other payload type is logged and skipped.
func (e *Exchange) AttachReplay(controller *replay.Controller) int {
	e.replay = controller
	return controller.RegisterCallback(func(sourceID string, payload interface{}) {
		req, ok := payload.(matching.SubmitRequest)
		if !ok {
			e.logger.Warn("exchange: replay payload is not a matching.SubmitRequest, skipping",
				zap.String("source_id", sourceID))
			return
		}
		if _, _, err := e.Engine.SubmitOrder(req); err != nil {
			e.logger.Debug("exchange: replayed order rejected",
				zap.String("source_id", sourceID), zap.Error(err))
		}
	})
}

// Replay returns the attached ReplayController, if any.
func (e *Exchange) Replay() (*replay.Controller, error) {
	if e.replay == nil {
		return nil, fmt.Errorf("exchange: no replay controller attached")
	}
	return e.replay, nil
}
