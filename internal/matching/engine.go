// Package matching implements the MatchingEngine: the
// authoritative owner of order lifecycles across all symbols. It drives
// internal/book for price-time-priority matching and internal/account for
// reservation/settlement, and emits notifications through the Notifier
// interface (internal/notify).
package matching

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/segmentio/ksuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradsys/vexchange/internal/account"
	"github.com/tradsys/vexchange/internal/apierror"
	"github.com/tradsys/vexchange/internal/book"
	"github.com/tradsys/vexchange/internal/domain"
	"github.com/tradsys/vexchange/internal/timeutil"
)

// Notifier receives order and trade notifications. internal/notify.Bus
// implements this to fan updates out to subscribers (the WS façade among
// them); tests can use a simple recorder.
type Notifier interface {
	NotifyOrder(order *domain.Order, change domain.ChangeType, reason string)
	NotifyTrade(trade *domain.Trade)
}

type noopNotifier struct{}

func (noopNotifier) NotifyOrder(*domain.Order, domain.ChangeType, string) {}
func (noopNotifier) NotifyTrade(*domain.Trade)                           {}

// Config carries the tunables that matching itself needs.
type Config struct {
	CommissionRateMaker decimal.Decimal
	CommissionRateTaker decimal.Decimal
	RecentTradesCap     int
	ArchiveRetention    time.Duration
	SlippageBuffer      decimal.Decimal // buffer applied to MARKET buy-by-quantity reservation estimate
}

// DefaultConfig holds the documented matching defaults.
func DefaultConfig() Config {
	return Config{
		CommissionRateMaker: decimal.NewFromFloat(0.001),
		CommissionRateTaker: decimal.NewFromFloat(0.001),
		RecentTradesCap:     1000,
		ArchiveRetention:    90 * 24 * time.Hour,
		SlippageBuffer:      decimal.NewFromFloat(0.01),
	}
}

type symbolState struct {
	spec  domain.Symbol
	book  *book.Book
	mu    sync.Mutex // coarse symbol lock guarding matching loop + parked stops
	trade int64      // trade id counter, monotonically increasing per symbol

	recentTrades []*domain.Trade // ring buffer, bounded by Config.RecentTradesCap
	parkedStops  []*domain.Order
}

// Engine is the MatchingEngine.
type Engine struct {
	clock   *timeutil.Clock
	accounts *account.Manager
	cfg     Config
	logger  *zap.Logger
	notify  Notifier

	mu      sync.RWMutex // guards symbols map and clientOrderIDs index
	symbols map[string]*symbolState

	liveOrders     map[string]*domain.Order // order_id -> order, across all symbols
	clientOrderIDs map[string]string        // user_id+":"+client_order_id -> order_id
	archive        *cache.Cache
}

// New creates a MatchingEngine.
func New(clock *timeutil.Clock, accounts *account.Manager, cfg Config, notify Notifier, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notify == nil {
		notify = noopNotifier{}
	}
	return &Engine{
		clock:          clock,
		accounts:       accounts,
		cfg:            cfg,
		logger:         logger,
		notify:         notify,
		symbols:        make(map[string]*symbolState),
		liveOrders:     make(map[string]*domain.Order),
		clientOrderIDs: make(map[string]string),
		archive:        cache.New(cfg.ArchiveRetention, cfg.ArchiveRetention/2),
	}
}

// RegisterSymbol adds a symbol specification and its empty order book.
func (e *Engine) RegisterSymbol(spec domain.Symbol) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.symbols[spec.Symbol] = &symbolState{
		spec: spec,
		book: book.New(spec.Symbol, e.logger),
	}
	e.logger.Info("symbol registered", zap.String("symbol", spec.Symbol))
}

func (e *Engine) symbolState(symbol string) (*symbolState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.symbols[symbol]
	return s, ok
}

// CommissionRateMaker returns the configured maker commission rate.
func (e *Engine) CommissionRateMaker() decimal.Decimal { return e.cfg.CommissionRateMaker }

// CommissionRateTaker returns the configured taker commission rate.
func (e *Engine) CommissionRateTaker() decimal.Decimal { return e.cfg.CommissionRateTaker }

// Symbol returns a registered symbol's spec.
func (e *Engine) Symbol(symbol string) (domain.Symbol, bool) {
	s, ok := e.symbolState(symbol)
	if !ok {
		return domain.Symbol{}, false
	}
	return s.spec, true
}

// Book exposes the per-symbol order book for depth/ticker queries.
func (e *Engine) Book(symbol string) (*book.Book, bool) {
	s, ok := e.symbolState(symbol)
	if !ok {
		return nil, false
	}
	return s.book, true
}

// SymbolTrades returns a copy of the bounded recent-trades ring buffer for a
// symbol, oldest first.
func (e *Engine) SymbolTrades(symbol string) ([]*domain.Trade, bool) {
	s, ok := e.symbolState(symbol)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Trade, len(s.recentTrades))
	copy(out, s.recentTrades)
	return out, true
}

// Symbols returns every registered symbol specification.
func (e *Engine) Symbols() []domain.Symbol {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Symbol, 0, len(e.symbols))
	for _, s := range e.symbols {
		out = append(out, s.spec)
	}
	return out
}

// SubmitRequest carries every field needed to submit a new order.
type SubmitRequest struct {
	Symbol              string
	UserID              string
	ClientOrderID       string
	Side                domain.Side
	Type                domain.Type
	TimeInForce         domain.TimeInForce
	Price               decimal.Decimal
	StopPrice           decimal.Decimal
	QuoteOrderQty       decimal.Decimal
	Quantity            decimal.Decimal
	SelfTradePrevention domain.SelfTradePrevention
	PriceMatch          domain.PriceMatch
}

func rejected(req SubmitRequest, now int64, reason string) *domain.Order {
	tif := req.TimeInForce
	if tif == "" {
		tif = domain.TIFGTC
	}
	return &domain.Order{
		OrderID:       ksuid.New().String(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		UserID:        req.UserID,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   tif,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		QuoteOrderQty: req.QuoteOrderQty,
		Quantity:      req.Quantity,
		Status:        domain.StatusRejected,
		RejectReason:  reason,
		Timestamp:     now,
		UpdateTime:    now,
	}
}

// SubmitOrder runs an incoming order through validation, price-match
// resolution, fund reservation, matching and final disposition.
func (e *Engine) SubmitOrder(req SubmitRequest) (*domain.Order, []*domain.Trade, error) {
	now := e.clock.NowMillis()

	ss, ok := e.symbolState(req.Symbol)
	if !ok {
		return rejected(req, now, "unknown symbol"), nil, apierror.UnknownSymbol(req.Symbol)
	}

	// Step 1: validate.
	req.PriceMatch = orDefaultPM(req.PriceMatch)
	if err := e.validate(req, ss); err != nil {
		o := rejected(req, now, err.Msg)
		e.notify.NotifyOrder(o, domain.ChangeRejected, err.Msg)
		return o, nil, err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	// Step 2: price-match resolution (mutates req.Price before reservation).
	if req.Type == domain.TypeLimit && req.PriceMatch != domain.PriceMatchNone {
		resolved, err := resolvePriceMatch(ss.book, req.Side, req.PriceMatch)
		if err != nil {
			o := rejected(req, now, err.Msg)
			e.notify.NotifyOrder(o, domain.ChangeRejected, err.Msg)
			return o, nil, err
		}
		req.Price = resolved
	}

	// LIMIT_MAKER: reject if it would cross (before any reservation/mutation).
	if req.Type == domain.TypeLimitMaker && wouldCross(ss.book, req.Side, req.Price) {
		err := apierror.InvalidOrder("would take liquidity")
		o := rejected(req, now, err.Msg)
		e.notify.NotifyOrder(o, domain.ChangeRejected, err.Msg)
		return o, nil, err
	}

	// LIMIT FOK: simulate against a snapshot before any mutation.
	if req.Type == domain.TypeLimit && req.TimeInForce == domain.TIFFOK {
		if !canFillFully(ss.book, req.Side, req.Price, req.Quantity) {
			o := rejected(req, now, "") // not REJECTED — EXPIRED with no trades, see below
			o.Status = domain.StatusExpired
			o.OrderID = ksuid.New().String()
			e.notify.NotifyOrder(o, domain.ChangeExpired, "FOK could not fill fully")
			return o, nil, nil
		}
	}

	// Step 3: reserve funds.
	reserveAsset, reserveAmount, err := e.reserveFunds(ss, req)
	if err != nil {
		o := rejected(req, now, err.Msg)
		e.notify.NotifyOrder(o, domain.ChangeRejected, err.Msg)
		return o, nil, err
	}

	// Step 4: assign identity.
	order := &domain.Order{
		OrderID:             ksuid.New().String(),
		ClientOrderID:       req.ClientOrderID,
		Symbol:              req.Symbol,
		UserID:              req.UserID,
		Side:                req.Side,
		Type:                req.Type,
		TimeInForce:         orDefaultTIF(req.TimeInForce),
		Price:               req.Price,
		StopPrice:           req.StopPrice,
		QuoteOrderQty:       req.QuoteOrderQty,
		Quantity:            req.Quantity,
		Status:              domain.StatusNew,
		SelfTradePrevention: orDefaultSTP(req.SelfTradePrevention),
		PriceMatch:          orDefaultPM(req.PriceMatch),
		Timestamp:           now,
		UpdateTime:          now,
		ReservedAsset:       reserveAsset,
		ReservedAmount:      reserveAmount,
	}

	if order.Type.IsStopType() {
		ss.parkedStops = append(ss.parkedStops, order)
		e.indexOrder(order)
		e.notify.NotifyOrder(order, domain.ChangeNew, "")
		return order, nil, nil
	}

	// Step 5: match.
	trades := e.match(ss, order)

	// Step 6: post-match disposition.
	e.dispose(ss, order)

	e.indexOrder(order)
	for _, t := range trades {
		e.notify.NotifyTrade(t)
	}
	e.notify.NotifyOrder(order, changeTypeFor(order), order.RejectReason)

	if order.Status.IsTerminal() {
		e.archiveOrder(order)
	}
	e.checkParkedStops(ss, trades)
	return order, trades, nil
}

func changeTypeFor(o *domain.Order) domain.ChangeType {
	switch o.Status {
	case domain.StatusCanceled:
		return domain.ChangeCanceled
	case domain.StatusExpired:
		return domain.ChangeExpired
	case domain.StatusExpiredInMatch:
		return domain.ChangeExpiredInMatch
	case domain.StatusRejected:
		return domain.ChangeRejected
	default:
		if o.FilledQuantity.Sign() > 0 {
			return domain.ChangeTrade
		}
		return domain.ChangeNew
	}
}

func orDefaultTIF(t domain.TimeInForce) domain.TimeInForce {
	if t == "" {
		return domain.TIFGTC
	}
	return t
}
func orDefaultSTP(s domain.SelfTradePrevention) domain.SelfTradePrevention {
	if s == "" {
		return domain.STPNone
	}
	return s
}
func orDefaultPM(p domain.PriceMatch) domain.PriceMatch {
	if p == "" {
		return domain.PriceMatchNone
	}
	return p
}

func (e *Engine) indexOrder(o *domain.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.liveOrders[o.OrderID] = o
	if o.ClientOrderID != "" {
		e.clientOrderIDs[o.UserID+":"+o.ClientOrderID] = o.OrderID
	}
}

func (e *Engine) archiveOrder(o *domain.Order) {
	e.mu.Lock()
	delete(e.liveOrders, o.OrderID)
	e.mu.Unlock()
	e.archive.SetDefault(o.OrderID, o)
}

// RestoreArchivedOrder reinserts a terminal order straight into the
// archive, bypassing validation and matching. Used by internal/persistence
// to replay an order/trade archive from a snapshot; a resting
// order must instead go through SubmitOrder to reconstruct its book
// position and fund reservation honestly.
func (e *Engine) RestoreArchivedOrder(o *domain.Order) {
	if !o.Status.IsTerminal() {
		e.logger.Warn("matching: refusing to restore a non-terminal order as archived",
			zap.String("order_id", o.OrderID), zap.String("status", string(o.Status)))
		return
	}
	e.archive.SetDefault(o.OrderID, o)
}

// dispose applies the final resting/cancel/archive decision for non-parked order types.
func (e *Engine) dispose(ss *symbolState, o *domain.Order) {
	if o.Status.IsTerminal() {
		// applySTP already expired and archived this order (EXPIRE_TAKER/
		// EXPIRE_BOTH) before match() returned; it must not be resurrected
		// into the book here.
		return
	}
	remaining := o.Remaining()
	switch o.Type {
	case domain.TypeLimit:
		switch o.TimeInForce {
		case domain.TIFGTC:
			if remaining.Sign() > 0 {
				ss.book.Insert(o)
				return
			}
		case domain.TIFIOC:
			if remaining.Sign() > 0 {
				e.releaseResidual(o, remaining)
				o.Status = domain.StatusCanceled
			}
		case domain.TIFFOK:
			// handled pre-match; remaining should be zero here.
		}
	case domain.TypeLimitMaker:
		if remaining.Sign() > 0 {
			ss.book.Insert(o)
			return
		}
	case domain.TypeMarket:
		if remaining.Sign() > 0 {
			e.releaseResidual(o, remaining)
			o.Status = domain.StatusExpired
		}
	}
	if o.FilledQuantity.Equal(o.Quantity) {
		o.Status = domain.StatusFilled
		e.releaseResidual(o, decimal.Zero)
	} else if o.FilledQuantity.Sign() > 0 && o.Status == domain.StatusNew {
		o.Status = domain.StatusPartiallyFilled
	}
}

// releaseResidual releases the portion of a reservation that was never
// consumed by matching (IOC/MARKET leftover, or the slippage buffer on a
// MARKET buy-by-quantity).
func (e *Engine) releaseResidual(o *domain.Order, remaining decimal.Decimal) {
	if o.ReservedAmount.Sign() == 0 {
		return
	}
	var consumed decimal.Decimal
	switch {
	case o.Side == domain.SideSell:
		consumed = o.FilledQuantity
	case o.Type == domain.TypeMarket && o.QuoteOrderQty.Sign() > 0:
		consumed = o.FilledQuoteQuantity
	default:
		consumed = o.FilledQuoteQuantity
	}
	residual := o.ReservedAmount.Sub(consumed)
	if residual.Sign() > 0 {
		e.accounts.Release(o.UserID, o.ReservedAsset, residual)
		o.ReservedAmount = o.ReservedAmount.Sub(residual)
	}
}
