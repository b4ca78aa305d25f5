// Package book implements the per-symbol order book: two
// price-ordered ladders of FIFO price levels.
//
// A flat container/heap of individual orders per side cannot satisfy the
// "no level holds zero orders" / O(1)-FIFO-per-level requirements without
// per-cancel re-heapify. This implementation instead keeps one doubly-linked
// list (container/list) per distinct price, indexed by a sorted slice of
// price keys.
package book

import (
	"container/list"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradsys/vexchange/internal/domain"
)

// Level is one price level: an insertion-ordered FIFO of resting orders.
type Level struct {
	Price  decimal.Decimal
	orders *list.List // of *domain.Order
}

// Total returns the sum of remaining quantity resting at this level.
func (l *Level) Total() decimal.Decimal {
	sum := decimal.Zero
	for e := l.orders.Front(); e != nil; e = e.Next() {
		sum = sum.Add(e.Value.(*domain.Order).Remaining())
	}
	return sum
}

// Count returns the number of resting orders at this level.
func (l *Level) Count() int { return l.orders.Len() }

// Front returns the oldest resting order at this level, or nil if empty.
func (l *Level) Front() *domain.Order {
	if e := l.orders.Front(); e != nil {
		return e.Value.(*domain.Order)
	}
	return nil
}

// ladder is one side (bids or asks) of the book.
type ladder struct {
	side       domain.Side
	levels     map[string]*Level // price.String() -> level
	priceKeys  []decimal.Decimal // sorted: bids descending, asks ascending
	descending bool
	byOrderID  map[string]*list.Element
	levelOf    map[string]*Level
}

func newLadder(side domain.Side) *ladder {
	return &ladder{
		side:       side,
		levels:     make(map[string]*Level),
		descending: side == domain.SideBuy,
		byOrderID:  make(map[string]*list.Element),
		levelOf:    make(map[string]*Level),
	}
}

func (l *ladder) insertKey(p decimal.Decimal) {
	i := sort.Search(len(l.priceKeys), func(i int) bool {
		if l.descending {
			return l.priceKeys[i].LessThanOrEqual(p)
		}
		return l.priceKeys[i].GreaterThanOrEqual(p)
	})
	l.priceKeys = append(l.priceKeys, decimal.Zero)
	copy(l.priceKeys[i+1:], l.priceKeys[i:])
	l.priceKeys[i] = p
}

func (l *ladder) removeKey(p decimal.Decimal) {
	for i, k := range l.priceKeys {
		if k.Equal(p) {
			l.priceKeys = append(l.priceKeys[:i], l.priceKeys[i+1:]...)
			return
		}
	}
}

func (l *ladder) best() *Level {
	if len(l.priceKeys) == 0 {
		return nil
	}
	return l.levels[l.priceKeys[0].String()]
}

func (l *ladder) add(order *domain.Order) {
	key := order.Price.String()
	lvl, ok := l.levels[key]
	if !ok {
		lvl = &Level{Price: order.Price, orders: list.New()}
		l.levels[key] = lvl
		l.insertKey(order.Price)
	}
	elem := lvl.orders.PushBack(order)
	l.byOrderID[order.OrderID] = elem
	l.levelOf[order.OrderID] = lvl
}

func (l *ladder) remove(orderID string) bool {
	elem, ok := l.byOrderID[orderID]
	if !ok {
		return false
	}
	lvl := l.levelOf[orderID]
	lvl.orders.Remove(elem)
	delete(l.byOrderID, orderID)
	delete(l.levelOf, orderID)
	if lvl.orders.Len() == 0 {
		delete(l.levels, lvl.Price.String())
		l.removeKey(lvl.Price)
	}
	return true
}

// popFront is called by the matching loop once a resting order at the
// front of the best level is fully consumed; it removes it from the level
// (and the level, if now empty).
func (l *ladder) popFront(lvl *Level) {
	front := lvl.orders.Front()
	order := front.Value.(*domain.Order)
	lvl.orders.Remove(front)
	delete(l.byOrderID, order.OrderID)
	delete(l.levelOf, order.OrderID)
	if lvl.orders.Len() == 0 {
		delete(l.levels, lvl.Price.String())
		l.removeKey(lvl.Price)
	}
}

func (l *ladder) depth(n int) []PriceQty {
	out := make([]PriceQty, 0, n)
	for i := 0; i < len(l.priceKeys) && i < n; i++ {
		lvl := l.levels[l.priceKeys[i].String()]
		out = append(out, PriceQty{Price: lvl.Price, Quantity: lvl.Total()})
	}
	return out
}

// PriceQty is one aggregated depth row.
type PriceQty struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Book is the per-symbol order book.
type Book struct {
	Symbol string

	mu            sync.RWMutex
	bids          *ladder
	asks          *ladder
	lastUpdateID  int64
	lastPrice     decimal.Decimal
	logger        *zap.Logger
}

// New creates an empty order book for symbol.
func New(symbol string, logger *zap.Logger) *Book {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Book{
		Symbol: symbol,
		bids:   newLadder(domain.SideBuy),
		asks:   newLadder(domain.SideSell),
		logger: logger,
	}
}

func (b *Book) ladderFor(side domain.Side) *ladder {
	if side == domain.SideBuy {
		return b.bids
	}
	return b.asks
}

// Insert adds a resting order to its side's book. Caller (MatchingEngine)
// must already have determined the order has remaining quantity and should
// rest.
func (b *Book) Insert(order *domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ladderFor(order.Side).add(order)
	b.lastUpdateID++
	b.logger.Debug("order inserted into book",
		zap.String("symbol", b.Symbol),
		zap.String("order_id", order.OrderID),
		zap.String("side", string(order.Side)),
		zap.String("price", order.Price.String()))
}

// Remove removes a resting order by id. Returns false if not found.
func (b *Book) Remove(side domain.Side, orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ok := b.ladderFor(side).remove(orderID)
	if ok {
		b.lastUpdateID++
	}
	return ok
}

// Best returns the best level on a side, or nil if that side is empty.
func (b *Book) Best(side domain.Side) *Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ladderFor(side).best()
}

// PopFront removes the oldest order from a given level on a given side. Used
// by the matching loop when a resting order is fully consumed.
func (b *Book) PopFront(side domain.Side, lvl *Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ladderFor(side).popFront(lvl)
	b.lastUpdateID++
}

// RecordTrade stamps the last traded price and bumps last_update_id.
func (b *Book) RecordTrade(price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPrice = price
	b.lastUpdateID++
}

// LastPrice returns the most recent trade price (zero value if none yet).
func (b *Book) LastPrice() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPrice
}

// LastUpdateID returns the monotonically increasing mutation sequence number.
func (b *Book) LastUpdateID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateID
}

// Depth returns up to n aggregated levels per side, bids first.
func (b *Book) Depth(n int) (bids, asks []PriceQty) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.depth(n), b.asks.depth(n)
}

// BestBidAsk returns the best bid and ask prices, or zero decimals if a side
// is empty — used by the exchange ticker.
func (b *Book) BestBidAsk() (bid, ask decimal.Decimal, hasBid, hasAsk bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if lvl := b.bids.best(); lvl != nil {
		bid, hasBid = lvl.Price, true
	}
	if lvl := b.asks.best(); lvl != nil {
		ask, hasAsk = lvl.Price, true
	}
	return
}
