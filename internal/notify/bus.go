// Package notify implements the exchange's internal pub/sub fan-out on top
// of a ThreeDotsLabs/watermill gochannel pub/sub with topic-based dispatch.
// There is no event-sourcing store behind it, since this exchange keeps no
// durable event log. Each subscriber is wrapped in its own sony/gobreaker
// circuit breaker so one misbehaving callback cannot stall delivery to the
// others. NotifyOrder/NotifyTrade hand their message to a bounded outbox
// queue drained by a dedicated goroutine, rather than publishing to
// gochannel inline, so a subscriber slow enough to fill gochannel's own
// output buffer backpressures the outbox (dropping its oldest queued entry)
// instead of blocking the matching engine's symbol lock.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/segmentio/ksuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/tradsys/vexchange/internal/domain"
)

const (
	marketTopicPrefix = "market."
	userTopicPrefix   = "user."
)

// OrderEvent is the payload published on a user's private topic.
type OrderEvent struct {
	Change domain.ChangeType `json:"change"`
	Reason string            `json:"reason,omitempty"`
	Order  *domain.Order     `json:"order"`
}

// TradeEvent is the payload published on a symbol's public topic.
type TradeEvent struct {
	Trade *domain.Trade `json:"trade"`
}

// outboxEntry is one pending publish, queued off the matching hot path.
type outboxEntry struct {
	topic string
	msg   *message.Message
}

// Bus is the MatchingEngine Notifier implementation used outside tests.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger
	outbox chan outboxEntry

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates a Bus. bufferSize bounds both the gochannel's internal
// per-topic output buffer and the Bus's own outbox queue.
func New(logger *zap.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	wmLogger := watermill.NewStdLogger(false, false)
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(bufferSize),
		Persistent:          false,
	}, wmLogger)
	b := &Bus{
		pubsub:  pubsub,
		logger:  logger,
		outbox:  make(chan outboxEntry, bufferSize),
		cancels: make(map[string]context.CancelFunc),
	}
	go b.runOutbox()
	return b
}

// runOutbox is the sole goroutine that ever calls pubsub.Publish, so a
// subscriber slow enough to fill gochannel's own buffer blocks this
// goroutine rather than NotifyOrder/NotifyTrade's caller.
func (b *Bus) runOutbox() {
	for entry := range b.outbox {
		if err := b.pubsub.Publish(entry.topic, entry.msg); err != nil {
			b.logger.Warn("notify: publish failed", zap.String("topic", entry.topic), zap.Error(err))
		}
	}
}

// enqueue hands msg to the outbox without ever blocking the caller. When the
// outbox is full it drops the oldest queued entry to make room, per the
// documented default backpressure policy.
func (b *Bus) enqueue(topic string, msg *message.Message) {
	entry := outboxEntry{topic: topic, msg: msg}
	select {
	case b.outbox <- entry:
		return
	default:
	}
	select {
	case <-b.outbox:
	default:
	}
	select {
	case b.outbox <- entry:
	default:
	}
}

// NotifyOrder implements matching.Notifier.
func (b *Bus) NotifyOrder(order *domain.Order, change domain.ChangeType, reason string) {
	payload, err := json.Marshal(OrderEvent{Change: change, Reason: reason, Order: order})
	if err != nil {
		b.logger.Error("notify: marshal order event failed", zap.Error(err))
		return
	}
	msg := message.NewMessage(ksuid.New().String(), payload)
	b.enqueue(userTopicPrefix+order.UserID, msg)
}

// NotifyTrade implements matching.Notifier.
func (b *Bus) NotifyTrade(trade *domain.Trade) {
	payload, err := json.Marshal(TradeEvent{Trade: trade})
	if err != nil {
		b.logger.Error("notify: marshal trade event failed", zap.Error(err))
		return
	}
	msg := message.NewMessage(ksuid.New().String(), payload)
	b.enqueue(marketTopicPrefix+trade.Symbol, msg)
}

// SubscribeMarket delivers every TradeEvent published for symbol to cb.
func (b *Bus) SubscribeMarket(symbol string, cb func(payload []byte)) (string, error) {
	return b.subscribe(marketTopicPrefix+symbol, cb)
}

// SubscribeUser delivers every OrderEvent published for userID to cb.
func (b *Bus) SubscribeUser(userID string, cb func(payload []byte)) (string, error) {
	return b.subscribe(userTopicPrefix+userID, cb)
}

// Unsubscribe stops and detaches a previously registered subscription.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	cancel, ok := b.cancels[id]
	delete(b.cancels, id)
	b.mu.Unlock()
	if ok {
		cancel()
	}
}

func (b *Bus) subscribe(topic string, cb func(payload []byte)) (string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return "", err
	}

	id := ksuid.New().String()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        topic + "." + id,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("notify: subscriber circuit breaker state change",
				zap.String("subscriber", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	b.mu.Lock()
	b.cancels[id] = cancel
	b.mu.Unlock()

	go func() {
		for msg := range messages {
			payload := msg.Payload
			_, err := breaker.Execute(func() (interface{}, error) {
				return nil, invokeCallback(cb, payload)
			})
			if err != nil {
				b.logger.Warn("notify: subscriber callback failed or circuit open",
					zap.String("topic", topic), zap.Error(err))
			}
			msg.Ack()
		}
	}()

	return id, nil
}

// invokeCallback recovers a panicking subscriber callback and reports it to
// the circuit breaker as a failure, same as a returned error would.
func invokeCallback(cb func(payload []byte), payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	cb(payload)
	return nil
}

type panicError struct{ v interface{} }

func (p panicError) Error() string { return "notify: subscriber callback panicked" }
