package notify

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradsys/vexchange/internal/domain"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestSubscribeUserReceivesNotifyOrder(t *testing.T) {
	b := New(nil, 16)

	var mu sync.Mutex
	var received []OrderEvent
	_, err := b.SubscribeUser("alice", func(payload []byte) {
		var ev OrderEvent
		require.NoError(t, json.Unmarshal(payload, &ev))
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	})
	require.NoError(t, err)

	order := &domain.Order{OrderID: "1", UserID: "alice", Symbol: "BTCUSDT", Status: domain.StatusNew}
	b.NotifyOrder(order, domain.ChangeNew, "")

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.ChangeNew, received[0].Change)
	assert.Equal(t, "1", received[0].Order.OrderID)
}

func TestSubscribeMarketReceivesNotifyTrade(t *testing.T) {
	b := New(nil, 16)

	var mu sync.Mutex
	var received []TradeEvent
	_, err := b.SubscribeMarket("BTCUSDT", func(payload []byte) {
		var ev TradeEvent
		require.NoError(t, json.Unmarshal(payload, &ev))
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	})
	require.NoError(t, err)

	trade := &domain.Trade{TradeID: 1, Symbol: "BTCUSDT", Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1)}
	b.NotifyTrade(trade)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, received[0].Trade.Price.Equal(decimal.NewFromInt(100)))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil, 16)

	var mu sync.Mutex
	count := 0
	id, err := b.SubscribeUser("bob", func(payload []byte) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	order := &domain.Order{OrderID: "1", UserID: "bob", Symbol: "BTCUSDT", Status: domain.StatusNew}
	b.NotifyOrder(order, domain.ChangeNew, "")
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	b.Unsubscribe(id)
	b.NotifyOrder(order, domain.ChangeCanceled, "")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count, "no further callbacks should fire after Unsubscribe")
}

// TestEnqueueNeverBlocksWhenOutboxIsFull exercises the drop-oldest
// backpressure policy directly: with no drain goroutine running and the
// queue filled to capacity, enqueue must still return immediately rather
// than block the caller (the matching engine's symbol lock).
func TestEnqueueNeverBlocksWhenOutboxIsFull(t *testing.T) {
	b := &Bus{outbox: make(chan outboxEntry, 2)}

	b.outbox <- outboxEntry{topic: "t", msg: nil}
	b.outbox <- outboxEntry{topic: "t", msg: nil}

	done := make(chan struct{})
	go func() {
		b.enqueue("t", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked instead of dropping the oldest entry")
	}

	assert.Equal(t, 2, len(b.outbox), "outbox should remain at capacity, not grow")
}

func TestNewDefaultsBufferSizeWhenNonPositive(t *testing.T) {
	b := New(nil, 0)
	assert.Equal(t, 1000, cap(b.outbox))
}
