// Package wsgateway implements the Binance-compatible WebSocket façade:
// public market streams and an authenticated private user-data
// stream, each multiplexed over a single gorilla/websocket connection.
// Each connection runs a buffered send channel plus read/write pump
// goroutines with ping/pong liveness, and the private channel is gated by
// Binance's renewable listen-key contract (see listenkey.go) rather than a
// JWT bearer session.
package wsgateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/tradsys/vexchange/internal/exchange"
	"github.com/tradsys/vexchange/internal/notify"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = pongTimeout * 9 / 10
	sendBuffer   = 256
	readLimit    = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway owns every live WebSocket connection and the stream subscriptions
// multiplexed onto each.
type Gateway struct {
	ex                  *exchange.Exchange
	keys                *KeyManager
	defaultAvgPriceMins int
	logger              *zap.Logger

	mu          sync.Mutex
	connections map[string]*connection
}

// NewGateway builds a Gateway serving data from ex.
func NewGateway(ex *exchange.Exchange, keys *KeyManager, defaultAvgPriceMins int, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		ex:                  ex,
		keys:                keys,
		defaultAvgPriceMins: defaultAvgPriceMins,
		logger:              logger,
		connections:         make(map[string]*connection),
	}
}

// connection is one upgraded client, public or private.
type connection struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	gw     *Gateway
	userID string // empty for public-only connections

	mu   sync.Mutex
	subs map[string]string // stream/topic name -> bus subscription id
}

func (g *Gateway) newConnection(ws *websocket.Conn) *connection {
	c := &connection{
		id:   ksuid.New().String(),
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		gw:   g,
		subs: make(map[string]string),
	}
	g.mu.Lock()
	g.connections[c.id] = c
	g.mu.Unlock()
	return c
}

func (g *Gateway) removeConnection(c *connection) {
	g.mu.Lock()
	delete(g.connections, c.id)
	g.mu.Unlock()

	c.mu.Lock()
	for _, subID := range c.subs {
		g.ex.Unsubscribe(subID)
	}
	c.subs = nil
	c.mu.Unlock()
	close(c.send)
}

// ServeMarketStreams upgrades the request to a WebSocket and subscribes it
// to every stream named by the "streams" (comma separated) or "stream"
// query parameter, following Binance's combined-stream endpoint convention.
func (g *Gateway) ServeMarketStreams(w http.ResponseWriter, r *http.Request) error {
	names := streamNamesFromRequest(r)
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := g.newConnection(ws)
	for _, name := range names {
		if err := g.subscribeStream(c, name); err != nil {
			g.logger.Warn("wsgateway: rejecting invalid stream", zap.String("stream", name), zap.Error(err))
		}
	}
	go c.writePump()
	go c.readPump()
	return nil
}

// ServeUserStream upgrades the request to a WebSocket authenticated by the
// "listenKey" query parameter and relays that user's private order/trade
// events.
func (g *Gateway) ServeUserStream(w http.ResponseWriter, r *http.Request) error {
	listenKey := r.URL.Query().Get("listenKey")
	userID, err := g.keys.Authenticate(listenKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return err
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := g.newConnection(ws)
	c.userID = userID
	subID, subErr := g.ex.SubscribeUser(userID, func(payload []byte) {
		g.relayUserEvent(c, payload)
	})
	if subErr != nil {
		g.logger.Error("wsgateway: failed to subscribe private stream", zap.String("user_id", userID), zap.Error(subErr))
	} else {
		c.mu.Lock()
		c.subs["user."+userID] = subID
		c.mu.Unlock()
	}
	go c.writePump()
	go c.readPump()
	return nil
}

func (g *Gateway) relayUserEvent(c *connection, payload []byte) {
	var evt notify.OrderEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		g.logger.Error("wsgateway: malformed order event", zap.Error(err))
		return
	}
	out := userStreamPayload{EventType: "executionReport", EventTime: evt.Order.UpdateTime, Event: evt}
	c.trySend(out)
}

// subscribeStream wires one parsed "<symbol>@<channel>" stream name onto c.
// Trade/ticker/avgPrice/depth/kline streams are all driven off the symbol's
// trade feed (the only push source this engine's notify.Bus exposes);
// each callback recomputes the stream's own view from current exchange
// state rather than replaying the triggering trade verbatim.
func (g *Gateway) subscribeStream(c *connection, name string) error {
	ps, err := parseStream(name)
	if err != nil {
		return err
	}
	subID, err := g.ex.SubscribeMarket(ps.Symbol, func(payload []byte) {
		g.dispatchMarketEvent(c, ps, payload)
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[ps.Name] = subID
	c.mu.Unlock()
	return nil
}

func (g *Gateway) unsubscribeStream(c *connection, name string) {
	c.mu.Lock()
	subID, ok := c.subs[name]
	if ok {
		delete(c.subs, name)
	}
	c.mu.Unlock()
	if ok {
		g.ex.Unsubscribe(subID)
	}
}

func (g *Gateway) dispatchMarketEvent(c *connection, ps parsedStream, payload []byte) {
	var evt notify.TradeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		g.logger.Error("wsgateway: malformed trade event", zap.Error(err))
		return
	}
	now := time.UnixMilli(evt.Trade.Timestamp)
	switch ps.Kind {
	case streamTrade:
		c.trySend(envelope(ps.Name, newTradeStreamPayload(evt.Trade, now)))
	case streamDepth:
		if out, err := newDepthStreamPayload(ps.Symbol, g.ex, now); err == nil {
			c.trySend(envelope(ps.Name, out))
		}
	case streamTicker:
		if out, err := newTickerStreamPayload(ps.Symbol, g.ex, now); err == nil {
			c.trySend(envelope(ps.Name, out))
		}
	case streamAvgPrice:
		if out, err := newAvgPriceStreamPayload(ps.Symbol, g.ex, g.defaultAvgPriceMins, now); err == nil {
			c.trySend(envelope(ps.Name, out))
		}
	case streamKline:
		if ks, err := g.ex.Klines(ps.Symbol, ps.Interval, 1); err == nil && len(ks) > 0 {
			rows := exchange.Rows(ks)
			c.trySend(envelope(ps.Name, rows[len(rows)-1]))
		}
	}
}

// envelope wraps a stream payload the way Binance's combined-stream endpoint
// does: {"stream": "<name>", "data": {...}}.
func envelope(stream string, data interface{}) map[string]interface{} {
	return map[string]interface{}{"stream": stream, "data": data}
}

func (c *connection) trySend(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.gw.logger.Error("wsgateway: marshal outbound message failed", zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
		c.gw.logger.Warn("wsgateway: send buffer full, dropping message", zap.String("connection_id", c.id))
	}
}

// clientCommand is a Binance-style JSON-RPC control message:
// {"method":"SUBSCRIBE","params":["btcusd@trade"],"id":1}.
type clientCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (c *connection) readPump() {
	defer func() {
		c.gw.removeConnection(c)
		c.ws.Close()
	}()
	c.ws.SetReadLimit(readLimit)
	c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			continue
		}
		switch cmd.Method {
		case "SUBSCRIBE":
			for _, s := range cmd.Params {
				if err := c.gw.subscribeStream(c, s); err != nil {
					c.gw.logger.Warn("wsgateway: SUBSCRIBE rejected", zap.String("stream", s), zap.Error(err))
				}
			}
			c.trySend(map[string]interface{}{"result": nil, "id": cmd.ID})
		case "UNSUBSCRIBE":
			for _, s := range cmd.Params {
				c.gw.unsubscribeStream(c, s)
			}
			c.trySend(map[string]interface{}{"result": nil, "id": cmd.ID})
		case "LIST_SUBSCRIPTIONS":
			c.mu.Lock()
			names := make([]string, 0, len(c.subs))
			for name := range c.subs {
				names = append(names, name)
			}
			c.mu.Unlock()
			c.trySend(map[string]interface{}{"result": names, "id": cmd.ID})
		}
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamNamesFromRequest extracts requested stream names from either a
// combined "streams" parameter (comma separated) or a single "stream"
// parameter.
func streamNamesFromRequest(r *http.Request) []string {
	q := r.URL.Query()
	if combined := q.Get("streams"); combined != "" {
		return strings.Split(combined, ",")
	}
	if single := q.Get("stream"); single != "" {
		return []string{single}
	}
	return nil
}
