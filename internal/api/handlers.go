package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tradsys/vexchange/internal/apierror"
	"github.com/tradsys/vexchange/internal/book"
	"github.com/tradsys/vexchange/internal/config"
	"github.com/tradsys/vexchange/internal/domain"
	"github.com/tradsys/vexchange/internal/exchange"
	"github.com/tradsys/vexchange/internal/matching"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) handleTime(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"serverTime": s.ex.Clock.NowMillis()})
}

func (s *Server) handleExchangeInfo(c *gin.Context) {
	symbols := s.ex.ExchangeInfo()
	out := make([]gin.H, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, gin.H{
			"symbol":     sym.Symbol,
			"baseAsset":  sym.BaseAsset,
			"quoteAsset": sym.QuoteAsset,
			"status":     "TRADING",
			"filters": []gin.H{
				{"filterType": "PRICE_FILTER", "minPrice": sym.Price.Min.String(), "maxPrice": sym.Price.Max.String(), "tickSize": sym.Price.Tick.String()},
				{"filterType": "LOT_SIZE", "minQty": sym.Lot.Min.String(), "maxQty": sym.Lot.Max.String(), "stepSize": sym.Lot.Step.String()},
				{"filterType": "MIN_NOTIONAL", "minNotional": sym.MinNotional.String()},
			},
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"serverTime": s.ex.Clock.NowMillis(),
		"symbols":    out,
		"rateLimits": rateLimitsPayload(s.cfg),
	})
}

// rateLimitsPayload renders the Binance `rateLimits` array from the
// configured server rate limits. Only the per-second request limit
// (RateLimitRPS, when positive) is enforced by the middleware, per client IP;
// the ORDERS entry reports RateLimitBurst, which nothing enforces.
func rateLimitsPayload(cfg *config.Config) []gin.H {
	return []gin.H{
		{"rateLimitType": "REQUEST_WEIGHT", "interval": "SECOND", "intervalNum": 1, "limit": cfg.Server.RateLimitRPS},
		{"rateLimitType": "ORDERS", "interval": "SECOND", "intervalNum": 1, "limit": cfg.Server.RateLimitBurst},
		{"rateLimitType": "RAW_REQUESTS", "interval": "MINUTE", "intervalNum": 1, "limit": cfg.Server.RateLimitRPS * 60},
	}
}

func (s *Server) handleTickerPrice(c *gin.Context) {
	symbol := c.Query("symbol")
	t, err := s.ex.Ticker(symbol)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": t.LastPrice.String()})
}

func (s *Server) handleTicker24hr(c *gin.Context) {
	symbol := c.Query("symbol")
	t, err := s.ex.Ticker(symbol)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":    symbol,
		"lastPrice": t.LastPrice.String(),
		"bidPrice":  t.BidPrice.String(),
		"askPrice":  t.AskPrice.String(),
	})
}

func (s *Server) handleDepth(c *gin.Context) {
	symbol := c.Query("symbol")
	limit := s.cfg.Exchange.DepthDefaultLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit > 5000 {
		limit = 5000
	}
	bids, asks, lastUpdateID, err := s.ex.MarketDepth(symbol, limit)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"lastUpdateId": lastUpdateID,
		"bids":         priceQtyRows(bids),
		"asks":         priceQtyRows(asks),
	})
}

func priceQtyRows(rows []book.PriceQty) [][2]string {
	out := make([][2]string, len(rows))
	for i, r := range rows {
		out[i] = [2]string{r.Price.String(), r.Quantity.String()}
	}
	return out
}

func (s *Server) handleTrades(c *gin.Context) {
	symbol := c.Query("symbol")
	limit := 500
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	trades, err := s.ex.RecentTrades(symbol, limit)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	out := make([]gin.H, 0, len(trades))
	for _, t := range trades {
		out = append(out, gin.H{
			"id":           t.TradeID,
			"price":        t.Price.String(),
			"qty":          t.Quantity.String(),
			"quoteQty":     t.QuoteQuantity.String(),
			"time":         t.Timestamp,
			"isBuyerMaker": t.MakerSide == domain.SideBuy,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleKlines(c *gin.Context) {
	symbol := c.Query("symbol")
	interval := c.Query("interval")
	limit := 500
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	ks, err := s.ex.Klines(symbol, interval, limit)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, exchange.Rows(ks))
}

func (s *Server) handleAvgPrice(c *gin.Context) {
	symbol := c.Query("symbol")
	price, err := s.ex.AvgPrice(symbol, s.cfg.Exchange.AvgPriceMins)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mins": s.cfg.Exchange.AvgPriceMins, "price": price.String()})
}

func (s *Server) handleAccount(c *gin.Context) {
	userID, _ := s.userFromContext(c)
	snap := s.ex.AccountInfo(userID)
	balances := make([]gin.H, 0, len(snap.Balances))
	for asset, b := range snap.Balances {
		balances = append(balances, gin.H{"asset": asset, "free": b.Free.String(), "locked": b.Locked.String()})
	}
	c.JSON(http.StatusOK, gin.H{
		"makerCommission":  snap.Commissions.Maker.Mul(decimal.NewFromInt(10000)).IntPart(),
		"takerCommission":  snap.Commissions.Taker.Mul(decimal.NewFromInt(10000)).IntPart(),
		"canTrade":         true,
		"canWithdraw":      false,
		"canDeposit":       true,
		"updateTime":       snap.UpdateTime,
		"permissions":      snap.Permissions,
		"balances":         balances,
	})
}

func (s *Server) handleSubmitOrder(c *gin.Context) {
	userID, _ := s.userFromContext(c)
	var req submitOrderRequest
	if err := c.ShouldBind(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, int(apierror.CodeInvalidMessage), "Mandatory parameter was not sent, was empty/null, or malformed.")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		errorResponse(c, http.StatusBadRequest, int(apierror.CodeInvalidMessage), err.Error())
		return
	}

	sub := matching.SubmitRequest{
		Symbol:              c.Query("symbol"),
		UserID:              userID,
		ClientOrderID:       req.NewClientOrderID,
		Side:                domain.Side(req.Side),
		Type:                domain.Type(req.Type),
		TimeInForce:         domain.TimeInForce(req.TimeInForce),
		SelfTradePrevention: domain.SelfTradePrevention(req.SelfTradePreventionMode),
		PriceMatch:          domain.PriceMatch(req.PriceMatch),
		Price:               parseDecimalOrZero(req.Price),
		StopPrice:           parseDecimalOrZero(req.StopPrice),
		QuoteOrderQty:       parseDecimalOrZero(req.QuoteOrderQty),
		Quantity:            parseDecimalOrZero(req.Quantity),
	}

	order, trades, err := s.ex.SubmitOrder(sub)
	if err != nil {
		// The order was REJECTED — order is still returned with a terminal
		// status, but Binance reports validation/business failures as an
		// error body rather than a 200 order payload.
		writeAPIError(c, err)
		return
	}
	resp := submitOrderResponse{
		orderResponse: toOrderResponse(order),
		TransactTime:  order.UpdateTime,
		Fills:         toFills(order, trades),
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleQueryOrder(c *gin.Context) {
	symbol := c.Query("symbol")
	userID, _ := s.userFromContext(c)
	order, ok := lookupOrder(s, symbol, userID, c.Query("orderId"), c.Query("origClientOrderId"))
	if !ok {
		errorResponse(c, http.StatusBadRequest, int(apierror.CodeNoSuchOrder), "Order does not exist.")
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	symbol := c.Query("symbol")
	userID, _ := s.userFromContext(c)
	orderID := c.Query("orderId")
	if orderID == "" {
		if o, ok := s.ex.Engine.QueryOrderByClientID(userID, c.Query("origClientOrderId")); ok {
			orderID = o.OrderID
		}
	}
	order, err := s.ex.CancelOrder(symbol, userID, orderID)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (s *Server) handleOpenOrders(c *gin.Context) {
	userID, _ := s.userFromContext(c)
	orders := s.ex.OpenOrders(c.Query("symbol"), userID)
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleAllOrders(c *gin.Context) {
	userID, _ := s.userFromContext(c)
	orders := s.ex.AllOrders(c.Query("symbol"), userID)
	limit := 500
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if len(orders) > limit {
		orders = orders[len(orders)-limit:]
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	c.JSON(http.StatusOK, out)
}

// handleCreateListenKey handles POST
// /userDataStream mints a key gating the caller's private WebSocket stream.
func (s *Server) handleCreateListenKey(c *gin.Context) {
	userID, _ := s.userFromContext(c)
	key, err := s.keys.Create(userID)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listenKey": key})
}

// handleKeepAliveListenKey implements keepalive_listen_key: PUT
// /userDataStream extends the key's validity window by another listen-key
// TTL (ws.listen_key_expiry).
func (s *Server) handleKeepAliveListenKey(c *gin.Context) {
	if err := s.keys.KeepAlive(c.Query("listenKey")); err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// handleCloseListenKey implements close_listen_key: DELETE /userDataStream
// revokes the key immediately.
func (s *Server) handleCloseListenKey(c *gin.Context) {
	if err := s.keys.Close(c.Query("listenKey")); err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func lookupOrder(s *Server, symbol, userID, orderID, clientOrderID string) (*domain.Order, bool) {
	if orderID != "" {
		o, ok := s.ex.QueryOrder(symbol, orderID)
		if ok && o.UserID == userID {
			return o, true
		}
		return nil, false
	}
	o, ok := s.ex.Engine.QueryOrderByClientID(userID, clientOrderID)
	if ok && o.Symbol == symbol {
		return o, true
	}
	return nil, false
}

func toOrderResponse(o *domain.Order) orderResponse {
	return orderResponse{
		Symbol:                  o.Symbol,
		OrderID:                 o.OrderID,
		OrderListID:             -1,
		ClientOrderID:           o.ClientOrderID,
		Price:                   o.Price.String(),
		OrigQty:                 o.Quantity.String(),
		ExecutedQty:             o.FilledQuantity.String(),
		CummulativeQuoteQty:     o.FilledQuoteQuantity.String(),
		Status:                  string(o.Status),
		TimeInForce:             string(o.TimeInForce),
		Type:                    string(o.Type),
		Side:                    string(o.Side),
		StopPrice:               o.StopPrice.String(),
		Time:                    o.Timestamp,
		UpdateTime:              o.UpdateTime,
		IsWorking:               o.Status == domain.StatusNew || o.Status == domain.StatusPartiallyFilled,
		SelfTradePreventionMode: string(o.SelfTradePrevention),
	}
}

func toFills(o *domain.Order, trades []*domain.Trade) []tradeFillResponse {
	out := make([]tradeFillResponse, 0, len(trades))
	for _, t := range trades {
		commission := t.SellCommission
		asset := t.SellCommissionAsset
		if o.Side == domain.SideBuy {
			commission = t.BuyCommission
			asset = t.BuyCommissionAsset
		}
		out = append(out, tradeFillResponse{
			Price:           t.Price.String(),
			Qty:             t.Quantity.String(),
			Commission:      commission.String(),
			CommissionAsset: asset,
			TradeID:         t.TradeID,
		})
	}
	return out
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func writeAPIError(c *gin.Context, err error) {
	if ae, ok := err.(*apierror.Error); ok {
		status := http.StatusBadRequest
		switch ae.Severity {
		case apierror.SeverityAuth:
			status = http.StatusUnauthorized
		}
		errorResponse(c, status, int(ae.Code), ae.Msg)
		return
	}
	errorResponse(c, http.StatusInternalServerError, int(apierror.CodeUnknown), err.Error())
}

