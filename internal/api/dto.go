package api

// submitOrderRequest binds POST /api/v3/order's form/query parameters,
// following Binance's field names exactly.
type submitOrderRequest struct {
	Symbol              string `form:"symbol" validate:"required"`
	Side                string `form:"side" validate:"required,oneof=BUY SELL"`
	Type                string `form:"type" validate:"required"`
	TimeInForce         string `form:"timeInForce"`
	Quantity            string `form:"quantity"`
	QuoteOrderQty       string `form:"quoteOrderQty"`
	Price               string `form:"price"`
	StopPrice           string `form:"stopPrice"`
	NewClientOrderID    string `form:"newClientOrderId"`
	SelfTradePreventionMode string `form:"selfTradePreventionMode"`
	PriceMatch          string `form:"priceMatch"`
}

// orderResponse is the Binance-shaped order representation returned by
// submit/query/cancel/openOrders/allOrders.
type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             string `json:"orderId"`
	OrderListID         int    `json:"orderListId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	StopPrice           string `json:"stopPrice"`
	Time                int64  `json:"time"`
	UpdateTime          int64  `json:"updateTime"`
	IsWorking           bool   `json:"isWorking"`
	SelfTradePreventionMode string `json:"selfTradePreventionMode"`
}

// tradeFillResponse is one element of submit_order's "fills" array.
type tradeFillResponse struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	TradeID         int64  `json:"tradeId"`
}

// submitOrderResponse extends orderResponse with the fills Binance's
// POST /order returns for market/limit orders that filled immediately.
type submitOrderResponse struct {
	orderResponse
	TransactTime int64               `json:"transactTime"`
	Fills        []tradeFillResponse `json:"fills"`
}
