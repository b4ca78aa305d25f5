package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/tradsys/vexchange/internal/domain"
	"github.com/tradsys/vexchange/internal/matching"
	"github.com/tradsys/vexchange/internal/replay"
)

// loadBacktestSource reads a CSV order tape and adapts it to replay.Source.
// Columns: timestamp_ms,user_id,symbol,side,type,time_in_force,price,
// stop_price,quantity,quote_order_qty,self_trade_prevention. Blank numeric
// fields default to zero, blank time_in_force/self_trade_prevention default
// to GTC/NONE. Decimal parsing goes through shopspring/decimal, as
// everywhere else in this codebase.
func loadBacktestSource(path string) (*replay.SliceSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backtest: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var timestamps []int64
	var payloads []interface{}
	lineNo := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backtest: %s:%d: %w", path, lineNo, err)
		}
		lineNo++
		if lineNo == 1 && len(record) > 0 && record[0] == "timestamp_ms" {
			continue // header row
		}
		ts, req, err := parseBacktestRow(record)
		if err != nil {
			return nil, fmt.Errorf("backtest: %s:%d: %w", path, lineNo, err)
		}
		timestamps = append(timestamps, ts)
		payloads = append(payloads, req)
	}
	return replay.NewSliceSource(timestamps, payloads), nil
}

func parseBacktestRow(record []string) (int64, matching.SubmitRequest, error) {
	col := func(i int) string {
		if i < len(record) {
			return record[i]
		}
		return ""
	}
	dec := func(i int) (decimal.Decimal, error) {
		s := col(i)
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	}

	ts, err := strconv.ParseInt(col(0), 10, 64)
	if err != nil {
		return 0, matching.SubmitRequest{}, fmt.Errorf("timestamp_ms: %w", err)
	}
	price, err := dec(6)
	if err != nil {
		return 0, matching.SubmitRequest{}, fmt.Errorf("price: %w", err)
	}
	stopPrice, err := dec(7)
	if err != nil {
		return 0, matching.SubmitRequest{}, fmt.Errorf("stop_price: %w", err)
	}
	quantity, err := dec(8)
	if err != nil {
		return 0, matching.SubmitRequest{}, fmt.Errorf("quantity: %w", err)
	}
	quoteQty, err := dec(9)
	if err != nil {
		return 0, matching.SubmitRequest{}, fmt.Errorf("quote_order_qty: %w", err)
	}

	tif := domain.TimeInForce(col(5))
	if tif == "" {
		tif = domain.TIFGTC
	}
	stp := domain.SelfTradePrevention(col(10))
	if stp == "" {
		stp = domain.STPNone
	}

	req := matching.SubmitRequest{
		Symbol:              col(2),
		UserID:              col(1),
		Side:                domain.Side(col(3)),
		Type:                domain.Type(col(4)),
		TimeInForce:         tif,
		Price:               price,
		StopPrice:           stopPrice,
		Quantity:            quantity,
		QuoteOrderQty:       quoteQty,
		SelfTradePrevention: stp,
	}
	return ts, req, nil
}
