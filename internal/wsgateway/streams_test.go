package wsgateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamTrade(t *testing.T) {
	ps, err := parseStream("btcusdt@trade")
	require.NoError(t, err)
	assert.Equal(t, "btcusdt", ps.Symbol)
	assert.Equal(t, streamTrade, ps.Kind)
	assert.Equal(t, "btcusdt@trade", ps.Name)
}

func TestParseStreamDepth(t *testing.T) {
	ps, err := parseStream("ethusdt@depth")
	require.NoError(t, err)
	assert.Equal(t, "ethusdt", ps.Symbol)
	assert.Equal(t, streamDepth, ps.Kind)
}

func TestParseStreamTicker(t *testing.T) {
	ps, err := parseStream("btcusdt@ticker")
	require.NoError(t, err)
	assert.Equal(t, streamTicker, ps.Kind)
}

func TestParseStreamAvgPrice(t *testing.T) {
	ps, err := parseStream("btcusdt@avgPrice")
	require.NoError(t, err)
	assert.Equal(t, streamAvgPrice, ps.Kind)
}

func TestParseStreamKlineValidInterval(t *testing.T) {
	ps, err := parseStream("btcusdt@kline_1m")
	require.NoError(t, err)
	assert.Equal(t, streamKline, ps.Kind)
	assert.Equal(t, "1m", ps.Interval)
}

func TestParseStreamKlineInvalidIntervalErrors(t *testing.T) {
	_, err := parseStream("btcusdt@kline_7x")
	assert.Error(t, err)
}

func TestParseStreamMissingAtSignErrors(t *testing.T) {
	_, err := parseStream("btcusdttrade")
	assert.Error(t, err)
}

func TestParseStreamEmptySymbolErrors(t *testing.T) {
	_, err := parseStream("@trade")
	assert.Error(t, err)
}

func TestParseStreamUnknownChannelErrors(t *testing.T) {
	_, err := parseStream("btcusdt@bogus")
	assert.Error(t, err)
}
