package persistence

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradsys/vexchange/internal/account"
	"github.com/tradsys/vexchange/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshots.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func samplePayload() Payload {
	return Payload{
		TakenAtMs: 1_700_000_000_000,
		Symbols: []domain.Symbol{
			{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", BasePrecision: 8, QuotePrecision: 2},
		},
		Accounts: map[string]account.Snapshot{
			"alice": {
				UserID: "alice",
				Balances: map[string]account.Balance{
					"BTC":  {Free: decimal.NewFromInt(1), Locked: decimal.Zero},
					"USDT": {Free: decimal.NewFromInt(1000), Locked: decimal.NewFromInt(50)},
				},
				Permissions: []string{"SPOT"},
				UpdateTime:  1_700_000_000_000,
			},
		},
		Orders: []*domain.Order{
			{OrderID: "o1", Symbol: "BTCUSDT", UserID: "alice", Side: domain.SideBuy, Type: domain.TypeLimit,
				Status: domain.StatusFilled, Quantity: decimal.NewFromInt(1), FilledQuantity: decimal.NewFromInt(1)},
		},
		Trades: []*domain.Trade{
			{TradeID: 1, Symbol: "BTCUSDT", Price: decimal.NewFromInt(50000), Quantity: decimal.NewFromInt(1),
				BuyOrderID: "o1", SellOrderID: "o2", BuyUserID: "alice", SellUserID: "bob"},
		},
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := openTestStore(t)
	payload := samplePayload()

	require.NoError(t, s.Save("daily", payload))

	loaded, err := s.Load("daily")
	require.NoError(t, err)

	assert.Equal(t, FormatVersion, loaded.Version)
	assert.Equal(t, payload.TakenAtMs, loaded.TakenAtMs)
	require.Len(t, loaded.Symbols, 1)
	assert.Equal(t, "BTCUSDT", loaded.Symbols[0].Symbol)
	require.Contains(t, loaded.Accounts, "alice")
	assert.True(t, loaded.Accounts["alice"].Balances["USDT"].Locked.Equal(decimal.NewFromInt(50)))
	require.Len(t, loaded.Orders, 1)
	assert.Equal(t, "o1", loaded.Orders[0].OrderID)
	require.Len(t, loaded.Trades, 1)
	assert.True(t, loaded.Trades[0].Price.Equal(decimal.NewFromInt(50000)))
}

func TestSaveOverwritesSameLabel(t *testing.T) {
	s := openTestStore(t)
	first := samplePayload()
	require.NoError(t, s.Save("daily", first))

	second := samplePayload()
	second.TakenAtMs = first.TakenAtMs + 1000
	require.NoError(t, s.Save("daily", second))

	loaded, err := s.Load("daily")
	require.NoError(t, err)
	assert.Equal(t, second.TakenAtMs, loaded.TakenAtMs)
}

func TestLoadUnknownLabelErrors(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load("does-not-exist")
	assert.Error(t, err)
}

func TestLoadRejectsSnapshotOlderThanMinLoadableVersion(t *testing.T) {
	s := openTestStore(t)
	row := snapshotRow{Label: "ancient", Version: "0.1.0", TakenAtMs: 0, Data: []byte{}}
	require.NoError(t, s.db.Save(&row).Error)

	_, err := s.Load("ancient")
	assert.Error(t, err)
}

func TestCheckVersionAcceptsCurrentAndRejectsUnparseable(t *testing.T) {
	assert.NoError(t, checkVersion(FormatVersion))
	assert.Error(t, checkVersion("not-a-version"))
}

func TestSeparateLabelsAreIndependent(t *testing.T) {
	s := openTestStore(t)
	a := samplePayload()
	a.TakenAtMs = 1
	b := samplePayload()
	b.TakenAtMs = 2

	require.NoError(t, s.Save("a", a))
	require.NoError(t, s.Save("b", b))

	loadedA, err := s.Load("a")
	require.NoError(t, err)
	loadedB, err := s.Load("b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loadedA.TakenAtMs)
	assert.Equal(t, int64(2), loadedB.TakenAtMs)
}
