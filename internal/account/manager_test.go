package account

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestDepositAndWithdraw(t *testing.T) {
	m := New(nil)
	m.RegisterUser("alice")

	require.NoError(t, m.Deposit("alice", "USDT", d("100")))
	bal := m.Balance("alice", "USDT")
	assert.True(t, bal.Free.Equal(d("100")))
	assert.True(t, bal.Locked.IsZero())

	require.NoError(t, m.Withdraw("alice", "USDT", d("40")))
	bal = m.Balance("alice", "USDT")
	assert.True(t, bal.Free.Equal(d("60")))

	err := m.Withdraw("alice", "USDT", d("1000"))
	assert.Error(t, err)
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	m := New(nil)
	m.RegisterUser("alice")
	assert.Error(t, m.Deposit("alice", "USDT", d("0")))
	assert.Error(t, m.Deposit("alice", "USDT", d("-5")))
}

func TestReserveAndRelease(t *testing.T) {
	m := New(nil)
	m.RegisterUser("alice")
	require.NoError(t, m.Deposit("alice", "USDT", d("100")))

	ok := m.Reserve("alice", "USDT", d("30"))
	require.True(t, ok)
	bal := m.Balance("alice", "USDT")
	assert.True(t, bal.Free.Equal(d("70")))
	assert.True(t, bal.Locked.Equal(d("30")))

	ok = m.Reserve("alice", "USDT", d("1000"))
	assert.False(t, ok, "insufficient free balance must not partially reserve")
	bal = m.Balance("alice", "USDT")
	assert.True(t, bal.Free.Equal(d("70")), "a failed reserve must not mutate balance")

	m.Release("alice", "USDT", d("10"))
	bal = m.Balance("alice", "USDT")
	assert.True(t, bal.Free.Equal(d("80")))
	assert.True(t, bal.Locked.Equal(d("20")))
}

func TestReleaseBeyondLockedPanics(t *testing.T) {
	m := New(nil)
	m.RegisterUser("alice")
	require.NoError(t, m.Deposit("alice", "USDT", d("10")))
	require.True(t, m.Reserve("alice", "USDT", d("10")))
	assert.Panics(t, func() {
		m.Release("alice", "USDT", d("20"))
	})
}

func TestSettleFillConservesValueAndSplitsCommissionByLeg(t *testing.T) {
	m := New(nil)
	m.RegisterUser("buyer")
	m.RegisterUser("seller")

	require.NoError(t, m.Deposit("buyer", "USDT", d("1000")))
	require.NoError(t, m.Deposit("seller", "BTC", d("10")))

	require.True(t, m.Reserve("buyer", "USDT", d("500"))) // 5 BTC @ 100
	require.True(t, m.Reserve("seller", "BTC", d("5")))

	legs := FillLegs{
		BuyUserID:           "buyer",
		SellUserID:          "seller",
		BaseAsset:           "BTC",
		QuoteAsset:          "USDT",
		Price:               d("100"),
		Quantity:            d("5"),
		BuyerCommissionRate: d("0.001"),
		SellerCommissionRate: d("0.001"),
	}
	buyCommission, sellCommission := m.SettleFill(legs)

	assert.True(t, buyCommission.Equal(d("0.005")), "buyer commission is charged in base asset units")
	assert.True(t, sellCommission.Equal(d("0.5")), "seller commission is charged in quote asset units")

	buyerBTC := m.Balance("buyer", "BTC")
	assert.True(t, buyerBTC.Free.Equal(d("5").Sub(buyCommission)))

	sellerUSDT := m.Balance("seller", "USDT")
	assert.True(t, sellerUSDT.Free.Equal(d("500").Sub(sellCommission)))

	// Reservations for the matched quantity must be fully drained.
	assert.True(t, m.Balance("buyer", "USDT").Locked.IsZero())
	assert.True(t, m.Balance("seller", "BTC").Locked.IsZero())

	assert.True(t, m.FeeBalance("BTC").Equal(buyCommission))
	assert.True(t, m.FeeBalance("USDT").Equal(sellCommission))
}

func TestSettleFillSameUserBothSides(t *testing.T) {
	m := New(nil)
	m.RegisterUser("solo")
	require.NoError(t, m.Deposit("solo", "USDT", d("100")))
	require.NoError(t, m.Deposit("solo", "BTC", d("1")))
	require.True(t, m.Reserve("solo", "USDT", d("100")))
	require.True(t, m.Reserve("solo", "BTC", d("1")))

	legs := FillLegs{
		BuyUserID:            "solo",
		SellUserID:           "solo",
		BaseAsset:            "BTC",
		QuoteAsset:           "USDT",
		Price:                d("100"),
		Quantity:             d("1"),
		BuyerCommissionRate:  decimal.Zero,
		SellerCommissionRate: decimal.Zero,
	}
	assert.NotPanics(t, func() { m.SettleFill(legs) })
}

func TestUserIDsEnumeratesRegisteredUsers(t *testing.T) {
	m := New(nil)
	m.RegisterUser("alice")
	m.RegisterUser("bob")
	ids := m.UserIDs()
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)
}

func TestConcurrentReservationsNeverOverdraw(t *testing.T) {
	m := New(nil)
	m.RegisterUser("alice")
	require.NoError(t, m.Deposit("alice", "USDT", d("100")))

	var wg sync.WaitGroup
	successes := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			successes <- m.Reserve("alice", "USDT", d("10"))
		}()
	}
	wg.Wait()
	close(successes)

	ok := 0
	for s := range successes {
		if s {
			ok++
		}
	}
	assert.Equal(t, 10, ok, "exactly 10 reservations of 10 should succeed against a balance of 100")
	bal := m.Balance("alice", "USDT")
	assert.True(t, bal.Locked.Equal(d("100")))
	assert.True(t, bal.Free.IsZero())
}
