// Package account implements the AccountManager: the sole
// authoritative owner of user balances. MatchingEngine never reads or writes
// a balance field directly — it only calls Reserve/Release/SettleFill.
package account

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradsys/vexchange/internal/apierror"
)

// Balance is a user's free/locked holding of one asset.
type Balance struct {
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Snapshot is the read-only view returned by Manager.Snapshot: balances,
// permissions, commission rates and the timestamp they were read at.
type Snapshot struct {
	UserID      string
	Balances    map[string]Balance
	Permissions []string
	Commissions CommissionRates
	UpdateTime  int64
}

// CommissionRates is the maker/taker rate pair echoed on an account snapshot,
// mirroring Binance's account response shape.
type CommissionRates struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

type userState struct {
	mu       sync.Mutex
	balances map[string]*Balance
}

// Manager is the per-process account ledger. One sync.Mutex per user
// rather than a single global lock.
type Manager struct {
	mu         sync.RWMutex // guards users/apiKeys maps themselves, not balances
	users      map[string]*userState
	apiKeys    map[string]string // api_key -> user_id
	feeAccount map[string]*decimal.Decimal
	feeMu      sync.Mutex
	logger     *zap.Logger
}

// New creates an empty account ledger.
func New(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		users:      make(map[string]*userState),
		apiKeys:    make(map[string]string),
		feeAccount: make(map[string]*decimal.Decimal),
		logger:     logger,
	}
}

func genAPIKey() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// RegisterUser creates a user with empty balances and returns a freshly
// minted opaque API key.
func (m *Manager) RegisterUser(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		m.users[userID] = &userState{balances: make(map[string]*Balance)}
	}
	key := genAPIKey()
	m.apiKeys[key] = userID
	m.logger.Info("user registered", zap.String("user_id", userID))
	return key
}

// ResolveAPIKey maps an API key back to a user id.
func (m *Manager) ResolveAPIKey(apiKey string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uid, ok := m.apiKeys[apiKey]
	return uid, ok
}

// UserIDs returns every registered user id, for snapshot export
// (internal/persistence) since the ledger has no other enumeration point.
func (m *Manager) UserIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.users))
	for id := range m.users {
		out = append(out, id)
	}
	return out
}

func (m *Manager) state(userID string) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.users[userID]
	if !ok {
		st = &userState{balances: make(map[string]*Balance)}
		m.users[userID] = st
	}
	return st
}

func (st *userState) balance(asset string) *Balance {
	b, ok := st.balances[asset]
	if !ok {
		b = &Balance{Free: decimal.Zero, Locked: decimal.Zero}
		st.balances[asset] = b
	}
	return b
}

// Deposit credits free balance.
func (m *Manager) Deposit(userID, asset string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return apierror.Newf(apierror.CodeInvalidMessage, apierror.SeverityValidation, "deposit amount must be positive")
	}
	st := m.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	b := st.balance(asset)
	b.Free = b.Free.Add(amount)
	return nil
}

// Withdraw debits free balance; fails if insufficient free funds.
func (m *Manager) Withdraw(userID, asset string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return apierror.Newf(apierror.CodeInvalidMessage, apierror.SeverityValidation, "withdraw amount must be positive")
	}
	st := m.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	b := st.balance(asset)
	if b.Free.LessThan(amount) {
		return apierror.InsufficientBalance()
	}
	b.Free = b.Free.Sub(amount)
	return nil
}

// Reserve moves amount from free to locked, atomically. Returns false
// (never partially applied) if free balance is insufficient.
func (m *Manager) Reserve(userID, asset string, amount decimal.Decimal) bool {
	st := m.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	b := st.balance(asset)
	if b.Free.LessThan(amount) {
		return false
	}
	b.Free = b.Free.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	return true
}

// Release is the inverse of Reserve: moves amount back from locked to free.
// Callers pass the exact reservation delta being released.
func (m *Manager) Release(userID, asset string, amount decimal.Decimal) {
	if amount.Sign() == 0 {
		return
	}
	st := m.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	b := st.balance(asset)
	if amount.GreaterThan(b.Locked) {
		// Never let an invariant violation pass silently.
		panic("account: release exceeds locked balance for " + userID + "/" + asset)
	}
	b.Locked = b.Locked.Sub(amount)
	b.Free = b.Free.Add(amount)
}

// FillLegs describes the balance movements for both sides of a trade.
type FillLegs struct {
	BuyUserID, SellUserID               string
	BaseAsset, QuoteAsset               string
	Price, Quantity                     decimal.Decimal
	BuyerCommissionRate, SellerCommissionRate decimal.Decimal
}

// SettleFill atomically applies a trade's balance movements for both
// participants. Buyer and seller
// locks are acquired in a canonical order (lexicographically smaller user id
// first) to avoid deadlocks when two fills on different engine goroutines
// touch the same pair of users in opposite orders.
func (m *Manager) SettleFill(legs FillLegs) (buyCommission, sellCommission decimal.Decimal) {
	quoteAmount := legs.Price.Mul(legs.Quantity)
	buyCommission = legs.Quantity.Mul(legs.BuyerCommissionRate)
	sellCommission = quoteAmount.Mul(legs.SellerCommissionRate)

	buyerSt := m.state(legs.BuyUserID)
	sellerSt := m.state(legs.SellUserID)

	first, second := buyerSt, sellerSt
	if legs.SellUserID < legs.BuyUserID {
		first, second = sellerSt, buyerSt
	}
	if first == second {
		// Same user on both sides of the trade: lock once.
		first.mu.Lock()
		m.applyBuyLeg(buyerSt, legs, buyCommission)
		m.applySellLeg(sellerSt, legs, sellCommission)
		first.mu.Unlock()
	} else {
		first.mu.Lock()
		second.mu.Lock()
		m.applyBuyLeg(buyerSt, legs, buyCommission)
		m.applySellLeg(sellerSt, legs, sellCommission)
		second.mu.Unlock()
		first.mu.Unlock()
	}

	m.creditFee(legs.QuoteAsset, sellCommission)
	m.creditFee(legs.BaseAsset, buyCommission)
	return buyCommission, sellCommission
}

func (m *Manager) applyBuyLeg(st *userState, legs FillLegs, commission decimal.Decimal) {
	quoteLocked := legs.Price.Mul(legs.Quantity)
	q := st.balance(legs.QuoteAsset)
	if quoteLocked.GreaterThan(q.Locked) {
		panic("account: buy settlement exceeds locked quote balance")
	}
	q.Locked = q.Locked.Sub(quoteLocked)
	b := st.balance(legs.BaseAsset)
	b.Free = b.Free.Add(legs.Quantity.Sub(commission))
}

func (m *Manager) applySellLeg(st *userState, legs FillLegs, commission decimal.Decimal) {
	b := st.balance(legs.BaseAsset)
	if legs.Quantity.GreaterThan(b.Locked) {
		panic("account: sell settlement exceeds locked base balance")
	}
	b.Locked = b.Locked.Sub(legs.Quantity)
	quoteAmount := legs.Price.Mul(legs.Quantity)
	q := st.balance(legs.QuoteAsset)
	q.Free = q.Free.Add(quoteAmount.Sub(commission))
}

func (m *Manager) creditFee(asset string, amount decimal.Decimal) {
	if amount.Sign() == 0 {
		return
	}
	m.feeMu.Lock()
	defer m.feeMu.Unlock()
	cur, ok := m.feeAccount[asset]
	if !ok {
		z := decimal.Zero
		cur = &z
		m.feeAccount[asset] = cur
	}
	*cur = cur.Add(amount)
}

// FeeBalance returns the exchange's accumulated commission for an asset.
func (m *Manager) FeeBalance(asset string) decimal.Decimal {
	m.feeMu.Lock()
	defer m.feeMu.Unlock()
	if cur, ok := m.feeAccount[asset]; ok {
		return *cur
	}
	return decimal.Zero
}

// Snapshot returns a point-in-time copy of a user's balances. rates is echoed
// verbatim as the snapshot's commission rates (the account ledger does not
// own commission configuration — matching.Config does).
func (m *Manager) Snapshot(userID string, nowMs int64, rates CommissionRates) Snapshot {
	st := m.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]Balance, len(st.balances))
	for asset, b := range st.balances {
		out[asset] = *b
	}
	return Snapshot{
		UserID:      userID,
		Balances:    out,
		Permissions: []string{"SPOT"},
		Commissions: rates,
		UpdateTime:  nowMs,
	}
}

// Balance returns a copy of a single asset's balance for a user (read-only
// helper; state changes only through Reserve/Release/SettleFill).
func (m *Manager) Balance(userID, asset string) Balance {
	st := m.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return *st.balance(asset)
}
