package wsgateway

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"

	"github.com/tradsys/vexchange/internal/apierror"
)

// DefaultListenKeyTTL is the validity window used when NewKeyManager is
// given a non-positive ttl, matching Binance's userDataStream
// contract.
const DefaultListenKeyTTL = 30 * time.Minute

// listenKeyClaims binds a listen key to the user it was minted for. It
// carries no exp claim: unlike the HMAC request signatures in internal/api,
// a listen key's validity window is extended in place by keepalive calls
// without changing the token string, so expiry lives in the side cache
// below rather than in the JWT itself.
type listenKeyClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// KeyManager mints and tracks listen keys for the private user-data stream,
// implementing Binance's renewable-listen-key contract by pairing a JWT
// (proves the key was minted by this server, for this user) with a
// patrickmn/go-cache TTL entry that tracks whether it is still alive and is
// reset on every keepalive, rather than encoding an expiry inside the signed
// token itself.
type KeyManager struct {
	secret []byte
	ttl    time.Duration
	live   *cache.Cache
}

// NewKeyManager builds a KeyManager signing with secret. ttl of zero or less
// falls back to DefaultListenKeyTTL.
func NewKeyManager(secret string, ttl time.Duration) *KeyManager {
	if ttl <= 0 {
		ttl = DefaultListenKeyTTL
	}
	return &KeyManager{
		secret: []byte(secret),
		ttl:    ttl,
		live:   cache.New(ttl, ttl/2),
	}
}

// Create mints a new listen key for userID and marks it live for ttl.
func (k *KeyManager) Create(userID string) (string, error) {
	claims := &listenKeyClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
			Subject:  userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	key, err := token.SignedString(k.secret)
	if err != nil {
		return "", err
	}
	k.live.SetDefault(key, userID)
	return key, nil
}

// KeepAlive extends a listen key's liveness window by another ttl
// without changing the key string, matching Binance's PUT /userDataStream.
func (k *KeyManager) KeepAlive(key string) error {
	userID, err := k.userFor(key)
	if err != nil {
		return err
	}
	k.live.SetDefault(key, userID)
	return nil
}

// Close revokes a listen key immediately.
func (k *KeyManager) Close(key string) error {
	if _, err := k.userFor(key); err != nil {
		return err
	}
	k.live.Delete(key)
	return nil
}

// Authenticate validates key's signature and liveness and returns the user
// id it was minted for. Used by the WebSocket upgrade handler to gate
// subscription to a private user-data stream.
func (k *KeyManager) Authenticate(key string) (string, error) {
	return k.userFor(key)
}

func (k *KeyManager) userFor(key string) (string, error) {
	token, err := jwt.ParseWithClaims(key, &listenKeyClaims{}, func(t *jwt.Token) (interface{}, error) {
		return k.secret, nil
	})
	if err != nil || !token.Valid {
		return "", apierror.Unauthorized("Invalid listen key.")
	}
	if _, ok := k.live.Get(key); !ok {
		return "", apierror.Unauthorized("Listen key expired.")
	}
	claims, ok := token.Claims.(*listenKeyClaims)
	if !ok {
		return "", apierror.Unauthorized("Invalid listen key.")
	}
	return claims.UserID, nil
}
