package wsgateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateThenAuthenticateReturnsUserID(t *testing.T) {
	km := NewKeyManager("secret", time.Minute)
	key, err := km.Create("alice")
	require.NoError(t, err)
	require.NotEmpty(t, key)

	userID, err := km.Authenticate(key)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestAuthenticateRejectsUnknownKey(t *testing.T) {
	km := NewKeyManager("secret", time.Minute)
	_, err := km.Authenticate("not-a-real-token")
	assert.Error(t, err)
}

func TestAuthenticateRejectsKeySignedWithDifferentSecret(t *testing.T) {
	km1 := NewKeyManager("secret-one", time.Minute)
	km2 := NewKeyManager("secret-two", time.Minute)
	key, err := km1.Create("alice")
	require.NoError(t, err)

	_, err = km2.Authenticate(key)
	assert.Error(t, err)
}

func TestCloseRevokesKeyImmediately(t *testing.T) {
	km := NewKeyManager("secret", time.Minute)
	key, err := km.Create("alice")
	require.NoError(t, err)

	require.NoError(t, km.Close(key))
	_, err = km.Authenticate(key)
	assert.Error(t, err)
}

func TestCloseUnknownKeyErrors(t *testing.T) {
	km := NewKeyManager("secret", time.Minute)
	err := km.Close("bogus")
	assert.Error(t, err)
}

func TestKeepAliveExtendsLivenessPastOriginalTTL(t *testing.T) {
	km := NewKeyManager("secret", 150*time.Millisecond)
	key, err := km.Create("alice")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, km.KeepAlive(key))
	time.Sleep(100 * time.Millisecond)

	// 200ms elapsed since Create, which exceeds the original 150ms ttl, but
	// KeepAlive reset the window at the 100ms mark.
	_, err = km.Authenticate(key)
	assert.NoError(t, err)
}

func TestKeyExpiresWithoutKeepAlive(t *testing.T) {
	km := NewKeyManager("secret", 50*time.Millisecond)
	key, err := km.Create("alice")
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	_, err = km.Authenticate(key)
	assert.Error(t, err)
}

func TestKeepAliveOnUnknownKeyErrors(t *testing.T) {
	km := NewKeyManager("secret", time.Minute)
	err := km.KeepAlive("bogus")
	assert.Error(t, err)
}

func TestNewKeyManagerFallsBackToDefaultTTL(t *testing.T) {
	km := NewKeyManager("secret", 0)
	assert.Equal(t, DefaultListenKeyTTL, km.ttl)
}
