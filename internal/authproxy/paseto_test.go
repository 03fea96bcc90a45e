package authproxy

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRootKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestPasetoManager_SealOpenRoundTrip(t *testing.T) {
	mgr, err := NewPasetoManager(testRootKey())
	require.NoError(t, err)

	claims := AccessTokenClaims{
		ServiceID:         9,
		ExpiresAt:         time.Now().Add(time.Hour).Unix(),
		AdditionalHeaders: map[string]string{"x-forwarded-tenant": "acme"},
	}

	token, err := mgr.Seal(claims)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, pasetoHeader))

	opened, err := mgr.Open(token)
	require.NoError(t, err)
	assert.Equal(t, claims, opened)
}

func TestPasetoManager_SealIsNotDeterministic(t *testing.T) {
	mgr, err := NewPasetoManager(testRootKey())
	require.NoError(t, err)

	claims := AccessTokenClaims{ServiceID: 1, ExpiresAt: time.Now().Add(time.Hour).Unix()}
	a, err := mgr.Seal(claims)
	require.NoError(t, err)
	b, err := mgr.Seal(claims)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPasetoManager_OpenRejectsTamperedToken(t *testing.T) {
	mgr, err := NewPasetoManager(testRootKey())
	require.NoError(t, err)

	claims := AccessTokenClaims{ServiceID: 1, ExpiresAt: time.Now().Add(time.Hour).Unix()}
	token, err := mgr.Seal(claims)
	require.NoError(t, err)

	tampered := []byte(token)
	tampered[len(tampered)-1] ^= 0x01
	_, err = mgr.Open(string(tampered))
	assert.Error(t, err)
}

func TestPasetoManager_OpenRejectsForeignKey(t *testing.T) {
	mgr, err := NewPasetoManager(testRootKey())
	require.NoError(t, err)
	other, err := NewPasetoManager(make([]byte, 32))
	require.NoError(t, err)

	token, err := mgr.Seal(AccessTokenClaims{ServiceID: 1, ExpiresAt: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	_, err = other.Open(token)
	assert.Error(t, err)
}

func TestNewPasetoManager_RejectsWrongKeyLength(t *testing.T) {
	_, err := NewPasetoManager([]byte("too-short"))
	assert.Error(t, err)
}

func TestAccessTokenClaims_IsExpired(t *testing.T) {
	expired := AccessTokenClaims{ExpiresAt: time.Now().Add(-time.Minute).Unix()}
	assert.True(t, expired.IsExpired())

	fresh := AccessTokenClaims{ExpiresAt: time.Now().Add(time.Minute).Unix()}
	assert.False(t, fresh.IsExpired())
}
