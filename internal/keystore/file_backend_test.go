package keystore

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *FileBackend {
	t.Helper()
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestFileBackend_GenerateAndGetSecret(t *testing.T) {
	b := newTestBackend(t)

	pub, err := b.Generate(KeyTypeECDSA, "operator")
	require.NoError(t, err)
	assert.Len(t, pub, 33, "compressed secp256k1 public key is 33 bytes")

	secret, err := b.GetSecret(KeyTypeECDSA, "operator")
	require.NoError(t, err)
	assert.Len(t, secret, 32)

	priv, derivedPub := btcec.PrivKeyFromBytes(secret)
	require.NotNil(t, priv)
	assert.Equal(t, pub, derivedPub.SerializeCompressed())
}

func TestFileBackend_InsertThenRoundTrip(t *testing.T) {
	b := newTestBackend(t)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	require.NoError(t, b.Insert(KeyTypeECDSA, "imported", priv.Serialize()))

	secret, err := b.GetSecret(KeyTypeECDSA, "imported")
	require.NoError(t, err)
	assert.Equal(t, priv.Serialize(), secret)
}

func TestFileBackend_ListAndFirstLocal(t *testing.T) {
	b := newTestBackend(t)

	_, err := b.Generate(KeyTypeECDSA, "b-key")
	require.NoError(t, err)
	_, err = b.Generate(KeyTypeECDSA, "a-key")
	require.NoError(t, err)

	names, err := b.ListLocal(KeyTypeECDSA)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-key", "b-key"}, names)

	first, pub, err := b.FirstLocal(KeyTypeECDSA)
	require.NoError(t, err)
	assert.Equal(t, "a-key", first)
	assert.Len(t, pub, 33)
}

func TestFileBackend_ListLocalEmptyIsNotError(t *testing.T) {
	b := newTestBackend(t)
	names, err := b.ListLocal(KeyTypeECDSA)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFileBackend_FirstLocalEmptyFails(t *testing.T) {
	b := newTestBackend(t)
	_, _, err := b.FirstLocal(KeyTypeECDSA)
	assert.Error(t, err)
}

func TestFileBackend_RejectsUnsupportedKeyType(t *testing.T) {
	b := newTestBackend(t)

	_, err := b.Generate(KeyTypeBN254, "x")
	assert.ErrorIs(t, err, ErrUnsupportedKeyType)

	err = b.Insert(KeyTypeBN254, "x", make([]byte, 32))
	assert.ErrorIs(t, err, ErrUnsupportedKeyType)
}

func TestFileBackend_InsertRejectsWrongSecretLength(t *testing.T) {
	b := newTestBackend(t)
	err := b.Insert(KeyTypeECDSA, "short", []byte{1, 2, 3})
	assert.Error(t, err)
}
