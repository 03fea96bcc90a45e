package authproxy

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/require"
)

func TestVerifyChallenge_ECDSARoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	challenge, err := generateChallenge()
	require.NoError(t, err)

	hash := sha256.Sum256(challenge)
	sig := ecdsa.Sign(priv, hash[:])
	sigBytes := append(padTo32(sig.R().Bytes()), padTo32(sig.S().Bytes())...)

	pubKey := priv.PubKey().SerializeCompressed()

	ok, err := verifyChallenge(challenge, sigBytes, pubKey, KeyTypeECDSA)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyChallenge_ECDSARejectsWrongKey(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	challenge, err := generateChallenge()
	require.NoError(t, err)

	hash := sha256.Sum256(challenge)
	sig := ecdsa.Sign(priv, hash[:])
	sigBytes := append(padTo32(sig.R().Bytes()), padTo32(sig.S().Bytes())...)

	ok, err := verifyChallenge(challenge, sigBytes, other.PubKey().SerializeCompressed(), KeyTypeECDSA)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyChallenge_Ed25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	challenge, err := generateChallenge()
	require.NoError(t, err)

	sig := ed25519.Sign(priv, challenge)

	ok, err := verifyChallenge(challenge, sig, pub, KeyTypeEd25519)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyChallenge_Sr25519Unsupported(t *testing.T) {
	challenge, err := generateChallenge()
	require.NoError(t, err)

	_, err = verifyChallenge(challenge, []byte("sig"), []byte("pub"), KeyTypeSr25519)
	require.Error(t, err)
}

func TestVerifyChallenge_UnknownKeyType(t *testing.T) {
	challenge, err := generateChallenge()
	require.NoError(t, err)

	_, err = verifyChallenge(challenge, []byte("sig"), []byte("pub"), KeyType("bogus"))
	require.Error(t, err)
}

func padTo32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
