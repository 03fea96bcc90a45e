package authproxy

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
)

const pasetoHeader = "v4.local."

// AccessTokenClaims is the payload sealed inside a v4.local access token.
type AccessTokenClaims struct {
	ServiceID         blueprint.ServiceID `json:"service_id"`
	ExpiresAt         int64               `json:"expires_at"`
	AdditionalHeaders map[string]string   `json:"additional_headers,omitempty"`
}

// IsExpired reports whether the claims have passed their expiry.
func (c AccessTokenClaims) IsExpired() bool {
	return time.Now().Unix() >= c.ExpiresAt
}

// PasetoManager mints and opens v4.local-shaped access tokens. The seal
// construction follows PASETO v4.local's shape — per-message subkeys
// derived from a root key via BLAKE2b, authenticated encryption of the
// JSON payload — using golang.org/x/crypto/chacha20poly1305's XChaCha20-
// Poly1305 AEAD as the encryption primitive. It is self-consistent (this
// manager is the only issuer and only verifier of its own tokens) rather
// than byte-exact against the PASETO reference implementation.
type PasetoManager struct {
	rootKey [32]byte
}

// NewPasetoManager returns a manager keyed by rootKey, which must be
// exactly 32 bytes (e.g. drawn from the operator's keystore or config).
func NewPasetoManager(rootKey []byte) (*PasetoManager, error) {
	if len(rootKey) != 32 {
		return nil, fmt.Errorf("paseto root key must be 32 bytes, got %d", len(rootKey))
	}
	var key [32]byte
	copy(key[:], rootKey)
	return &PasetoManager{rootKey: key}, nil
}

// Seal encrypts claims into a `v4.local.<base64url>` token.
func (m *PasetoManager) Seal(claims AccessTokenClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal access token claims: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate paseto nonce: %w", err)
	}

	subkey, err := m.deriveSubkey(nonce)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(subkey)
	if err != nil {
		return "", fmt.Errorf("construct aead: %w", err)
	}

	sealed := aead.Seal(nil, nonce, payload, []byte(pasetoHeader))
	body := append(nonce, sealed...)
	return pasetoHeader + base64.RawURLEncoding.EncodeToString(body), nil
}

// Open decrypts and validates a `v4.local.<base64url>` token.
func (m *PasetoManager) Open(token string) (AccessTokenClaims, error) {
	if len(token) <= len(pasetoHeader) {
		return AccessTokenClaims{}, fmt.Errorf("token too short")
	}
	body, err := base64.RawURLEncoding.Strict().DecodeString(token[len(pasetoHeader):])
	if err != nil {
		return AccessTokenClaims{}, fmt.Errorf("decode paseto body: %w", err)
	}
	if len(body) < chacha20poly1305.NonceSizeX {
		return AccessTokenClaims{}, fmt.Errorf("paseto body too short")
	}
	nonce, ciphertext := body[:chacha20poly1305.NonceSizeX], body[chacha20poly1305.NonceSizeX:]

	subkey, err := m.deriveSubkey(nonce)
	if err != nil {
		return AccessTokenClaims{}, err
	}
	aead, err := chacha20poly1305.NewX(subkey)
	if err != nil {
		return AccessTokenClaims{}, fmt.Errorf("construct aead: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(pasetoHeader))
	if err != nil {
		return AccessTokenClaims{}, fmt.Errorf("paseto authentication failed: %w", err)
	}

	var claims AccessTokenClaims
	if err := json.Unmarshal(plaintext, &claims); err != nil {
		return AccessTokenClaims{}, fmt.Errorf("unmarshal access token claims: %w", err)
	}
	return claims, nil
}

// deriveSubkey derives a per-message encryption key from the root key and
// message nonce via keyed BLAKE2b, so no two sealed tokens share a key.
func (m *PasetoManager) deriveSubkey(nonce []byte) ([]byte, error) {
	h, err := blake2b.New256(m.rootKey[:])
	if err != nil {
		return nil, fmt.Errorf("construct blake2b mac: %w", err)
	}
	h.Write([]byte("paseto-encryption-key"))
	h.Write(nonce)
	return h.Sum(nil), nil
}
