package authproxy

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
)

// tokenEncoding is URL-safe base64 with no padding, matching the manager's
// wire format for both legacy tokens and API keys.
var tokenEncoding = base64.URLEncoding.WithPadding(base64.NoPadding)

// TokenGenerator mints bearer credentials. Every shape shares the same
// entropy source: 40 random bytes plus a 4-byte CRC-32 checksum,
// base64url-no-pad encoded; only the wire framing around that body
// differs between the legacy and API-key shapes. The server only ever
// persists the keccak-256 digest of the final encoded string.
type TokenGenerator struct{}

// NewTokenGenerator returns a generator.
func NewTokenGenerator() *TokenGenerator { return &TokenGenerator{} }

func randomTokenBody() (string, error) {
	raw := make([]byte, 40)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token entropy: %w", err)
	}
	checksum := crc32.ChecksumIEEE(raw)
	checksumBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(checksumBytes, checksum)
	raw = append(raw, checksumBytes...)
	return tokenEncoding.EncodeToString(raw), nil
}

// GeneratedToken is the result of a Generate call: the plaintext to hand
// back to the caller and the digest to persist in the credential store.
type GeneratedToken struct {
	plaintext string
	hashed    string
	ServiceID blueprint.ServiceID
	ExpiresAt *time.Time
}

// Generate mints a legacy-shaped credential body for sid. The returned
// value's Plaintext(id) call renders the final `<id>|<token>` wire form
// once the caller has persisted Hashed() and learned its row id.
func (g *TokenGenerator) Generate(sid blueprint.ServiceID, expiresAt *time.Time) (GeneratedToken, error) {
	body, err := randomTokenBody()
	if err != nil {
		return GeneratedToken{}, err
	}
	return GeneratedToken{
		plaintext: body,
		hashed:    HashLegacyToken("", body),
		ServiceID: sid,
		ExpiresAt: expiresAt,
	}, nil
}

// Plaintext renders the client-facing form of a legacy token,
// `<id>|<token>`, where id is the row the caller persisted the hashed
// form under.
func (t GeneratedToken) Plaintext(id uint64) string {
	return fmt.Sprintf("%d|%s", id, t.plaintext)
}

// Hashed returns the keccak-256 digest to store in the credential store.
func (t GeneratedToken) Hashed() string { return t.hashed }

// GeneratedAPIKey is a long-lived, self-describing credential in
// `<prefix>_<body>.<checksum>` form: unlike legacy tokens it carries no
// store-assigned id, so it is looked up by its digest directly.
type GeneratedAPIKey struct {
	plaintext string
	hashed    string
}

// Plaintext is the full client-facing API key string.
func (k GeneratedAPIKey) Plaintext() string { return k.plaintext }

// Hashed returns the keccak-256 digest to store in the credential store.
func (k GeneratedAPIKey) Hashed() string { return k.hashed }

// GenerateAPIKey mints a long-lived API key tagged with prefix (e.g.
// "ak"), in `<prefix>_<body>.<checksum>` form.
func (g *TokenGenerator) GenerateAPIKey(prefix string) (GeneratedAPIKey, error) {
	body, err := randomTokenBody()
	if err != nil {
		return GeneratedAPIKey{}, err
	}
	check := crc32.ChecksumIEEE([]byte(body))
	checkBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(checkBytes, check)
	checkEncoded := tokenEncoding.EncodeToString(checkBytes)

	plaintext := fmt.Sprintf("%s_%s.%s", prefix, body, checkEncoded)
	return GeneratedAPIKey{
		plaintext: plaintext,
		hashed:    HashLegacyToken("", plaintext),
	}, nil
}

// HashLegacyToken computes the keccak-256 digest of prefix+body, the
// stored form for any bearer credential this manager mints.
func HashLegacyToken(prefix, body string) string {
	return tokenEncoding.EncodeToString(crypto.Keccak256([]byte(prefix + body)))
}
