package authproxy

import (
	"strconv"
	"strings"

	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
)

// tokenShape classifies a bearer credential by its wire format, per the
// three coexisting auth methods.
type tokenShape int

const (
	shapeUnknown tokenShape = iota
	shapeLegacy
	shapeAPIKey
	shapeAccessToken
)

const accessTokenPrefix = "v4.local."

// legacyToken is a parsed `<id>|<base64url>` credential. The id names the
// row in the credential store; the base64 portion must hash to the digest
// stored under that row before the credential is trusted.
type legacyToken struct {
	id      uint64
	encoded string
}

// classify inspects a bearer token's shape without yet validating it.
// Access tokens are recognized first (a fixed, unambiguous prefix);
// legacy tokens are detected by the `|` separator from the id; everything
// else containing a `.` is treated as an API key.
func classify(raw string) tokenShape {
	switch {
	case strings.HasPrefix(raw, accessTokenPrefix):
		return shapeAccessToken
	case strings.Contains(raw, "|"):
		return shapeLegacy
	case strings.Contains(raw, "."):
		return shapeAPIKey
	default:
		return shapeUnknown
	}
}

// parseLegacyToken splits `<id>|<base64url>`, rejecting any extra `|`
// separators or a non-numeric id.
func parseLegacyToken(raw string) (legacyToken, error) {
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 2 {
		return legacyToken{}, apierrors.ErrBadRequest.WithMessage("malformed legacy token, expected id|token")
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return legacyToken{}, apierrors.ErrBadRequest.WithMessage("invalid legacy token id")
	}
	if _, err := tokenEncoding.DecodeString(parts[1]); err != nil {
		return legacyToken{}, apierrors.ErrBadRequest.WithMessage("invalid legacy token encoding")
	}
	return legacyToken{id: id, encoded: parts[1]}, nil
}

// extractBearer pulls the token out of an `Authorization: Bearer <token>`
// header value.
func extractBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}
