package authproxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := map[string]tokenShape{
		"v4.local.abcdef":  shapeAccessToken,
		"42|c29tZS10b2tlbg": shapeLegacy,
		"ak_abc.def":        shapeAPIKey,
		"nodotsorbars":      shapeUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, classify(raw), "classify(%q)", raw)
	}
}

func TestParseLegacyToken(t *testing.T) {
	encoded := tokenEncoding.EncodeToString([]byte("payload"))

	parsed, err := parseLegacyToken("7|" + encoded)
	require.NoError(t, err)
	assert.EqualValues(t, 7, parsed.id)
	assert.Equal(t, encoded, parsed.encoded)
}

func TestParseLegacyToken_RejectsNonNumericID(t *testing.T) {
	encoded := tokenEncoding.EncodeToString([]byte("payload"))
	_, err := parseLegacyToken("notanumber|" + encoded)
	assert.Error(t, err)
}

func TestParseLegacyToken_RejectsExtraSeparators(t *testing.T) {
	encoded := tokenEncoding.EncodeToString([]byte("payload"))
	_, err := parseLegacyToken("7|" + encoded + "|extra")
	assert.Error(t, err)
}

func TestParseLegacyToken_RejectsBadEncoding(t *testing.T) {
	_, err := parseLegacyToken("7|not base64!!")
	assert.Error(t, err)
}

func TestExtractBearer(t *testing.T) {
	token, ok := extractBearer("Bearer abc123")
	assert.True(t, ok)
	assert.Equal(t, "abc123", token)

	_, ok = extractBearer("Basic abc123")
	assert.False(t, ok)

	_, ok = extractBearer("")
	assert.False(t, ok)
}
