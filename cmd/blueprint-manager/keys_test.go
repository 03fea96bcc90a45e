package main

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasetoRootKey_DecodesConfiguredHex(t *testing.T) {
	want := make([]byte, 32)
	for i := range want {
		want[i] = byte(i)
	}

	got, err := pasetoRootKey(hex.EncodeToString(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPasetoRootKey_GeneratesRandomWhenUnset(t *testing.T) {
	a, err := pasetoRootKey("")
	require.NoError(t, err)
	b, err := pasetoRootKey("")
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Len(t, b, 32)
	assert.NotEqual(t, a, b)
}

func TestPasetoRootKey_RejectsInvalidHex(t *testing.T) {
	_, err := pasetoRootKey("not-hex")
	assert.Error(t, err)
}

func TestEmptyResolver_AlwaysMisses(t *testing.T) {
	_, ok := emptyResolver{}.EndpointByService(1)
	assert.False(t, ok)
}
