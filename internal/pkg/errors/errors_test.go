package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_AssignsStatusByKind(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, New(CredentialInvalid, "x").StatusCode)
	assert.Equal(t, http.StatusPreconditionFailed, New(EndpointUnknown, "x").StatusCode)
	assert.Equal(t, http.StatusBadGateway, New(ProxyUpstreamFailed, "x").StatusCode)
	assert.Equal(t, http.StatusInternalServerError, New(FetchFailed, "x").StatusCode)
}

func TestManagerError_WithCauseUnwraps(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	me := New(ChainTransient, "dial failed").WithCause(cause)

	assert.ErrorIs(t, me, cause)
	assert.Contains(t, me.Error(), "dial tcp: refused")
}

func TestManagerError_WithMessagePreservesKindAndCause(t *testing.T) {
	cause := errors.New("boom")
	base := New(SpawnFailed, "original").WithCause(cause)
	renamed := base.WithMessage("renamed")

	assert.Equal(t, SpawnFailed, renamed.Kind)
	assert.Equal(t, "renamed", renamed.Message)
	assert.ErrorIs(t, renamed, cause)
}

func TestAsManagerError_PassesThroughManagerErrors(t *testing.T) {
	me := New(CredentialInvalid, "nope")
	assert.Same(t, me, AsManagerError(me))
}

func TestAsManagerError_WrapsUnknownErrors(t *testing.T) {
	err := errors.New("plain")
	me := AsManagerError(err)

	assert.Equal(t, Kind("internal"), me.Kind)
	assert.Equal(t, http.StatusInternalServerError, me.StatusCode)
	assert.ErrorIs(t, me, err)
}
