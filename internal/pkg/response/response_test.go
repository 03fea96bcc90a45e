package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
)

func TestOK_WritesEnvelopeWithData(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, map[string]string{"status": "ready"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, map[string]any{"status": "ready"}, env.Data)
}

func TestCreated_UsesStatusCreated(t *testing.T) {
	rec := httptest.NewRecorder()
	Created(rec, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestNoContent_WritesNoBody(t *testing.T) {
	rec := httptest.NewRecorder()
	NoContent(rec)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestError_DerivesStatusFromManagerError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, apierrors.ErrEndpointUnknown)

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.NotNil(t, env.Error)
}

func TestError_WrapsPlainErrorsAsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, assertError("unexpected"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type assertError string

func (e assertError) Error() string { return string(e) }
