package credstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "credstore"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveThenLookup(t *testing.T) {
	s := openTestStore(t)

	id, err := s.Save("hashed-token-1", TokenOpts{ServiceID: 42})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	got, err := s.Lookup("hashed-token-1")
	require.NoError(t, err)
	assert.Equal(t, blueprint.ServiceID(42), got.ServiceID)
	assert.Equal(t, id, got.TokenID)
}

func TestStore_LookupUnknownTokenFails(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Lookup("does-not-exist")
	require.Error(t, err)
	assert.Equal(t, apierrors.CredentialInvalid, apierrors.AsManagerError(err).Kind)
}

func TestStore_LookupExpiredTokenFails(t *testing.T) {
	s := openTestStore(t)
	past := time.Now().Add(-time.Hour)
	_, err := s.Save("expired-token", TokenOpts{ServiceID: 1, ExpiresAt: &past})
	require.NoError(t, err)

	_, err = s.Lookup("expired-token")
	require.Error(t, err)
}

func TestStore_RevokeServiceCascades(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Save("tok-a", TokenOpts{ServiceID: 7})
	require.NoError(t, err)
	_, err = s.Save("tok-b", TokenOpts{ServiceID: 7})
	require.NoError(t, err)
	_, err = s.Save("tok-c", TokenOpts{ServiceID: 8})
	require.NoError(t, err)

	require.NoError(t, s.RevokeService(context.Background(), 7))

	_, err = s.Lookup("tok-a")
	assert.Error(t, err)
	_, err = s.Lookup("tok-b")
	assert.Error(t, err)

	got, err := s.Lookup("tok-c")
	require.NoError(t, err)
	assert.Equal(t, blueprint.ServiceID(8), got.ServiceID)
}

func TestStore_GCRemovesExpiredOnly(t *testing.T) {
	s := openTestStore(t)
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	_, err := s.Save("old", TokenOpts{ServiceID: 1, ExpiresAt: &past})
	require.NoError(t, err)
	_, err = s.Save("fresh", TokenOpts{ServiceID: 2, ExpiresAt: &future})
	require.NoError(t, err)

	removed, err := s.GC()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Lookup("old")
	assert.Error(t, err)
	_, err = s.Lookup("fresh")
	assert.NoError(t, err)
}

func TestStore_SeqIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	id1, err := s.Save("t1", TokenOpts{ServiceID: 1})
	require.NoError(t, err)
	id2, err := s.Save("t2", TokenOpts{ServiceID: 1})
	require.NoError(t, err)
	assert.Greater(t, id2, id1)
}

func TestStore_LookupByIDReturnsStoredDigest(t *testing.T) {
	s := openTestStore(t)
	id, err := s.Save("the-digest", TokenOpts{ServiceID: 3})
	require.NoError(t, err)

	result, hashed, err := s.LookupByID(id)
	require.NoError(t, err)
	assert.Equal(t, "the-digest", hashed)
	assert.Equal(t, blueprint.ServiceID(3), result.ServiceID)
	assert.Equal(t, id, result.TokenID)
}

func TestStore_LookupByIDUnknownFails(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.LookupByID(999)
	assert.Error(t, err)
}

func TestStore_LookupByIDExpiredFails(t *testing.T) {
	s := openTestStore(t)
	past := time.Now().Add(-time.Hour)
	id, err := s.Save("expired", TokenOpts{ServiceID: 1, ExpiresAt: &past})
	require.NoError(t, err)

	_, _, err = s.LookupByID(id)
	assert.Error(t, err)
}
