package authproxy

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	"github.com/tangle-network/blueprint-manager/internal/credstore"
)

// memCredentials is an in-memory stand-in for the badger-backed
// credential store, keyed the same way: hashed token -> opts, plus a
// row-id sequence for the legacy scheme.
type memCredentials struct {
	mu     sync.Mutex
	nextID uint64
	byHash map[string]credstore.TokenOpts
	byID   map[uint64]credstore.TokenOpts
}

func newMemCredentials() *memCredentials {
	return &memCredentials{
		byHash: make(map[string]credstore.TokenOpts),
		byID:   make(map[uint64]credstore.TokenOpts),
	}
}

func (m *memCredentials) Save(hashedToken string, opts credstore.TokenOpts) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	opts.HashedToken = hashedToken
	m.byHash[hashedToken] = opts
	m.byID[id] = opts
	return id, nil
}

func (m *memCredentials) Lookup(hashedToken string) (credstore.LookupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opts, ok := m.byHash[hashedToken]
	if !ok {
		return credstore.LookupResult{}, fmt.Errorf("not found")
	}
	return credstore.LookupResult{ServiceID: opts.ServiceID, ExpiresAt: opts.ExpiresAt}, nil
}

func (m *memCredentials) LookupByID(id uint64) (credstore.LookupResult, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opts, ok := m.byID[id]
	if !ok {
		return credstore.LookupResult{}, "", fmt.Errorf("not found")
	}
	return credstore.LookupResult{TokenID: id, ServiceID: opts.ServiceID, ExpiresAt: opts.ExpiresAt}, opts.HashedToken, nil
}

// memResolver is a fixed service_id -> endpoint map.
type memResolver struct {
	endpoints map[blueprint.ServiceID]string
}

func (m memResolver) EndpointByService(sid blueprint.ServiceID) (string, bool) {
	ep, ok := m.endpoints[sid]
	return ep, ok
}

func newTestProxy(t *testing.T, upstream string) (*Proxy, *memCredentials) {
	t.Helper()
	creds := newMemCredentials()
	paseto, err := NewPasetoManager(testRootKey())
	require.NoError(t, err)

	p := New(Config{
		Active:         memResolver{endpoints: map[blueprint.ServiceID]string{1: upstream}},
		Credentials:    creds,
		Paseto:         paseto,
		AllowedHeaders: []string{"X-Tenant"},
	})
	return p, creds
}

func TestProxy_ReverseProxy_AccessToken(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Got-Tenant", r.Header.Get("X-Tenant"))
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p, _ := newTestProxy(t, upstream.URL)

	claims := AccessTokenClaims{
		ServiceID:         1,
		ExpiresAt:         time.Now().Add(time.Hour).Unix(),
		AdditionalHeaders: map[string]string{"X-Tenant": "acme"},
	}
	token, err := p.paseto.Seal(claims)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/some/path", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	p.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", rec.Header().Get("X-Got-Tenant"))
}

func TestProxy_ReverseProxy_ExpiredAccessTokenRejected(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p, _ := newTestProxy(t, upstream.URL)

	claims := AccessTokenClaims{ServiceID: 1, ExpiresAt: time.Now().Add(-time.Minute).Unix()}
	token, err := p.paseto.Seal(claims)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/some/path", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	p.Router().ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestProxy_ReverseProxy_UnknownEndpointReturnsError(t *testing.T) {
	p, creds := newTestProxy(t, "http://127.0.0.1:1")
	id, err := creds.Save(HashLegacyToken("", "plain-body"), credstore.TokenOpts{ServiceID: 99})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %d|%s", id, "plain-body"))
	rec := httptest.NewRecorder()

	p.Router().ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestProxy_ReverseProxy_MissingBearerRejected(t *testing.T) {
	p, _ := newTestProxy(t, "http://127.0.0.1:1")

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	p.Router().ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestProxy_Exchange_APIKeyForAccessToken(t *testing.T) {
	p, creds := newTestProxy(t, "http://127.0.0.1:1")
	key, err := NewTokenGenerator().GenerateAPIKey("ak")
	require.NoError(t, err)
	_, err = creds.Save(key.Hashed(), credstore.TokenOpts{ServiceID: 1})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/exchange", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+key.Plaintext())
	rec := httptest.NewRecorder()

	p.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "v4.local.")
}

func TestProxy_Exchange_RejectsNonAPIKeyCredential(t *testing.T) {
	p, _ := newTestProxy(t, "http://127.0.0.1:1")

	req := httptest.NewRequest(http.MethodPost, "/auth/exchange", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer 1|c29tZXRoaW5n")
	rec := httptest.NewRecorder()

	p.Router().ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestProxy_MintAPIKey(t *testing.T) {
	p, _ := newTestProxy(t, "http://127.0.0.1:1")
	key, err := p.MintAPIKey(1)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "ak_"))
}
