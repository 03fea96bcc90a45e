// Package authproxy implements the Auth Proxy (C7): the HTTP front door
// for every locally hosted child service. It classifies bearer
// credentials across three coexisting shapes (legacy, API key, PASETO
// v4.local access token), resolves the owning service's endpoint out of
// the Active Set, and reverse-proxies the request verbatim.
package authproxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	"github.com/tangle-network/blueprint-manager/internal/credstore"
	"github.com/tangle-network/blueprint-manager/internal/database"
	"github.com/tangle-network/blueprint-manager/internal/middleware"
	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
	"github.com/tangle-network/blueprint-manager/internal/pkg/response"
	"github.com/tangle-network/blueprint-manager/internal/pkg/ulid"
)

const (
	headerServiceID = "X-Service-Id"

	defaultChallengeExpiry   = 60 * time.Second
	defaultAccessTokenExpiry = 15 * time.Minute
)

// Credentials is the subset of the Credential Store the proxy needs.
type Credentials interface {
	Save(hashedToken string, opts credstore.TokenOpts) (uint64, error)
	Lookup(hashedToken string) (credstore.LookupResult, error)
	LookupByID(id uint64) (credstore.LookupResult, string, error)
}

// EndpointResolver is the subset of the Active Set the proxy needs.
type EndpointResolver interface {
	EndpointByService(sid blueprint.ServiceID) (string, bool)
}

// Proxy is the Auth Proxy's HTTP surface.
type Proxy struct {
	active          EndpointResolver
	credentials     Credentials
	redis           *database.Redis
	paseto          *PasetoManager
	logger          *slog.Logger
	challengeExpiry time.Duration
	allowedHeaders  map[string]struct{}
}

// Config configures a new Proxy.
type Config struct {
	Active          EndpointResolver
	Credentials     Credentials
	Redis           *database.Redis
	Paseto          *PasetoManager
	Logger          *slog.Logger
	ChallengeExpiry time.Duration
	AllowedHeaders  []string
}

// New constructs a Proxy from cfg.
func New(cfg Config) *Proxy {
	expiry := cfg.ChallengeExpiry
	if expiry <= 0 {
		expiry = defaultChallengeExpiry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedHeaders))
	for _, h := range cfg.AllowedHeaders {
		allowed[http.CanonicalHeaderKey(h)] = struct{}{}
	}

	return &Proxy{
		active:          cfg.Active,
		credentials:     cfg.Credentials,
		redis:           cfg.Redis,
		paseto:          cfg.Paseto,
		logger:          logger,
		challengeExpiry: expiry,
		allowedHeaders:  allowed,
	}
}

// Router returns the chi router exposing the three auth endpoints plus
// the reverse-proxy fallback.
func (p *Proxy) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Metrics())
	r.Post("/auth/challenge", p.handleChallenge)
	r.Post("/auth/verify", p.handleVerify)
	r.Post("/auth/exchange", p.handleExchange)
	r.HandleFunc("/*", p.handleReverseProxy)
	return r
}

// MintAPIKey issues a new long-lived API key for sid. Unlike access
// tokens and legacy credentials, API keys are never minted through the
// proxy's own HTTP surface (the spec names no endpoint for it); this is
// the entry point the `keys` CLI subcommand calls instead.
func (p *Proxy) MintAPIKey(sid blueprint.ServiceID) (string, error) {
	key, err := NewTokenGenerator().GenerateAPIKey("ak")
	if err != nil {
		return "", err
	}
	if _, err := p.credentials.Save(key.Hashed(), credstore.TokenOpts{ServiceID: sid}); err != nil {
		return "", err
	}
	return key.Plaintext(), nil
}

func (p *Proxy) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("invalid challenge request body"))
		return
	}

	challenge, err := generateChallenge()
	if err != nil {
		response.Error(w, apierrors.AsManagerError(err))
		return
	}

	id := ulid.New()
	expiresAt := time.Now().Add(p.challengeExpiry)
	if p.redis != nil {
		if err := p.redis.SetChallenge(r.Context(), id, challenge, p.challengeExpiry); err != nil {
			response.Error(w, apierrors.AsManagerError(err))
			return
		}
	}

	w.Header().Set("X-Challenge-Id", id)
	response.OK(w, ChallengeResponse{Challenge: challenge, ExpiresAt: expiresAt.Unix()})
}

func (p *Proxy) handleVerify(w http.ResponseWriter, r *http.Request) {
	sid, ok := serviceIDFromHeader(r)
	if !ok {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("missing or invalid X-Service-Id header"))
		return
	}
	middleware.WithServiceID(r, uint64(sid))

	var req VerifyChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("invalid verify request body"))
		return
	}

	ok, err := verifyChallenge(req.Challenge, req.Signature, req.ChallengeRequest.PubKey, req.ChallengeRequest.KeyType)
	if err != nil {
		p.logger.Warn("challenge verification error", "error", err)
		middleware.RecordAuthFailure("challenge_verify_error")
		response.OK(w, VerifyChallengeResponse{Status: "error", Message: err.Error()})
		return
	}
	if !ok {
		middleware.RecordAuthFailure("invalid_signature")
		response.OK(w, VerifyChallengeResponse{Status: "invalid_signature"})
		return
	}

	expiresAt := time.Now().Add(defaultAccessTokenExpiry)
	gen := NewTokenGenerator()
	token, err := gen.Generate(sid, &expiresAt)
	if err != nil {
		response.Error(w, apierrors.AsManagerError(err))
		return
	}
	id, err := p.credentials.Save(token.Hashed(), credstore.TokenOpts{ServiceID: sid, ExpiresAt: &expiresAt})
	if err != nil {
		response.Error(w, apierrors.AsManagerError(err))
		return
	}

	response.Created(w, VerifyChallengeResponse{
		Status:      "verified",
		AccessToken: token.Plaintext(id),
		ExpiresAt:   expiresAt.Unix(),
	})
}

// exchangeRequest trades a long-lived API key for a short-lived access
// token.
type exchangeRequest struct {
	AdditionalHeaders map[string]string `json:"additional_headers,omitempty"`
	TTLSeconds        *uint64           `json:"ttl_seconds,omitempty"`
}

type exchangeResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (p *Proxy) handleExchange(w http.ResponseWriter, r *http.Request) {
	bearer, ok := extractBearer(r.Header.Get("Authorization"))
	if !ok {
		middleware.RecordAuthFailure("missing_bearer")
		response.Error(w, apierrors.New(apierrors.CredentialInvalid, "missing bearer credential"))
		return
	}
	if classify(bearer) != shapeAPIKey {
		middleware.RecordAuthFailure("exchange_requires_api_key")
		response.Error(w, apierrors.ErrBadRequest.WithMessage("exchange requires an API key credential"))
		return
	}

	lookup, err := p.credentials.Lookup(HashLegacyToken("", bearer))
	if err != nil {
		middleware.RecordAuthFailure("unknown_api_key")
		response.Error(w, apierrors.ErrCredentialInvalid)
		return
	}
	middleware.WithServiceID(r, uint64(lookup.ServiceID))

	var req exchangeRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	for header := range req.AdditionalHeaders {
		if _, allowed := p.allowedHeaders[http.CanonicalHeaderKey(header)]; !allowed {
			response.Error(w, apierrors.ErrBadRequest.WithMessage(fmt.Sprintf("header %q is not in the forwarding allowlist", header)))
			return
		}
	}

	ttl := defaultAccessTokenExpiry
	if req.TTLSeconds != nil {
		ttl = time.Duration(*req.TTLSeconds) * time.Second
	}
	expiresAt := time.Now().Add(ttl)

	claims := AccessTokenClaims{
		ServiceID:         lookup.ServiceID,
		ExpiresAt:         expiresAt.Unix(),
		AdditionalHeaders: req.AdditionalHeaders,
	}
	token, err := p.paseto.Seal(claims)
	if err != nil {
		response.Error(w, apierrors.AsManagerError(err))
		return
	}

	response.OK(w, exchangeResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.Unix(),
		ExpiresIn:   int64(ttl.Seconds()),
	})
}

func (p *Proxy) handleReverseProxy(w http.ResponseWriter, r *http.Request) {
	sid, forwardHeaders, err := p.resolveCredential(r)
	if err != nil {
		middleware.RecordAuthFailure("reverse_proxy_credential")
		response.Error(w, err)
		return
	}
	middleware.WithServiceID(r, uint64(sid))

	endpoint, ok := p.active.EndpointByService(sid)
	if !ok {
		response.Error(w, apierrors.ErrEndpointUnknown)
		return
	}

	target, err := url.Parse(endpoint)
	if err != nil {
		response.Error(w, apierrors.ErrEndpointUnknown.WithCause(err))
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		for k, v := range forwardHeaders {
			req.Header.Set(k, v)
		}
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.logger.Warn("proxy upstream error", "service_id", sid, "error", err)
		response.Error(w, apierrors.ErrProxyUpstream.WithCause(err))
	}
	proxy.ServeHTTP(w, r)
}

// resolveCredential runs pipeline steps 1-3: extract, classify, resolve
// to a service_id. It also returns any additional headers an access
// token carries for injection into the forwarded request.
func (p *Proxy) resolveCredential(r *http.Request) (blueprint.ServiceID, map[string]string, error) {
	bearer, ok := extractBearer(r.Header.Get("Authorization"))
	if !ok {
		return 0, nil, apierrors.New(apierrors.CredentialInvalid, "missing bearer credential")
	}

	switch classify(bearer) {
	case shapeAccessToken:
		claims, err := p.paseto.Open(bearer)
		if err != nil {
			return 0, nil, apierrors.ErrCredentialInvalid.WithCause(err)
		}
		if claims.IsExpired() {
			return 0, nil, apierrors.ErrCredentialInvalid.WithMessage("access token expired")
		}
		return claims.ServiceID, claims.AdditionalHeaders, nil

	case shapeLegacy:
		legacy, err := parseLegacyToken(bearer)
		if err != nil {
			return 0, nil, err
		}
		lookup, hashed, err := p.credentials.LookupByID(legacy.id)
		if err != nil {
			return 0, nil, apierrors.ErrCredentialInvalid.WithCause(err)
		}
		if hashed != HashLegacyToken("", legacy.encoded) {
			return 0, nil, apierrors.ErrCredentialInvalid.WithMessage("legacy token digest mismatch")
		}
		return lookup.ServiceID, nil, nil

	case shapeAPIKey:
		lookup, err := p.credentials.Lookup(HashLegacyToken("", bearer))
		if err != nil {
			return 0, nil, apierrors.ErrCredentialInvalid.WithCause(err)
		}
		return lookup.ServiceID, nil, nil

	default:
		return 0, nil, apierrors.ErrBadRequest.WithMessage("unrecognized token shape")
	}
}

func serviceIDFromHeader(r *http.Request) (blueprint.ServiceID, bool) {
	raw := r.Header.Get(headerServiceID)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return blueprint.ServiceID(n), true
}

