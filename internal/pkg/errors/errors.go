// Package errors provides the manager's error taxonomy.
package errors

import (
	"fmt"
	"net/http"
)

// Kind classifies a manager error independently of any HTTP surface.
type Kind string

const (
	ConfigInvalid         Kind = "config_invalid"
	KeystoreAccess        Kind = "keystore_access"
	ChainTransient        Kind = "chain_transient"
	ChainDispatchRejected Kind = "chain_dispatch_rejected"
	FetchFailed           Kind = "fetch_failed"
	IntegrityMismatch     Kind = "integrity_mismatch"
	SpawnFailed           Kind = "spawn_failed"
	ProvisionFailed       Kind = "provision_failed"
	CredentialInvalid     Kind = "credential_invalid"
	EndpointUnknown       Kind = "endpoint_unknown"
	ProxyUpstreamFailed   Kind = "proxy_upstream_failed"
)

// ManagerError carries a Kind plus an HTTP status for proxy-facing kinds.
type ManagerError struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	cause      error
}

func (e *ManagerError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ManagerError) Unwrap() error { return e.cause }

// WithCause returns a copy of the error wrapping cause.
func (e *ManagerError) WithCause(cause error) *ManagerError {
	return &ManagerError{Kind: e.Kind, Message: e.Message, StatusCode: e.StatusCode, cause: cause}
}

// WithMessage returns a copy of the error with a custom message.
func (e *ManagerError) WithMessage(message string) *ManagerError {
	return &ManagerError{Kind: e.Kind, Message: message, StatusCode: e.StatusCode, cause: e.cause}
}

// New constructs a ManagerError of the given kind.
func New(kind Kind, message string) *ManagerError {
	return &ManagerError{Kind: kind, Message: message, StatusCode: statusForKind(kind)}
}

func statusForKind(kind Kind) int {
	switch kind {
	case CredentialInvalid:
		return http.StatusUnauthorized
	case EndpointUnknown:
		return http.StatusPreconditionFailed
	case ProxyUpstreamFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Sentinel errors for the Auth Proxy's HTTP surface. Other errors also
// reach an http.ResponseWriter through AsManagerError, keeping their own
// kind or, if they are not ManagerErrors, as kind "internal".
var (
	ErrCredentialInvalid = New(CredentialInvalid, "credential rejected")
	ErrEndpointUnknown   = New(EndpointUnknown, "no active endpoint for service")
	ErrProxyUpstream     = New(ProxyUpstreamFailed, "upstream request failed")
	ErrRateLimited       = &ManagerError{Kind: "rate_limited", Message: "too many requests", StatusCode: http.StatusTooManyRequests}
	ErrBadRequest        = &ManagerError{Kind: "bad_request", Message: "invalid request", StatusCode: http.StatusBadRequest}
)

// AsManagerError converts err to a *ManagerError, mapping unknown errors
// to an internal ManagerError so callers can always assume a Kind/Status.
func AsManagerError(err error) *ManagerError {
	if me, ok := err.(*ManagerError); ok {
		return me
	}
	return &ManagerError{Kind: "internal", Message: err.Error(), StatusCode: http.StatusInternalServerError, cause: err}
}
