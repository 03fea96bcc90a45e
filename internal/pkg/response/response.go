// Package response provides JSON response helpers for the Auth Proxy's
// own endpoints (challenge, verify, exchange).
package response

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
)

// Envelope is the standard JSON response shape for manager-owned endpoints.
type Envelope struct {
	Data  any `json:"data,omitempty"`
	Error any `json:"error,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Data: data})
}

// Error writes an error response derived from err's Kind/StatusCode.
func Error(w http.ResponseWriter, err error) {
	me := apierrors.AsManagerError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(me.StatusCode)
	_ = json.NewEncoder(w).Encode(Envelope{Error: me})
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) { JSON(w, http.StatusOK, data) }

// Created writes a 201 Created response.
func Created(w http.ResponseWriter, data any) { JSON(w, http.StatusCreated, data) }

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) { w.WriteHeader(http.StatusNoContent) }
