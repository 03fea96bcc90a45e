// Package middleware provides HTTP middleware for the Auth Proxy.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueprint_manager_proxy_requests_total",
			Help: "Total number of requests handled by the auth proxy",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blueprint_manager_proxy_request_duration_seconds",
			Help:    "Auth proxy request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	authFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueprint_manager_auth_failures_total",
			Help: "Total number of rejected credentials by reason",
		},
		[]string{"reason"},
	)

	proxyUpstreamErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blueprint_manager_proxy_upstream_errors_total",
			Help: "Total number of requests that failed forwarding to a child endpoint",
		},
	)
)

// Metrics returns a middleware that records Prometheus metrics for every
// request the auth proxy handles.
func Metrics() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

			path := normalizePath(r)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.status)

			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)

			if wrapped.status == http.StatusUnauthorized {
				authFailuresTotal.WithLabelValues("invalid_credential").Inc()
			}
			if wrapped.status == http.StatusBadGateway {
				proxyUpstreamErrorsTotal.Inc()
			}
		})
	}
}

// RecordAuthFailure lets handlers outside this middleware's default
// status-code inference record a specific rejection reason (e.g. an
// expired access token versus a malformed one).
func RecordAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

// normalizePath avoids per-service-id cardinality explosion in metrics
// labels by preferring chi's route pattern over the literal request path.
func normalizePath(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	segments := strings.Split(r.URL.Path, "/")
	if len(segments) > 1 {
		segments = segments[:2]
		return strings.Join(segments, "/") + "/*"
	}
	return r.URL.Path
}
