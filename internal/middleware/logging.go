package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

type requestInfoKey struct{}

// requestInfo is threaded through the request context so handlers deep
// inside the auth proxy's credential-resolution pipeline can attach the
// blueprint service a request ended up routed to, even though Logging
// runs before that resolution happens.
type requestInfo struct {
	serviceID    uint64
	hasServiceID bool
}

// WithServiceID records the resolved service_id on r's request-scoped
// logging context, if one is present. Called once the auth proxy has
// classified a credential and resolved its owning service, so the
// eventual access log line names which child service handled the
// request instead of only the path it proxied through.
func WithServiceID(r *http.Request, serviceID uint64) {
	if info, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
		info.serviceID = serviceID
		info.hasServiceID = true
	}
}

// Logging returns a structured logging middleware.
func Logging(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			info := &requestInfo{}
			r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))

			// Get request ID from chi middleware
			reqID := chimiddleware.GetReqID(r.Context())

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.status),
				slog.Duration("duration", duration),
				slog.String("request_id", reqID),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.UserAgent()),
			}
			if info.hasServiceID {
				attrs = append(attrs, slog.Uint64("service_id", info.serviceID))
			}

			// Log the request
			logger.LogAttrs(r.Context(), slog.LevelInfo, "request", attrs...)
		})
	}
}
