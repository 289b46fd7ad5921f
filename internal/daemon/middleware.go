package daemon

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/felixgeelhaar/assay/internal/metrics"
	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/google/uuid"
)

// ContextKey is the type for context keys used in this package
type ContextKey string

const (
	// CorrelationIDKey holds the request's correlation ID
	CorrelationIDKey ContextKey = "correlation_id"
	// CorrelationIDHeader carries the correlation ID in and out
	CorrelationIDHeader = "X-Request-ID"

	requestNotesKey ContextKey = "request_notes"
)

// GetCorrelationID extracts the correlation ID from a context
func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(CorrelationIDKey).(string)
	return id
}

// correlationIDMiddleware reuses the caller's X-Request-ID or mints one
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), CorrelationIDKey, id)))
	})
}

// requestNotes collects attributes a handler adds to its request log line,
// such as the verdict of an assessment
type requestNotes struct {
	mu    sync.Mutex
	attrs []any
}

// noteRequest attaches key/value pairs to the request log line. It is a
// no-op outside loggingMiddleware.
func noteRequest(ctx context.Context, args ...any) {
	notes, ok := ctx.Value(requestNotesKey).(*requestNotes)
	if !ok {
		return
	}
	notes.mu.Lock()
	notes.attrs = append(notes.attrs, args...)
	notes.mu.Unlock()
}

// responseWriter records the status code a handler writes
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLevel logs server errors at error, client errors at warn and the
// rest at debug so routine assessments stay quiet
func requestLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// loggingMiddleware writes one line per request with the matched route and
// whatever the handler noted. It must hand the mux the same *http.Request so
// r.Pattern is visible afterwards.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		notes := &requestNotes{}
		r = r.WithContext(context.WithValue(r.Context(), requestNotesKey, notes))
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		args := []any{
			"correlation_id", GetCorrelationID(r.Context()),
			"route", route,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		notes.mu.Lock()
		args = append(args, notes.attrs...)
		notes.mu.Unlock()

		slog.Log(r.Context(), requestLevel(wrapped.statusCode), "request", args...)
	})
}

// recoveryMiddleware turns a handler panic into a 500 envelope
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered",
					"correlation_id", GetCorrelationID(r.Context()),
					"route", r.Method+" "+r.URL.Path,
					"error", err,
				)
				writeError(w, http.StatusInternalServerError, "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records request counts and latency by route pattern.
// It must see the same *http.Request as the mux so r.Pattern is populated.
func metricsMiddleware(m *metrics.Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTPRequest(r.Method, route, wrapped.statusCode, time.Since(start))
	})
}

// exemptFromRateLimit lists paths health checks and scrapers hit
var exemptFromRateLimit = map[string]bool{
	"/v1/health": true,
	"/metrics":   true,
}

// rateLimitMiddleware rejects clients that exceed the per-address rate
func rateLimitMiddleware(limiter ratelimit.RateLimiter, m *metrics.Metrics, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptFromRateLimit[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.Allow(r.Context(), clientKey(r)) {
			m.RecordRateLimited()
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller by remote host
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
