package logging

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestHeaderRequestID is the header name for request ID.
const RequestHeaderRequestID = "X-Request-ID"

// HTTPMiddleware provides HTTP request logging middleware.
type HTTPMiddleware struct {
	logger    *slog.Logger
	verbosity Verbosity
}

// Verbosity controls how much request/response detail is logged.
type Verbosity int

const (
	// VerbosityMinimal logs only method, path, status, and duration.
	VerbosityMinimal Verbosity = iota
	// VerbosityStandard logs additional request metadata.
	VerbosityStandard
)

// NewHTTPMiddleware creates a new HTTP logging middleware.
func NewHTTPMiddleware(logger *slog.Logger) *HTTPMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPMiddleware{
		logger:    logger.With("component", "http"),
		verbosity: VerbosityStandard,
	}
}

// WithVerbosity sets the logging verbosity level.
func (m *HTTPMiddleware) WithVerbosity(v Verbosity) *HTTPMiddleware {
	return &HTTPMiddleware{
		logger:    m.logger,
		verbosity: v,
	}
}

// Handler returns the middleware handler.
func (m *HTTPMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestHeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := WithRequestID(r.Context(), requestID)
		w.Header().Set(RequestHeaderRequestID, requestID)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		attrs := m.buildLogAttrs(r, wrapped, time.Since(start))

		level := slog.LevelInfo
		if wrapped.status >= 500 {
			level = slog.LevelError
		} else if wrapped.status >= 400 {
			level = slog.LevelWarn
		}

		m.logger.LogAttrs(ctx, level, "http request", attrs...)
	})
}

// buildLogAttrs builds the log attributes based on verbosity.
func (m *HTTPMiddleware) buildLogAttrs(r *http.Request, w *responseWriter, duration time.Duration) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", w.status),
		slog.Duration("duration", duration),
	}

	if m.verbosity >= VerbosityStandard {
		attrs = append(attrs,
			slog.String("remote_addr", r.RemoteAddr),
			slog.Int64("response_bytes", w.bytes),
		)
		if r.URL.RawQuery != "" {
			attrs = append(attrs, slog.String("query", r.URL.RawQuery))
		}
		if r.ContentLength > 0 {
			attrs = append(attrs, slog.Int64("request_bytes", r.ContentLength))
		}
	}

	return attrs
}

// responseWriter wraps http.ResponseWriter to capture status and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

// WriteHeader captures the status code.
func (w *responseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

// Write captures the bytes written.
func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Unwrap returns the underlying ResponseWriter (for http.ResponseController).
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// LoggerFromContext returns a logger with context identifiers pre-populated.
func LoggerFromContext(ctx context.Context, baseLogger *slog.Logger) *slog.Logger {
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	attrs := make([]any, 0, 2*len(contextKeys))
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, string(key), v)
		}
	}
	return baseLogger.With(attrs...)
}
