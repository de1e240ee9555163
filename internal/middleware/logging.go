package middleware

import (
	"net/http"
	"time"

	"github.com/vyrodovalexey/avarelay/internal/observability"
)

// LoggingOption configures the access log middleware.
type LoggingOption func(*loggingConfig)

type loggingConfig struct {
	extractor *ClientIPExtractor
}

// WithLoggingIPExtractor sets how client IPs are resolved for the log.
func WithLoggingIPExtractor(e *ClientIPExtractor) LoggingOption {
	return func(c *loggingConfig) {
		c.extractor = e
	}
}

// Logging returns a middleware that writes one access log entry per request
// at debug level. Upgraded connections are logged when the handler returns,
// which for WebSocket sessions is when the session ends.
func Logging(logger observability.Logger, opts ...LoggingOption) func(http.Handler) http.Handler {
	cfg := &loggingConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			logger.Debug("http request",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.String("query", r.URL.RawQuery),
				observability.Int("status", rw.status),
				observability.Int("size", rw.size),
				observability.Bool("upgraded", rw.hijacked),
				observability.Duration("duration", time.Since(start)),
				observability.String("client_ip", cfg.extractor.Extract(r)),
				observability.String("user_agent", r.UserAgent()),
				observability.String("request_id", observability.RequestIDFromContext(r.Context())),
			)
		})
	}
}
