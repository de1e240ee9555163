package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avarelay/internal/config"
	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/proxy"
)

// DefaultBreakerName labels the breaker guarding HTTP forwarding.
const DefaultBreakerName = "http_upstream"

var cbTracer = otel.Tracer("avarelay/circuitbreaker")

// errServerStatus marks a forwarded response with a 5xx status as a failure.
type errServerStatus int

func (e errServerStatus) Error() string {
	return fmt.Sprintf("upstream responded with status %d", int(e))
}

// CircuitBreakerStateFunc is called on every state transition with the
// gobreaker state as an int (0 closed, 1 half-open, 2 open).
type CircuitBreakerStateFunc func(name string, state int)

// CircuitBreaker wraps gobreaker.CircuitBreaker.
type CircuitBreaker struct {
	cb            *gobreaker.CircuitBreaker
	logger        observability.Logger
	stateCallback CircuitBreakerStateFunc
}

// CircuitBreakerOption is a functional option for configuring the circuit breaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithCircuitBreakerLogger sets the logger for the circuit breaker.
func WithCircuitBreakerLogger(logger observability.Logger) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.logger = logger
	}
}

// WithCircuitBreakerStateCallback sets a callback for state changes.
func WithCircuitBreakerStateCallback(fn CircuitBreakerStateFunc) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.stateCallback = fn
	}
}

// WithCircuitBreakerMetrics publishes the breaker state as a gauge.
func WithCircuitBreakerMetrics(m *observability.Metrics) CircuitBreakerOption {
	return WithCircuitBreakerStateCallback(m.SetCircuitBreakerState)
}

// NewCircuitBreaker creates a breaker that opens after threshold
// consecutive failures, stays open for timeout and then lets
// halfOpenRequests probes through.
func NewCircuitBreaker(
	name string,
	threshold int,
	timeout time.Duration,
	halfOpenRequests int,
	opts ...CircuitBreakerOption,
) *CircuitBreaker {
	cb := &CircuitBreaker{
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(cb)
	}

	thresholdU32 := safeIntToUint32(threshold)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: safeIntToUint32(halfOpenRequests),
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= thresholdU32
		},
		OnStateChange: cb.onStateChange,
	}

	cb.cb = gobreaker.NewCircuitBreaker(settings)
	if cb.stateCallback != nil {
		cb.stateCallback(name, int(gobreaker.StateClosed))
	}
	return cb
}

func (cb *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	cb.logger.Info("circuit breaker state change",
		observability.String("name", name),
		observability.String("from", from.String()),
		observability.String("to", to.String()),
	)

	_, span := cbTracer.Start(context.Background(),
		"circuitbreaker.state_change",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.AddEvent("state_change", trace.WithAttributes(
		attribute.String("circuitbreaker.name", name),
		attribute.String("circuitbreaker.from", from.String()),
		attribute.String("circuitbreaker.to", to.String()),
	))
	span.End()

	if cb.stateCallback != nil {
		cb.stateCallback(name, int(to))
	}
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

// Execute runs fn under breaker protection.
func (cb *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return cb.cb.Execute(fn)
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.cb.State()
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.cb.Name()
}

// CircuitBreakerMiddleware counts 5xx responses as failures. While the
// breaker is open requests get the forwarder's 500 JSON error without
// reaching next.
// WebSocket upgrades bypass the breaker.
func CircuitBreakerMiddleware(cb *CircuitBreaker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}

			rw := newResponseWriter(w)
			_, err := cb.Execute(func() (interface{}, error) {
				next.ServeHTTP(rw, r)
				if rw.status >= http.StatusInternalServerError {
					return nil, errServerStatus(rw.status)
				}
				return nil, nil
			})

			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				cb.logger.Warn("circuit breaker rejected request",
					observability.String("name", cb.Name()),
					observability.String("path", r.URL.Path),
					observability.String("state", cb.State().String()),
				)
				if !rw.headerWritten {
					proxy.WriteJSONError(w, http.StatusInternalServerError, proxy.ErrUpstreamUnavailable.Error())
				}
			}
		})
	}
}

// CircuitBreakerFromConfig builds the middleware from configuration. When
// the breaker is disabled it returns a pass-through middleware and nil.
func CircuitBreakerFromConfig(
	cfg *config.CircuitBreakerConfig,
	opts ...CircuitBreakerOption,
) (func(http.Handler) http.Handler, *CircuitBreaker) {
	if cfg == nil || !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, nil
	}

	cb := NewCircuitBreaker(
		DefaultBreakerName,
		cfg.Threshold,
		cfg.Timeout.Duration(),
		cfg.HalfOpenRequests,
		opts...,
	)
	return CircuitBreakerMiddleware(cb), cb
}
