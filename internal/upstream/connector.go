// Package upstream establishes WebSocket connections to the fixed upstream
// service with bounded linear-backoff retries.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/retry"
	"github.com/vyrodovalexey/avarelay/internal/wsconn"
)

// DefaultHandshakeTimeout bounds a single WebSocket opening handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// Dialer opens a single WebSocket connection.
type Dialer interface {
	Dial(ctx context.Context, url string) (wsconn.Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string) (wsconn.Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, url string) (wsconn.Conn, error) {
	return f(ctx, url)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

// NewWebSocketDialer creates a dialer with the given handshake timeout.
func NewWebSocketDialer(handshakeTimeout time.Duration) *WebSocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	return &WebSocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (wsconn.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return wsconn.NewAdapter(conn), nil
}

// ConnectError is returned when no upstream connection could be opened.
type ConnectError struct {
	SessionID uint64
	Attempts  int
	// Exhausted is true when every attempt failed. It is false when the
	// attempt loop was abandoned because the context ended.
	Exhausted bool
	Err       error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("session %d: upstream connect failed after %d attempts: %v",
			e.SessionID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("session %d: upstream connect aborted: %v", e.SessionID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Connector opens upstream connections for sessions.
type Connector struct {
	url     string
	dialer  Dialer
	policy  atomic.Pointer[retry.Policy]
	logger  observability.Logger
	metrics *observability.Metrics
	sleep   retry.SleepFunc
}

// Option is a functional option for configuring the connector.
type Option func(*Connector)

// WithDialer sets the dialer.
func WithDialer(d Dialer) Option {
	return func(c *Connector) {
		c.dialer = d
	}
}

// WithPolicy sets the initial retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(c *Connector) {
		c.policy.Store(&p)
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Connector) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Connector) {
		c.metrics = m
	}
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep retry.SleepFunc) Option {
	return func(c *Connector) {
		c.sleep = sleep
	}
}

// NewConnector creates a connector for the given upstream URL.
func NewConnector(url string, opts ...Option) *Connector {
	c := &Connector{
		url:    url,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWebSocketDialer(DefaultHandshakeTimeout)
	}
	if c.policy.Load() == nil {
		p := retry.DefaultPolicy()
		c.policy.Store(&p)
	}
	return c
}

// URL returns the upstream URL.
func (c *Connector) URL() string {
	return c.url
}

// Policy returns the retry policy new connects will use.
func (c *Connector) Policy() retry.Policy {
	return *c.policy.Load()
}

// SetPolicy replaces the retry policy. Connects already in progress keep
// the policy they started with.
func (c *Connector) SetPolicy(p retry.Policy) {
	c.policy.Store(&p)
}

// Connect opens one upstream connection for the session. Each failed
// attempt except the last is logged as a warning; exhaustion is logged as
// an error. If ctx ends during an attempt or a backoff wait, no further
// attempt is made and the returned ConnectError has Exhausted false.
func (c *Connector) Connect(ctx context.Context, sessionID uint64) (wsconn.Conn, error) {
	policy := *c.policy.Load()
	maxAttempts := policy.GetMaxAttempts()
	logger := c.logger.With(
		observability.Uint64("session_id", sessionID),
		observability.String("upstream", c.url),
	)

	var (
		conn     wsconn.Conn
		attempts int
	)

	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		attempts = attempt + 1
		dialed, err := c.dialer.Dial(ctx, c.url)
		if err != nil {
			c.metrics.RecordConnectAttempt(false)
			return err
		}
		c.metrics.RecordConnectAttempt(true)
		conn = dialed
		return nil
	}, &retry.Options{
		ShouldRetry: func(error) bool {
			return ctx.Err() == nil
		},
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logger.Warn("upstream connect attempt failed, retrying",
				observability.Int("attempt", attempt),
				observability.Int("max_attempts", maxAttempts),
				observability.Duration("retry_in", wait),
				observability.Error(err),
			)
		},
		Sleep: c.sleep,
	})
	if err == nil {
		logger.Debug("upstream connected", observability.Int("attempts", attempts))
		return conn, nil
	}

	if errors.Is(err, retry.ErrExhausted) {
		cause := errors.Unwrap(err)
		c.metrics.RecordConnectExhausted()
		logger.Error("upstream connect failed, retries exhausted",
			observability.Int("attempts", attempts),
			observability.Error(cause),
		)
		return nil, &ConnectError{
			SessionID: sessionID,
			Attempts:  attempts,
			Exhausted: true,
			Err:       cause,
		}
	}

	// The loop stopped early because ctx ended.
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	logger.Info("upstream connect abandoned",
		observability.Int("attempts", attempts),
		observability.Error(err),
	)
	return nil, &ConnectError{
		SessionID: sessionID,
		Attempts:  attempts,
		Exhausted: false,
		Err:       err,
	}
}
