// Package session implements the WebSocket relay session: one client
// connection paired with one upstream connection, forwarded in lock-step.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/wsconn"
)

// State is the lifecycle state of a session.
type State int32

// Session states.
const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outcome labels recorded when a session ends.
const (
	OutcomeClosed        = "closed"
	OutcomeError         = "error"
	OutcomeConnectFailed = "connect_failed"
	OutcomeClientGone    = "client_gone"
	OutcomeShutdown      = "shutdown"
)

// Connector opens the upstream connection for a session.
type Connector interface {
	Connect(ctx context.Context, sessionID uint64) (wsconn.Conn, error)
}

// Session relays messages between a client and the upstream.
//
// The loop is lock-step: after forwarding one client message upstream it
// waits for exactly one upstream message and forwards it back before
// reading the next client message.
type Session struct {
	id        uint64
	client    wsconn.Conn
	connector Connector
	logger    observability.Logger
	metrics   *observability.Metrics
	startedAt time.Time

	state atomic.Int32

	mu       sync.Mutex
	upstream wsconn.Conn
	released bool
	outcome  string
}

// Option is a functional option for configuring a session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// New creates a session for an accepted client connection.
func New(id uint64, client wsconn.Conn, connector Connector, opts ...Option) *Session {
	s := &Session{
		id:        id,
		client:    client,
		connector: connector,
		logger:    observability.NopLogger(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(observability.Uint64("session_id", id))
	s.state.Store(int32(StateConnecting))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() uint64 {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Outcome returns how the session ended, or "" while it is running.
func (s *Session) Outcome() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Run connects upstream and forwards messages until either side closes,
// a transport error occurs, or ctx is done. Both connections are closed
// when Run returns.
//
// A clean close by either peer and shutdown through ctx return nil. A
// failed upstream connect returns the connector's error and a mid-session
// failure returns a *TransportError.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		s.logger.Info("connection terminated",
			observability.String("outcome", s.Outcome()),
			observability.Duration("lifetime", time.Since(s.startedAt)),
		)
	}()

	if wsconn.IsClosed(s.client) || ctx.Err() != nil {
		outcome := OutcomeClientGone
		if ctx.Err() != nil {
			outcome = OutcomeShutdown
		}
		s.logger.Info("client gone before upstream connect")
		s.finish(outcome)
		return nil
	}

	upstream, err := s.connector.Connect(ctx, s.id)
	if err != nil {
		outcome := OutcomeConnectFailed
		if ctx.Err() != nil {
			outcome = OutcomeShutdown
		}
		s.logger.Error("session aborted, no upstream connection", observability.Error(err))
		s.finish(outcome)
		if outcome == OutcomeShutdown {
			return nil
		}
		return err
	}

	if !s.attach(upstream) {
		s.finish(OutcomeShutdown)
		return nil
	}
	s.setState(StateActive)
	s.logger.Info("session active")

	stop := context.AfterFunc(ctx, s.release)
	defer stop()

	err = s.forward()

	switch {
	case ctx.Err() != nil || s.isReleased():
		s.logger.Info("session stopped by shutdown")
		s.finish(OutcomeShutdown)
		return nil
	case err != nil:
		s.logger.Error("session transport error", observability.Error(err))
		s.finish(OutcomeError)
		return err
	default:
		s.finish(OutcomeClosed)
		return nil
	}
}

// Close releases both connections. It is safe to call concurrently with
// Run and more than once.
func (s *Session) Close() {
	s.release()
}

// forward runs the lock-step loop. It returns nil on a clean close by
// either peer.
func (s *Session) forward() error {
	for {
		mt, data, err := s.client.ReadMessage()
		if err != nil {
			if wsconn.IsCleanClose(err) {
				s.logger.Info("client closed connection")
				return nil
			}
			return &TransportError{Side: SideClient, Op: OpRead, Cause: err}
		}
		s.logMessage("client -> upstream", mt, data)

		if err := s.upstream.WriteMessage(mt, data); err != nil {
			return &TransportError{Side: SideUpstream, Op: OpWrite, Cause: err}
		}
		s.metrics.RecordMessage(observability.DirectionClientToUpstream)

		mt, data, err = s.upstream.ReadMessage()
		if err != nil {
			if wsconn.IsCleanClose(err) {
				// A client is still waiting on a reply, so this is an error
				// even though the close itself was clean.
				s.logger.Error("upstream closed connection while awaiting reply", observability.Error(err))
				return nil
			}
			return &TransportError{Side: SideUpstream, Op: OpRead, Cause: err}
		}
		s.logMessage("upstream -> client", mt, data)

		if err := s.client.WriteMessage(mt, data); err != nil {
			return &TransportError{Side: SideClient, Op: OpWrite, Cause: err}
		}
		s.metrics.RecordMessage(observability.DirectionUpstreamToClient)
	}
}

func (s *Session) logMessage(msg string, messageType int, data []byte) {
	if messageType == wsconn.TextMessage && utf8.Valid(data) {
		s.logger.Info(msg, observability.String("message", string(data)))
		return
	}
	s.logger.Info(msg, observability.Binary("message", data))
}

// attach stores the upstream connection. It returns false and closes conn
// if the session was already released.
func (s *Session) attach(conn wsconn.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		_ = conn.Close()
		return false
	}
	s.upstream = conn
	return true
}

// release closes the upstream connection, if any, and then the client
// connection. Only the first call has an effect.
func (s *Session) release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.state.CompareAndSwap(int32(StateActive), int32(StateClosing))
	upstream := s.upstream
	s.mu.Unlock()

	if upstream != nil {
		if err := upstream.Close(); err != nil {
			s.logger.Debug("upstream close failed", observability.Error(err))
		}
	}
	if err := s.client.Close(); err != nil {
		s.logger.Debug("client close failed", observability.Error(err))
	}
}

func (s *Session) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *Session) finish(outcome string) {
	s.release()
	s.mu.Lock()
	if s.outcome == "" {
		s.outcome = outcome
	}
	s.mu.Unlock()
	s.setState(StateClosed)
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}
