package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/wsconn"
)

// Info is a point-in-time view of a session.
type Info struct {
	ID        uint64    `json:"id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"startedAt"`
}

// Registry assigns session identifiers and tracks running sessions.
type Registry struct {
	connector Connector
	logger    observability.Logger
	metrics   *observability.Metrics

	nextID atomic.Uint64

	mu       sync.Mutex
	sessions map[uint64]*Session
	idle     chan struct{}
	closed   bool
}

// RegistryOption is a functional option for configuring the registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithRegistryMetrics sets the metrics sink.
func WithRegistryMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates a registry whose sessions use connector.
func NewRegistry(connector Connector, opts ...RegistryOption) *Registry {
	r := &Registry{
		connector: connector,
		logger:    observability.NopLogger(),
		sessions:  make(map[uint64]*Session),
		idle:      make(chan struct{}),
	}
	close(r.idle)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NextID returns a new session identifier. Identifiers start at 1 and
// increase monotonically.
func (r *Registry) NextID() uint64 {
	return r.nextID.Add(1)
}

// Open creates and registers a session for client. The caller must pass
// the session to Serve.
func (r *Registry) Open(client wsconn.Conn) (*Session, error) {
	s := New(r.NextID(), client, r.connector,
		WithLogger(r.logger),
		WithMetrics(r.metrics),
	)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = client.Close()
		return nil, ErrRegistryClosed
	}
	if len(r.sessions) == 0 {
		r.idle = make(chan struct{})
	}
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	r.metrics.SessionOpened()
	r.logger.Info("client connected", observability.Uint64("session_id", s.ID()))
	return s, nil
}

// Serve runs s until it ends and then unregisters it.
func (r *Registry) Serve(ctx context.Context, s *Session) error {
	defer r.remove(s)
	return s.Run(ctx)
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	if _, ok := r.sessions[s.ID()]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s.ID())
	if len(r.sessions) == 0 {
		close(r.idle)
	}
	r.mu.Unlock()

	r.metrics.SessionClosed(s.Outcome(), time.Since(s.StartedAt()))
}

// Active returns the number of registered sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns the registered sessions ordered by ID.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, Info{
			ID:        s.ID(),
			State:     s.State().String(),
			StartedAt: s.StartedAt(),
		})
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close stops accepting new sessions and releases every registered one.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Drain waits until no sessions are registered or ctx is done.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
