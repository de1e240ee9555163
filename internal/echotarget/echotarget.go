// Package echotarget implements a WebSocket server that answers every
// message with a timestamped echo. It stands in for the real upstream
// during manual runs and end-to-end tests of the relay.
package echotarget

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vyrodovalexey/avarelay/internal/observability"
)

// DefaultAddress is the address the echo target listens on by default.
const DefaultAddress = "localhost:8765"

// timestampLayout renders HH:MM:SS.mmm.
const timestampLayout = "15:04:05.000"

// Reply formats the echo for message at the given time.
func Reply(now time.Time, message string) string {
	return fmt.Sprintf("[%s] Echo: %s", now.Format(timestampLayout), message)
}

// Handler upgrades every request to a WebSocket and echoes each message.
type Handler struct {
	logger   observability.Logger
	now      func() time.Time
	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu    sync.Mutex
	conns map[uint64]*websocket.Conn
	wg    sync.WaitGroup
}

// Option configures the handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithClock sets the clock used for reply timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler creates an echo handler.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		logger: observability.NopLogger(),
		now:    time.Now,
		conns:  make(map[uint64]*websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("echo upgrade failed", observability.Error(err))
		return
	}

	id := h.track(conn)
	logger := h.logger.With(observability.Uint64("client_id", id))
	logger.Info("client connected", observability.String("remote", r.RemoteAddr))
	defer func() {
		h.untrack(id)
		_ = conn.Close()
		logger.Info("client connection terminated")
	}()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Info("client connection closed")
			} else {
				logger.Warn("client read error", observability.Error(err))
			}
			return
		}
		logger.Info("received message", observability.String("message", string(msg)))

		reply := Reply(h.now(), string(msg))
		logger.Info("sending message", observability.String("message", reply))
		if err := conn.WriteMessage(mt, []byte(reply)); err != nil {
			logger.Warn("client write error", observability.Error(err))
			return
		}
	}
}

func (h *Handler) track(conn *websocket.Conn) uint64 {
	id := h.nextID.Add(1)
	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()
	h.wg.Add(1)
	return id
}

func (h *Handler) untrack(id uint64) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
	h.wg.Done()
}

// Clients returns the number of connected clients.
func (h *Handler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll closes every client connection and waits for their handlers to
// return.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	for _, conn := range h.conns {
		_ = conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// Server runs a Handler on its own listener.
type Server struct {
	handler *Handler
	logger  observability.Logger
	srv     *http.Server
	ln      net.Listener
	done    chan struct{}
}

// NewServer creates an echo server. Options apply to its handler.
func NewServer(opts ...Option) *Server {
	h := NewHandler(opts...)
	return &Server{
		handler: h,
		logger:  h.logger,
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		done: make(chan struct{}),
	}
}

// Start listens on addr and serves in the background.
func (s *Server) Start(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.ln = ln

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("echo server error", observability.Error(err))
		}
	}()

	s.logger.Info("echo target running",
		observability.String("url", "ws://"+ln.Addr().String()),
	)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and every open client connection.
func (s *Server) Stop(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	s.logger.Info("shutting down echo target")

	err := s.srv.Shutdown(ctx)
	// Shutdown does not track hijacked connections.
	s.handler.CloseAll()
	<-s.done

	s.logger.Info("echo target shutdown complete")
	return err
}
