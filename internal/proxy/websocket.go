package proxy

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/session"
	"github.com/vyrodovalexey/avarelay/internal/wsconn"
)

// WebSocketHandler upgrades inbound connections and runs a relay session
// for each of them.
type WebSocketHandler struct {
	ctx      context.Context
	registry *session.Registry
	upgrader websocket.Upgrader
	logger   observability.Logger
	tracer   *observability.Tracer
}

// WebSocketOption is a functional option for configuring the handler.
type WebSocketOption func(*WebSocketHandler)

// WithWebSocketLogger sets the logger.
func WithWebSocketLogger(logger observability.Logger) WebSocketOption {
	return func(h *WebSocketHandler) {
		h.logger = logger
	}
}

// WithWebSocketTracer sets the tracer used for session spans.
func WithWebSocketTracer(t *observability.Tracer) WebSocketOption {
	return func(h *WebSocketHandler) {
		h.tracer = t
	}
}

// WithUpgrader replaces the default upgrader.
func WithUpgrader(u websocket.Upgrader) WebSocketOption {
	return func(h *WebSocketHandler) {
		h.upgrader = u
	}
}

// NewWebSocketHandler creates a handler. Sessions run under ctx, so
// cancelling it ends every session the handler started.
func NewWebSocketHandler(
	ctx context.Context,
	registry *session.Registry,
	opts ...WebSocketOption,
) *WebSocketHandler {
	h := &WebSocketHandler{
		ctx:      ctx,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler. It blocks for the lifetime of the
// session.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		h.logger.WithContext(r.Context()).Debug("websocket upgrade failed",
			observability.String("client_ip", clientIP(r)),
			observability.Error(err),
		)
		return
	}

	s, err := h.registry.Open(wsconn.NewAdapter(conn))
	if err != nil {
		h.logger.Warn("websocket connection rejected", observability.Error(err))
		return
	}

	ctx, span := h.tracer.StartSpan(h.ctx, "websocket.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithLinks(trace.LinkFromContext(r.Context())),
		trace.WithAttributes(
			attribute.Int64("session.id", int64(s.ID())),
			attribute.String("client.address", clientIP(r)),
		),
	)
	defer span.End()

	if err := h.registry.Serve(ctx, s); err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("session.outcome", s.Outcome()))
}
