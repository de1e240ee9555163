package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avarelay/internal/config"
	"github.com/vyrodovalexey/avarelay/internal/health"
	"github.com/vyrodovalexey/avarelay/internal/middleware"
	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/proxy"
	"github.com/vyrodovalexey/avarelay/internal/retry"
	"github.com/vyrodovalexey/avarelay/internal/session"
	"github.com/vyrodovalexey/avarelay/internal/upstream"
)

// Listener timeouts not covered by configuration.
const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
	maxHeaderBytes    = 1 << 20

	upstreamCheckTTL     = 15 * time.Second
	upstreamCheckTimeout = 3 * time.Second
)

var ginModeOnce sync.Once

// State represents the server state.
type State int32

const (
	// StateStopped indicates the server is stopped.
	StateStopped State = iota
	// StateStarting indicates the server is starting.
	StateStarting
	// StateRunning indicates the server is running.
	StateRunning
	// StateStopping indicates the server is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// PolicySetter is implemented by connectors whose retry policy can be
// replaced at runtime.
type PolicySetter interface {
	SetPolicy(retry.Policy)
}

// Server is the relay server.
type Server struct {
	cfg     *config.Config
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	version string

	connector session.Connector
	registry  *session.Registry
	forwarder *proxy.HTTPForwarder
	health    *health.Handler
	extractor *middleware.ClientIPExtractor
	transport http.RoundTripper

	sessionsCtx    context.Context
	cancelSessions context.CancelFunc

	engine        *gin.Engine
	httpServer    *http.Server
	metricsServer *http.Server
	listener      net.Listener
	metricsLn     net.Listener
	rateLimiter   *middleware.RateLimiter
	breaker       *middleware.CircuitBreaker
	serveWG       sync.WaitGroup

	state     atomic.Int32
	startTime time.Time
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithConnector replaces the upstream WebSocket connector.
func WithConnector(c session.Connector) Option {
	return func(s *Server) {
		s.connector = c
	}
}

// WithHTTPTransport sets the transport used for HTTP forwarding.
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(s *Server) {
		s.transport = rt
	}
}

// New creates a server for cfg. Nothing listens until Start.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	s := &Server{
		cfg:    cfg,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil && cfg.Metrics.Enabled {
		s.metrics = observability.NewMetrics(config.DefaultServiceName)
		s.metrics.InitVecMetrics()
	}

	if s.connector == nil {
		s.connector = upstream.NewConnector(cfg.Upstream.WebSocketURL,
			upstream.WithDialer(upstream.NewWebSocketDialer(cfg.Upstream.HandshakeTimeout.Duration())),
			upstream.WithPolicy(cfg.Retry.Policy()),
			upstream.WithLogger(s.logger),
			upstream.WithMetrics(s.metrics),
		)
	}

	fwdOpts := []proxy.ForwarderOption{
		proxy.WithForwarderLogger(s.logger),
		proxy.WithForwarderMetrics(s.metrics),
		proxy.WithForwarderTracer(s.tracer),
		proxy.WithTimeout(cfg.Upstream.HTTPTimeout.Duration()),
	}
	if s.transport != nil {
		fwdOpts = append(fwdOpts, proxy.WithTransport(s.transport))
	}
	forwarder, err := proxy.NewHTTPForwarder(cfg.Upstream.HTTPBaseURL, fwdOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP forwarder: %w", err)
	}
	s.forwarder = forwarder

	s.registry = session.NewRegistry(s.connector,
		session.WithRegistryLogger(s.logger),
		session.WithRegistryMetrics(s.metrics),
	)
	s.extractor = middleware.NewClientIPExtractor(cfg.Server.TrustedProxies)
	s.health = health.NewHandler(
		health.WithLogger(s.logger),
		health.WithVersion(s.version),
		health.WithSessions(s.registry),
	)
	s.addUpstreamChecks()

	s.sessionsCtx, s.cancelSessions = context.WithCancel(context.Background())
	s.state.Store(int32(StateStopped))

	return s, nil
}

// addUpstreamChecks registers non-critical reachability checks for both
// upstream targets.
func (s *Server) addUpstreamChecks() {
	targets := []struct{ name, url string }{
		{"upstream_http", s.cfg.Upstream.HTTPBaseURL},
		{"upstream_websocket", s.cfg.Upstream.WebSocketURL},
	}
	for _, t := range targets {
		addr, err := health.UpstreamAddress(t.url)
		if err != nil {
			s.logger.Warn("skipping upstream health check",
				observability.String("check", t.name),
				observability.Error(err),
			)
			continue
		}
		check := health.TCPHealthCheck(t.name, addr, upstreamCheckTimeout, health.WithCritical(false))
		s.health.AddCheck(health.NewCachedHealthCheck(check, upstreamCheckTTL))
	}
}

// Start binds the listeners and begins serving. It returns once both
// listeners are bound.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrNotStopped
	}

	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	s.engine = s.newEngine()
	handler := s.buildHandler(s.engine)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Server.Address())
	if err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Address(), err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadTimeout:       s.cfg.Server.ReadTimeout.Duration(),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}

	if s.cfg.Metrics.Enabled {
		if err := s.startMetrics(ctx); err != nil {
			_ = ln.Close()
			s.stopMiddleware()
			s.state.Store(int32(StateStopped))
			return err
		}
	}

	s.serve("relay", s.httpServer, ln)

	s.startTime = time.Now()
	s.state.Store(int32(StateRunning))

	help := s.helpData()
	s.logger.Info("relay server started",
		observability.String("address", ln.Addr().String()),
		observability.String("http_target", help.HTTPTarget),
		observability.String("websocket_target", help.WebSocketTarget),
		observability.String("websocket_url", help.WebSocketURL),
		observability.String("help_url", help.HTTPURL+"/help"),
	)

	return nil
}

func (s *Server) startMetrics(ctx context.Context) error {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET(s.cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	s.health.RegisterRoutes(engine)

	addr := fmt.Sprintf(":%d", s.cfg.Metrics.Port)
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.metricsLn = ln

	s.metricsServer = &http.Server{
		Handler:           engine,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	s.serve("metrics", s.metricsServer, ln)

	s.logger.Info("metrics server started",
		observability.String("address", ln.Addr().String()),
		observability.String("metrics_path", s.cfg.Metrics.Path),
	)
	return nil
}

func (s *Server) serve(name string, srv *http.Server, ln net.Listener) {
	s.serveWG.Add(1)
	go func() {
		defer s.serveWG.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("listener error",
				observability.String("name", name),
				observability.Error(err),
			)
		}
	}()
}

// Stop shuts the relay down: it stops accepting connections, waits for
// in-flight HTTP forwards, cancels running sessions and waits for them to
// release their connections. ctx bounds the whole sequence; without a
// deadline the configured shutdown timeout applies.
func (s *Server) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrNotRunning
	}

	if _, ok := ctx.Deadline(); !ok && s.cfg.Server.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
	}

	s.logger.Info("stopping relay server",
		observability.Int("active_sessions", s.registry.Active()),
	)
	s.health.SetDraining(true)

	var errs []error

	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("relay listener shutdown: %w", err))
		_ = s.httpServer.Close()
	}

	s.cancelSessions()
	s.registry.Close()
	if err := s.registry.Drain(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sessions did not finish: %w", err))
	}

	s.stopMiddleware()

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics listener shutdown: %w", err))
			_ = s.metricsServer.Close()
		}
	}

	s.serveWG.Wait()
	s.state.Store(int32(StateStopped))

	s.logger.Info("relay server stopped",
		observability.Duration("uptime", s.Uptime()),
	)

	return errors.Join(errs...)
}

func (s *Server) stopMiddleware() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// Reload applies the parts of cfg that can change at runtime. The retry
// policy takes effect for sessions that start connecting afterwards.
// Changes to anything else are logged and need a restart.
func (s *Server) Reload(cfg *config.Config) {
	if setter, ok := s.connector.(PolicySetter); ok {
		setter.SetPolicy(cfg.Retry.Policy())
	}

	restart := make([]string, 0)
	if cfg.Server.Address() != s.cfg.Server.Address() {
		restart = append(restart, "server.address")
	}
	if cfg.Server.WebSocketPath != s.cfg.Server.WebSocketPath {
		restart = append(restart, "server.websocketPath")
	}
	if cfg.Upstream.HTTPBaseURL != s.cfg.Upstream.HTTPBaseURL {
		restart = append(restart, "upstream.httpBaseURL")
	}
	if cfg.Upstream.WebSocketURL != s.cfg.Upstream.WebSocketURL {
		restart = append(restart, "upstream.websocketURL")
	}

	s.logger.Info("configuration applied",
		observability.Int("retry_max_attempts", cfg.Retry.MaxAttempts),
		observability.Duration("retry_base_delay", cfg.Retry.BaseDelay.Duration()),
	)
	if len(restart) > 0 {
		s.logger.Warn("configuration changes require a restart",
			observability.Any("fields", restart),
		)
	}
}

// State returns the current server state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.State() == StateRunning
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// Addr returns the bound relay address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// MetricsAddr returns the bound metrics address, or nil when disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsLn == nil {
		return nil
	}
	return s.metricsLn.Addr()
}

// Registry returns the session registry.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Health returns the health handler.
func (s *Server) Health() *health.Handler {
	return s.health
}

// Engine returns the gin engine, or nil before Start.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Metrics returns the metrics, or nil when metrics are disabled and none
// were supplied.
func (s *Server) Metrics() *observability.Metrics {
	return s.metrics
}

// Connector returns the upstream WebSocket connector.
func (s *Server) Connector() session.Connector {
	return s.connector
}
