package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/session"
)

// Default probe timeouts.
const (
	// DefaultReadinessProbeTimeout bounds the readiness checks.
	DefaultReadinessProbeTimeout = 5 * time.Second

	// DefaultHealthProbeTimeout bounds the detailed health checks.
	DefaultHealthProbeTimeout = 10 * time.Second
)

// Status values reported by the handlers.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
	StatusDraining = "draining"
)

// SessionLister exposes the open relay sessions.
type SessionLister interface {
	Active() int
	Snapshot() []session.Info
}

// HealthStatus is the body of /health and /ready.
type HealthStatus struct {
	Status         string                  `json:"status"`
	Timestamp      time.Time               `json:"timestamp"`
	Version        string                  `json:"version,omitempty"`
	Uptime         string                  `json:"uptime,omitempty"`
	ActiveSessions *int                    `json:"activeSessions,omitempty"`
	Checks         map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Status    string    `json:"status"`
	Critical  bool      `json:"critical"`
	Error     string    `json:"error,omitempty"`
	Duration  string    `json:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler serves the probe endpoints.
type Handler struct {
	logger    observability.Logger
	version   string
	sessions  SessionLister
	startTime time.Time

	readinessTimeout time.Duration
	healthTimeout    time.Duration

	draining atomic.Bool

	mu     sync.RWMutex
	checks []HealthCheck
}

// Option is a functional option for configuring the handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(h *Handler) {
		h.version = version
	}
}

// WithSessions enables /sessions and the session count on /health.
func WithSessions(sessions SessionLister) Option {
	return func(h *Handler) {
		h.sessions = sessions
	}
}

// WithProbeTimeouts overrides the readiness and health check timeouts.
func WithProbeTimeouts(readiness, health time.Duration) Option {
	return func(h *Handler) {
		if readiness > 0 {
			h.readinessTimeout = readiness
		}
		if health > 0 {
			h.healthTimeout = health
		}
	}
}

// NewHandler creates a new health handler.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		logger:           observability.NopLogger(),
		startTime:        time.Now(),
		readinessTimeout: DefaultReadinessProbeTimeout,
		healthTimeout:    DefaultHealthProbeTimeout,
		checks:           make([]HealthCheck, 0),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddCheck adds a health check.
func (h *Handler) AddCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// RemoveCheck removes a health check by name.
func (h *Handler) RemoveCheck(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, check := range h.checks {
		if check.Name() == name {
			h.checks = append(h.checks[:i], h.checks[i+1:]...)
			return
		}
	}
}

// SetDraining marks the relay as shutting down. Readiness fails while set.
func (h *Handler) SetDraining(draining bool) {
	h.draining.Store(draining)
}

// Draining reports whether SetDraining(true) was called.
func (h *Handler) Draining() bool {
	return h.draining.Load()
}

// LivenessHandler always answers 200.
func (h *Handler) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    StatusOK,
			"timestamp": time.Now().UTC(),
		})
	}
}

// ReadinessHandler answers 503 while draining or when a critical check fails.
func (h *Handler) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Draining() {
			c.JSON(http.StatusServiceUnavailable, &HealthStatus{
				Status:    StatusDraining,
				Timestamp: time.Now().UTC(),
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), h.readinessTimeout)
		defer cancel()

		status := h.runChecks(ctx)
		c.JSON(statusCode(status), status)
	}
}

// HealthHandler runs every check and reports uptime and session count.
func (h *Handler) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.healthTimeout)
		defer cancel()

		status := h.runChecks(ctx)
		status.Version = h.version
		status.Uptime = time.Since(h.startTime).Round(time.Second).String()
		if h.sessions != nil {
			active := h.sessions.Active()
			status.ActiveSessions = &active
		}
		if h.Draining() && status.Status == StatusOK {
			status.Status = StatusDraining
		}

		c.JSON(statusCode(status), status)
	}
}

// SessionsHandler lists the open relay sessions ordered by ID.
func (h *Handler) SessionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot := []session.Info{}
		if h.sessions != nil {
			if s := h.sessions.Snapshot(); s != nil {
				snapshot = s
			}
		}
		c.JSON(http.StatusOK, snapshot)
	}
}

// RegisterRoutes registers the probe routes on a gin engine.
func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/health", h.HealthHandler())
	engine.GET("/healthz", h.LivenessHandler())
	engine.GET("/live", h.LivenessHandler())
	engine.GET("/livez", h.LivenessHandler())
	engine.GET("/readyz", h.ReadinessHandler())
	engine.GET("/ready", h.ReadinessHandler())
	engine.GET("/sessions", h.SessionsHandler())
}

func statusCode(status *HealthStatus) int {
	if status.Status == StatusError || status.Status == StatusDraining {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// runChecks runs all checks concurrently. A failing critical check turns
// the status to error, a failing non-critical one to degraded.
func (h *Handler) runChecks(ctx context.Context) *HealthStatus {
	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := &HealthStatus{
		Status:    StatusOK,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]*CheckResult, len(checks)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, check := range checks {
		wg.Add(1)
		go func(c HealthCheck) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			duration := time.Since(start)

			result := &CheckResult{
				Status:    StatusOK,
				Critical:  isCritical(c),
				Duration:  duration.String(),
				Timestamp: time.Now().UTC(),
			}

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				result.Status = StatusError
				result.Error = err.Error()

				switch {
				case result.Critical:
					status.Status = StatusError
				case status.Status == StatusOK:
					status.Status = StatusDegraded
				}

				h.logger.Warn("health check failed",
					observability.String("check", c.Name()),
					observability.Bool("critical", result.Critical),
					observability.Error(err),
					observability.Duration("duration", duration),
				)
			}
			status.Checks[c.Name()] = result
		}(check)
	}

	wg.Wait()
	return status
}
