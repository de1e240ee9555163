package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Direction label values for forwarded messages.
const (
	DirectionClientToUpstream = "client_to_upstream"
	DirectionUpstreamToClient = "upstream_to_client"
)

// Metrics holds all Prometheus metrics for the relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessionsTotal       *prometheus.CounterVec
	sessionsActive      prometheus.Gauge
	sessionDuration     prometheus.Histogram
	messagesForwarded   *prometheus.CounterVec
	connectAttempts     *prometheus.CounterVec
	connectExhausted    prometheus.Counter
	httpForwardsTotal   *prometheus.CounterVec
	httpForwardDuration *prometheus.HistogramVec
	httpForwardErrors   prometheus.Counter
	rateLimitHits       prometheus.Counter
	circuitBreaker      *prometheus.GaugeVec
	configReloads       *prometheus.CounterVec
	buildInfo           *prometheus.GaugeVec
	startTime           prometheus.Gauge
	registry            *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "avarelay"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "sessions_total",
			Help:      "Total number of relay sessions by outcome",
		},
		[]string{"outcome"},
	)

	m.sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "sessions_active",
			Help:      "Number of relay sessions currently open",
		},
	)

	m.sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "session_duration_seconds",
			Help:      "Lifetime of relay sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	m.messagesForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_forwarded_total",
			Help:      "Total number of WebSocket messages forwarded",
		},
		[]string{"direction"},
	)

	m.connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "connect_attempts_total",
			Help:      "Total number of upstream WebSocket dial attempts",
		},
		[]string{"result"},
	)

	m.connectExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "connect_exhausted_total",
			Help:      "Total number of upstream connects that ran out of attempts",
		},
	)

	m.httpForwardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "forwards_total",
			Help:      "Total number of forwarded HTTP requests",
		},
		[]string{"method", "status"},
	)

	m.httpForwardDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "forward_duration_seconds",
			Help:      "Upstream HTTP round trip duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"method"},
	)

	m.httpForwardErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "forward_errors_total",
			Help:      "Total number of HTTP forwards that failed at the transport level",
		},
	)

	m.rateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
	)

	m.circuitBreaker = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help: "Circuit breaker state " +
				"(0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	m.configReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Total number of configuration reloads by result",
		},
		[]string{"result"},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for the relay",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.startTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help: "Start time of the relay " +
				"in unix seconds",
		},
	)

	m.registerCollectors()

	m.startTime.SetToCurrentTime()

	return m
}

// registerCollectors registers all metric collectors with the
// Prometheus registry.
func (m *Metrics) registerCollectors() {
	m.registry.MustRegister(
		m.sessionsTotal,
		m.sessionsActive,
		m.sessionDuration,
		m.messagesForwarded,
		m.connectAttempts,
		m.connectExhausted,
		m.httpForwardsTotal,
		m.httpForwardDuration,
		m.httpForwardErrors,
		m.rateLimitHits,
		m.circuitBreaker,
		m.configReloads,
		m.buildInfo,
		m.startTime,
	)

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)
}

// InitVecMetrics pre-populates common label combinations with zero
// values so that Vec metrics appear in /metrics output immediately
// after startup. This method is idempotent.
func (m *Metrics) InitVecMetrics() {
	if m == nil {
		return
	}
	for _, outcome := range []string{"closed", "error", "connect_failed", "client_gone", "shutdown"} {
		m.sessionsTotal.WithLabelValues(outcome)
	}
	m.messagesForwarded.WithLabelValues(DirectionClientToUpstream)
	m.messagesForwarded.WithLabelValues(DirectionUpstreamToClient)
	m.connectAttempts.WithLabelValues("success")
	m.connectAttempts.WithLabelValues("failure")
	m.configReloads.WithLabelValues("success")
	m.configReloads.WithLabelValues("failure")
}

// SessionOpened records a new relay session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionClosed records the end of a relay session.
func (m *Metrics) SessionClosed(outcome string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsTotal.WithLabelValues(outcome).Inc()
	m.sessionDuration.Observe(lifetime.Seconds())
}

// RecordMessage records one forwarded WebSocket message.
func (m *Metrics) RecordMessage(direction string) {
	if m == nil {
		return
	}
	m.messagesForwarded.WithLabelValues(direction).Inc()
}

// RecordConnectAttempt records the result of a single upstream dial.
func (m *Metrics) RecordConnectAttempt(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

// RecordConnectExhausted records an upstream connect that used every attempt.
func (m *Metrics) RecordConnectExhausted() {
	if m == nil {
		return
	}
	m.connectExhausted.Inc()
}

// RecordHTTPForward records a completed HTTP forward.
func (m *Metrics) RecordHTTPForward(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpForwardsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpForwardDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordHTTPForwardError records a transport level HTTP forward failure.
func (m *Metrics) RecordHTTPForwardError() {
	if m == nil {
		return
	}
	m.httpForwardErrors.Inc()
}

// RecordRateLimitHit records a rejected request.
func (m *Metrics) RecordRateLimitHit() {
	if m == nil {
		return
	}
	m.rateLimitHits.Inc()
}

// SetCircuitBreakerState sets the circuit breaker state.
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.circuitBreaker.WithLabelValues(name).Set(float64(state))
}

// RecordConfigReload records the result of a configuration reload.
func (m *Metrics) RecordConfigReload(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.configReloads.WithLabelValues(result).Inc()
}

// SetBuildInfo sets the build information metric.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
