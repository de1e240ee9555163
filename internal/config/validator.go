package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates relay configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// ValidateConfig validates a relay configuration.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration and returns ValidationErrors if any
// check fails.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&cfg.Server)
	v.validateUpstream(&cfg.Upstream)
	v.validateRetry(&cfg.Retry)
	v.validateLogging(&cfg.Logging)
	v.validateMetrics(&cfg.Metrics, cfg.Server.Port)
	v.validateTracing(&cfg.Tracing)
	v.validateRateLimit(&cfg.RateLimit)
	v.validateCircuitBreaker(&cfg.CircuitBreaker)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateServer(s *ServerConfig) {
	if s.Host == "" {
		v.addError("server.host", "host is required")
	}
	v.validatePort("server.port", s.Port)

	switch {
	case !strings.HasPrefix(s.WebSocketPath, "/"):
		v.addError("server.websocketPath", "websocketPath must start with /")
	case s.WebSocketPath == "/" || s.WebSocketPath == "/help":
		v.addError("server.websocketPath", "websocketPath must not shadow the help page")
	}

	if s.ReadTimeout < 0 {
		v.addError("server.readTimeout", "readTimeout cannot be negative")
	}
	if s.WriteTimeout < 0 {
		v.addError("server.writeTimeout", "writeTimeout cannot be negative")
	}
	if s.ShutdownTimeout < 0 {
		v.addError("server.shutdownTimeout", "shutdownTimeout cannot be negative")
	}
	for i, p := range s.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			v.addError(fmt.Sprintf("server.trustedProxies[%d]", i), fmt.Sprintf("invalid CIDR or IP: %s", p))
		}
	}
}

func (v *Validator) validateUpstream(u *UpstreamConfig) {
	v.validateURL("upstream.httpBaseURL", u.HTTPBaseURL, "http", "https")
	v.validateURL("upstream.websocketURL", u.WebSocketURL, "ws", "wss")

	if u.HandshakeTimeout < 0 {
		v.addError("upstream.handshakeTimeout", "handshakeTimeout cannot be negative")
	}
	if u.HTTPTimeout < 0 {
		v.addError("upstream.httpTimeout", "httpTimeout cannot be negative")
	}
}

func (v *Validator) validateRetry(r *RetryConfig) {
	if r.MaxAttempts < 1 {
		v.addError("retry.maxAttempts", "maxAttempts must be at least 1")
	}
	if r.BaseDelay < 0 {
		v.addError("retry.baseDelay", "baseDelay cannot be negative")
	}
}

func (v *Validator) validateLogging(l *LoggingConfig) {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(l.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level: %s", l.Level))
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(l.Format)] {
		v.addError("logging.format", fmt.Sprintf("invalid log format: %s", l.Format))
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true}
	if !validOutputs[strings.ToLower(l.Output)] {
		v.addError("logging.output", fmt.Sprintf("invalid log output: %s", l.Output))
	}
}

func (v *Validator) validateMetrics(m *MetricsConfig, serverPort int) {
	if !m.Enabled {
		return
	}
	v.validatePort("metrics.port", m.Port)
	if m.Port == serverPort {
		v.addError("metrics.port", "metrics port must differ from server port")
	}
	if !strings.HasPrefix(m.Path, "/") {
		v.addError("metrics.path", "metrics path must start with /")
	}
}

func (v *Validator) validateTracing(t *TracingConfig) {
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		v.addError("tracing.samplingRate", "samplingRate must be between 0 and 1")
	}
	if t.Enabled && t.OTLPEndpoint == "" {
		v.addError("tracing.otlpEndpoint", "otlpEndpoint is required when tracing is enabled")
	}
}

func (v *Validator) validateRateLimit(rl *RateLimitConfig) {
	if !rl.Enabled {
		return
	}
	if rl.RequestsPerSecond <= 0 {
		v.addError("rateLimit.requestsPerSecond", "requestsPerSecond must be positive when enabled")
	}
	if rl.Burst < 0 {
		v.addError("rateLimit.burst", "burst cannot be negative")
	}
}

func (v *Validator) validateCircuitBreaker(cb *CircuitBreakerConfig) {
	if !cb.Enabled {
		return
	}
	if cb.Threshold <= 0 {
		v.addError("circuitBreaker.threshold", "threshold must be positive when enabled")
	}
	if cb.Timeout.Duration() <= 0 {
		v.addError("circuitBreaker.timeout", "timeout must be positive when enabled")
	}
	if cb.HalfOpenRequests < 0 {
		v.addError("circuitBreaker.halfOpenRequests", "halfOpenRequests cannot be negative")
	}
}

func (v *Validator) validatePort(path string, port int) {
	if port < 1 || port > 65535 {
		v.addError(path, fmt.Sprintf("port must be between 1 and 65535, got %d", port))
	}
}

func (v *Validator) validateURL(path, raw string, schemes ...string) {
	if raw == "" {
		v.addError(path, "URL is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		v.addError(path, fmt.Sprintf("invalid URL: %v", err))
		return
	}
	schemeOK := false
	for _, s := range schemes {
		if u.Scheme == s {
			schemeOK = true
			break
		}
	}
	if !schemeOK {
		v.addError(path, fmt.Sprintf("scheme must be one of %s", strings.Join(schemes, ", ")))
	}
	if u.Host == "" {
		v.addError(path, "URL must include a host")
	}
}

// addError adds a validation error.
func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
