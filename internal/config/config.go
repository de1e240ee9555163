package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/vyrodovalexey/avarelay/internal/retry"
)

// Default values.
const (
	DefaultHost             = "localhost"
	DefaultPort             = 8766
	DefaultWebSocketPath    = "/v1/ws"
	DefaultHTTPBaseURL      = "https://api.heygen.com"
	DefaultWebSocketURL     = "wss://api.heygen.com/v1/ws"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadTimeout      = 30 * time.Second
	DefaultWriteTimeout     = 30 * time.Second
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
	DefaultServiceName      = "avarelay"
)

// Config is the complete relay configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server" json:"server"`
	Upstream       UpstreamConfig       `yaml:"upstream" json:"upstream"`
	Retry          RetryConfig          `yaml:"retry" json:"retry"`
	Logging        LoggingConfig        `yaml:"logging" json:"logging"`
	Metrics        MetricsConfig        `yaml:"metrics" json:"metrics"`
	Tracing        TracingConfig        `yaml:"tracing" json:"tracing"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit" json:"rateLimit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
}

// ServerConfig configures the inbound listener.
type ServerConfig struct {
	Host            string   `yaml:"host" json:"host"`
	Port            int      `yaml:"port" json:"port"`
	WebSocketPath   string   `yaml:"websocketPath" json:"websocketPath"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For header
	// is honoured when resolving the client IP.
	TrustedProxies []string `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// UpstreamConfig names the fixed upstream service.
type UpstreamConfig struct {
	HTTPBaseURL      string   `yaml:"httpBaseURL" json:"httpBaseURL"`
	WebSocketURL     string   `yaml:"websocketURL" json:"websocketURL"`
	HandshakeTimeout Duration `yaml:"handshakeTimeout" json:"handshakeTimeout"`
	// HTTPTimeout bounds a forwarded HTTP request. Zero means no limit.
	HTTPTimeout Duration `yaml:"httpTimeout" json:"httpTimeout"`
}

// RetryConfig configures upstream WebSocket connect retries.
type RetryConfig struct {
	MaxAttempts int      `yaml:"maxAttempts" json:"maxAttempts"`
	BaseDelay   Duration `yaml:"baseDelay" json:"baseDelay"`
}

// Policy converts the configuration to a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay.Duration(),
	}
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig configures the metrics and health listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
}

// RateLimitConfig configures inbound HTTP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RequestsPerSecond int  `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int  `yaml:"burst" json:"burst"`
	PerClient         bool `yaml:"perClient" json:"perClient"`
}

// CircuitBreakerConfig configures the breaker in front of HTTP forwards.
type CircuitBreakerConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	Threshold        int      `yaml:"threshold" json:"threshold"`
	Timeout          Duration `yaml:"timeout" json:"timeout"`
	HalfOpenRequests int      `yaml:"halfOpenRequests" json:"halfOpenRequests"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			WebSocketPath:   DefaultWebSocketPath,
			ReadTimeout:     Duration(DefaultReadTimeout),
			WriteTimeout:    Duration(DefaultWriteTimeout),
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
		},
		Upstream: UpstreamConfig{
			HTTPBaseURL:      DefaultHTTPBaseURL,
			WebSocketURL:     DefaultWebSocketURL,
			HandshakeTimeout: Duration(DefaultHandshakeTimeout),
		},
		Retry: RetryConfig{
			MaxAttempts: retry.DefaultMaxAttempts,
			BaseDelay:   Duration(retry.DefaultBaseDelay),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    DefaultMetricsPort,
			Path:    DefaultMetricsPath,
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
			ServiceName:  DefaultServiceName,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			PerClient:         true,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Threshold:        5,
			Timeout:          Duration(30 * time.Second),
			HalfOpenRequests: 1,
		},
	}
}

// String returns a one-line summary for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("listen=%s ws=%s http_target=%s ws_target=%s retry=%s",
		c.Server.Address(), c.Server.WebSocketPath,
		c.Upstream.HTTPBaseURL, c.Upstream.WebSocketURL,
		c.Retry.Policy())
}
