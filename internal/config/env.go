package config

import (
	"fmt"
	"strconv"
)

// Environment variables recognized by ApplyEnvOverrides.
const (
	EnvHost             = "AVARELAY_HOST"
	EnvPort             = "AVARELAY_PORT"
	EnvHTTPTarget       = "AVARELAY_HTTP_TARGET"
	EnvWSTarget         = "AVARELAY_WS_TARGET"
	EnvRetryMaxAttempts = "AVARELAY_RETRY_MAX_ATTEMPTS"
	EnvRetryBaseDelay   = "AVARELAY_RETRY_BASE_DELAY"
	EnvLogLevel         = "AVARELAY_LOG_LEVEL"
	EnvLogFormat        = "AVARELAY_LOG_FORMAT"
	EnvMetricsPort      = "AVARELAY_METRICS_PORT"
)

// ApplyEnvOverrides copies set, non-empty environment variables into cfg.
// Malformed numeric values are reported with the variable name.
func ApplyEnvOverrides(cfg *Config, lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}

	if v, ok := get(EnvHost); ok {
		cfg.Server.Host = v
	}
	if v, ok := get(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return envError(EnvPort, v, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := get(EnvHTTPTarget); ok {
		cfg.Upstream.HTTPBaseURL = v
	}
	if v, ok := get(EnvWSTarget); ok {
		cfg.Upstream.WebSocketURL = v
	}
	if v, ok := get(EnvRetryMaxAttempts); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError(EnvRetryMaxAttempts, v, err)
		}
		cfg.Retry.MaxAttempts = n
	}
	if v, ok := get(EnvRetryBaseDelay); ok {
		d, err := ParseDuration(v)
		if err != nil {
			return envError(EnvRetryBaseDelay, v, err)
		}
		cfg.Retry.BaseDelay = d
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get(EnvLogFormat); ok {
		cfg.Logging.Format = v
	}
	if v, ok := get(EnvMetricsPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return envError(EnvMetricsPort, v, err)
		}
		cfg.Metrics.Port = port
	}
	return nil
}

func envError(key, value string, err error) error {
	return fmt.Errorf("environment variable %s=%q: %w", key, value, err)
}
