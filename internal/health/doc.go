// Package health serves the relay's probe and introspection endpoints on
// the metrics listener.
//
// Routes registered by Handler.RegisterRoutes:
//
//	GET /live, /livez, /healthz   liveness, always 200 while the process runs
//	GET /ready, /readyz           readiness, 503 while draining or when a critical check fails
//	GET /health                   all checks plus uptime, version and active sessions
//	GET /sessions                 snapshot of open relay sessions
//
// Checks implement HealthCheck. TCPHealthCheck probes the upstream
// address; CachedHealthCheck and TimeoutHealthCheck decorate any check.
package health
