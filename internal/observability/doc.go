// Package observability provides logging, metrics, and tracing
// functionality for the relay.
//
// # Logging
//
// The Logger interface wraps zap and is passed explicitly to every
// component; there is no process-wide logger:
//
//	logger, err := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("session opened",
//	    observability.Uint64("session_id", 7),
//	)
//
// # Metrics
//
// Prometheus metrics for relay sessions, upstream connects and HTTP
// forwards live on a dedicated registry:
//
//	metrics := observability.NewMetrics("avarelay")
//	http.Handle("/metrics", metrics.Handler())
//
// # Tracing
//
// OpenTelemetry tracing with OTLP gRPC export. A disabled tracer still
// returns usable, non-recording spans.
package observability
