package main

import (
	"context"
	"fmt"

	"github.com/vyrodovalexey/avarelay/internal/config"
	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/server"
)

// application holds all application components.
type application struct {
	server  *server.Server
	metrics *observability.Metrics
	tracer  *observability.Tracer
	config  *config.Config
}

// initApplication initializes all application components.
func initApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	logger.Info("starting avarelay",
		observability.String("version", version),
		observability.String("config", cfg.String()),
	)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(config.DefaultServiceName)
		metrics.InitVecMetrics()
		metrics.SetBuildInfo(version, gitCommit, buildTime)
	}

	tracer, err := initTracer(cfg, logger)
	if err != nil {
		return nil, err
	}

	srv, err := server.New(cfg,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithTracer(tracer),
		server.WithVersion(version),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay server: %w", err)
	}

	return &application{
		server:  srv,
		metrics: metrics,
		tracer:  tracer,
		config:  cfg,
	}, nil
}

// initTracer initializes the tracer.
func initTracer(cfg *config.Config, logger observability.Logger) (*observability.Tracer, error) {
	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	if tracer.Enabled() {
		logger.Info("tracing enabled",
			observability.String("endpoint", cfg.Tracing.OTLPEndpoint),
			observability.Float64("sampling_rate", cfg.Tracing.SamplingRate),
		)
	}
	return tracer, nil
}

// startConfigWatcher watches the configuration file and applies reloads to
// the running server. It returns nil when no file is in use or the watcher
// cannot start; the relay keeps running on the loaded configuration.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	if configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(configPath,
		func(cfg *config.Config) {
			app.server.Reload(cfg)
			app.metrics.RecordConfigReload(true)
		},
		config.WithLogger(logger),
		config.WithErrorCallback(func(error) {
			app.metrics.RecordConfigReload(false)
		}),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		return nil
	}
	return watcher
}
