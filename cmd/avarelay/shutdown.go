package main

import (
	"context"
	"errors"

	"github.com/vyrodovalexey/avarelay/internal/config"
	"github.com/vyrodovalexey/avarelay/internal/observability"
)

// run starts the relay and blocks until ctx is cancelled, then shuts down.
func run(ctx context.Context, cfg *config.Config, configPath string, logger observability.Logger) error {
	app, err := initApplication(cfg, logger)
	if err != nil {
		return err
	}

	if err := app.server.Start(ctx); err != nil {
		_ = app.tracer.Shutdown(context.Background())
		return err
	}

	watcher := startConfigWatcher(ctx, app, configPath, logger)

	<-ctx.Done()
	logger.Info("received shutdown signal")

	return shutdown(app, watcher, logger)
}

// shutdown stops the components in reverse start order. The server
// applies its configured shutdown timeout.
func shutdown(app *application, watcher *config.Watcher, logger observability.Logger) error {
	var errs []error

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Error("failed to stop config watcher", observability.Error(err))
		}
	}

	if err := app.server.Stop(context.Background()); err != nil {
		logger.Error("failed to stop relay gracefully", observability.Error(err))
		errs = append(errs, err)
	}

	timeout := app.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := app.tracer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
		errs = append(errs, err)
	}

	logger.Info("avarelay stopped")
	return errors.Join(errs...)
}
