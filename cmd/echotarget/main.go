// Package main runs a WebSocket echo target for local relay testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/avarelay/internal/echotarget"
	"github.com/vyrodovalexey/avarelay/internal/observability"
)

func main() {
	addr := flag.String("addr", echotarget.DefaultAddress, "Listen address")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "console", "Log format (json, console)")
	flag.Parse()

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  *logLevel,
		Format: *logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := echotarget.NewServer(echotarget.WithLogger(logger))
	if err := srv.Start(ctx, *addr); err != nil {
		logger.Error("failed to start echo target", observability.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("ready to receive messages")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("echo target shutdown error", observability.Error(err))
	}
}
