// Package main is the entry point for the Rupee blob storage server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/logging"
	"github.com/rupee/rupee/internal/metrics"
	"github.com/rupee/rupee/internal/server"
	"github.com/rupee/rupee/internal/service"
)

func main() {
	configPath := flag.String("config", "rupee.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8080)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	maxBlobSize := flag.Int64("max-blob-size", 0, "maximum blob size in bytes (default: from config or 67108864)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if *maxBlobSize != 0 {
		cfg.Server.MaxBlobSize = *maxBlobSize
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if cfg.Observability.Metrics {
		metrics.Register()
	}

	// Leftover bucket locks make this fail: either a previous run crashed
	// or another instance shares the directory. Both need an operator.
	svc, err := service.Open(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open storage: %v\n", err)
		os.Exit(1)
	}

	srv := server.New(cfg, svc)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Rupee listening", "addr", addr, "primary", svc.Primary(), "hash", svc.Hash())
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}

	case err := <-errCh:
		if err != nil {
			slog.Error("Server error", "error", err)
			exitCode = 1
		}
	}

	// Bucket locks must be released on every exit path, or the next start
	// refuses to run.
	if err := svc.Close(); err != nil {
		slog.Error("Closing storage failed", "error", err)
		exitCode = 1
	}
	slog.Info("Server stopped")
	os.Exit(exitCode)
}
