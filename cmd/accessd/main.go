package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenie/accessd/internal/config"
	"github.com/cenie/accessd/internal/supervisor"
	"github.com/cenie/accessd/internal/supervisor/services"
	httptransport "github.com/cenie/accessd/internal/transport/http"
	"github.com/cenie/accessd/pkg/logger"
	"github.com/cenie/accessd/pkg/otel"
)

const defaultShutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.MustLoad()

	srv, err := httptransport.NewServer(cfg)
	if err != nil {
		log.Printf("Failed to create server: %v", err)
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	tree := supervisor.NewTree(logger.Logger(), supervisor.TreeConfig{
		ShutdownTimeout: shutdownTimeout,
	})
	for _, svc := range srv.Background() {
		tree.AddBackgroundService(svc)
	}
	tree.AddAPIService(services.NewHTTPServerService(srv, shutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Starting accessd",
		slog.String("addr", cfg.Server.Addr),
		slog.String("mode", cfg.Server.Mode),
		slog.String("store", cfg.Store.Backend),
		slog.String("cache", cfg.Cache.Backend),
	)

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.ErrorContext(ctx, "Supervisor stopped unexpectedly", slog.String("error", err.Error()))
	}
	logger.InfoContext(context.Background(), "Shutting down")

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		logger.WarnContext(context.Background(), "Services did not stop in time", slog.Int("count", len(report)))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	exitCode := 0
	if closeErr := srv.Close(); closeErr != nil {
		logger.ErrorContext(shutdownCtx, "Failed to release resources", slog.String("error", closeErr.Error()))
		exitCode = 1
	}

	if shutdownErr := otel.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.ErrorContext(shutdownCtx, "Failed to shutdown tracer provider", slog.String("error", shutdownErr.Error()))
	} else {
		logger.InfoContext(shutdownCtx, "Tracer provider stopped gracefully")
	}

	return exitCode
}
