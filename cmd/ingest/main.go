// Command ingest runs the HTTP collector front-end (spec §4.7): it
// authenticates and rate-limits inbound honeypot deliveries and
// publishes each session onto the durable stream for internal/worker to
// consume. Wiring follows the teacher's cmd/server/main.go: SetupLogger,
// sequential component construction with os.Exit(1) on fatal errors,
// chi router + middleware, graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynet/telemetry-pipeline/internal/config"
	"github.com/honeynet/telemetry-pipeline/internal/ingest"
	"github.com/honeynet/telemetry-pipeline/internal/ratelimit"
	"github.com/honeynet/telemetry-pipeline/internal/server"
	"github.com/honeynet/telemetry-pipeline/internal/stream"
)

func main() {
	logger := server.SetupLogger(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := stream.Dial(ctx, stream.Config{
		Addr:          cfg.RedisAddr(),
		Stream:        cfg.RedisStream,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	}, logger)
	if err != nil {
		logger.Error("stream backend unreachable", "err", err)
		os.Exit(2)
	}

	limiter := ratelimit.New()
	handler := ingest.New(client, cfg.APIKeys, limiter, logger)
	handler.PublishTimeout = cfg.PublishTimeout

	r := handler.Router()

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
	}()

	logger.Info("ingest server starting", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("ingest server stopped")
}
