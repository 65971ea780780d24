// Command query runs the dashboard-facing read API (spec §4.8): session
// listing/lookup, alerts, statistics, threat intelligence, and a live
// SSE tail, all served out of the same filesystem store the worker
// writes to. Wiring follows the teacher's cmd/server/main.go idiom.
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
	"github.com/honeynet/telemetry-pipeline/internal/query"
	"github.com/honeynet/telemetry-pipeline/internal/ratelimit"
	"github.com/honeynet/telemetry-pipeline/internal/server"
	"github.com/honeynet/telemetry-pipeline/internal/sse"
	"github.com/honeynet/telemetry-pipeline/internal/storage/fsloader"
)

func main() {
	logger := server.SetupLogger(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}

	loader := fsloader.New(cfg.DataDir, cfg.SummaryStrategy)
	hub := sse.NewHub(logger)
	limiter := ratelimit.New()
	handler := query.New(loader, hub, limiter, logger)

	r := handler.Router()

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: 0, // SSE needs unbounded write time
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
	}()

	logger.Info("query server starting", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("query server stopped")
}
