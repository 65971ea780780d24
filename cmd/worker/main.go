// Command worker consumes the durable session stream, runs the
// normalize -> enrich -> evaluate pipeline, and persists results to the
// filesystem (the authoritative store), with optional Postgres
// mirroring, S3 archival, and LLM-assisted threat-actor hinting. Wiring
// follows the teacher's cmd/server/main.go background-goroutine idiom
// via internal/server.RunWithRecovery.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynet/telemetry-pipeline/internal/config"
	"github.com/honeynet/telemetry-pipeline/internal/enrich"
	"github.com/honeynet/telemetry-pipeline/internal/geoip"
	"github.com/honeynet/telemetry-pipeline/internal/llmhint"
	"github.com/honeynet/telemetry-pipeline/internal/server"
	"github.com/honeynet/telemetry-pipeline/internal/storage/archive"
	"github.com/honeynet/telemetry-pipeline/internal/storage/fsloader"
	"github.com/honeynet/telemetry-pipeline/internal/storage/pgmirror"
	"github.com/honeynet/telemetry-pipeline/internal/stream"
	"github.com/honeynet/telemetry-pipeline/internal/worker"
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
	defer client.Close()

	var geoResolver geoip.Resolver = geoip.NoOp{}
	if cfg.GeoIPDBPath != "" {
		db, err := geoip.OpenMMDB(cfg.GeoIPDBPath)
		if err != nil {
			logger.Warn("geoip database unavailable, disabling lookups", "err", err)
		} else {
			defer db.Close()
			cached, err := geoip.NewCachedResolver(db, geoip.DefaultCacheSize)
			if err != nil {
				logger.Warn("geoip cache init failed, disabling lookups", "err", err)
			} else {
				geoResolver = cached
			}
		}
	}

	var hinter enrich.ThreatActorHinter = enrich.NoOpHinter{}
	if cfg.LLMHintEnabled {
		hinter = llmhint.New(cfg.AnthropicAPIKey, logger)
	}

	enricher := enrich.New(geoResolver, enrich.StaticFeed{}, hinter)
	loader := fsloader.New(cfg.DataDir, cfg.SummaryStrategy)

	var mirror worker.Mirror
	if cfg.PGMirrorEnabled {
		m, err := pgmirror.Connect(ctx, cfg.PGMirrorDSN, logger)
		if err != nil {
			logger.Warn("postgres mirror unavailable, continuing without it", "err", err)
		} else {
			defer m.Close()
			mirror = m
		}
	}

	var archiver *archive.Archiver
	if cfg.ArchiveS3Bucket != "" {
		a, err := archive.New(ctx, cfg.ArchiveS3Bucket, "")
		if err != nil {
			logger.Warn("s3 archiver unavailable, continuing without it", "err", err)
		} else {
			archiver = a
		}
	}

	w := worker.New(client, enricher, loader, logger)
	w.BatchSize = int64(cfg.BatchSize)
	w.BlockFor = time.Duration(cfg.BlockMS) * time.Millisecond
	w.Mirror = mirror

	go server.RunWithRecovery(ctx, logger, "session-worker", func(ctx context.Context) {
		w.Run(ctx)
	})
	go server.RunWithRecovery(ctx, logger, "retention-sweep", func(ctx context.Context) {
		retentionLoop(ctx, loader, cfg.RetentionDays, logger)
	})
	go server.RunWithRecovery(ctx, logger, "daily-refresh", func(ctx context.Context) {
		refreshLoop(ctx, loader, logger)
	})
	if archiver != nil {
		go server.RunWithRecovery(ctx, logger, "daily-archive", func(ctx context.Context) {
			archiveLoop(ctx, archiver, cfg.DataDir, logger)
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("worker started")
	<-sigCh
	logger.Info("shutdown signal received")
	cancel()
	time.Sleep(500 * time.Millisecond)
	logger.Info("worker stopped")
}

// retentionLoop sweeps directories older than retentionDays once a day
// (spec §8.7).
func retentionLoop(ctx context.Context, loader *fsloader.Loader, retentionDays int, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := loader.Sweep(retentionDays, time.Now()); err != nil {
				logger.Error("retention sweep failed", "err", err)
			}
		}
	}
}

// refreshLoop recomputes today's summary and threat-intel feed on a
// short interval, so GET /api/statistics and GET /api/threat-intelligence
// stay close to live without recomputing on every read.
func refreshLoop(ctx context.Context, loader *fsloader.Loader, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			date := time.Now().UTC().Format("2006-01-02")
			if err := loader.RefreshDaily(date); err != nil {
				logger.Error("daily refresh failed", "date", date, "err", err)
			}
		}
	}
}

// archiveLoop uploads yesterday's artifacts to S3 once a day, after the
// day's data has stopped changing.
func archiveLoop(ctx context.Context, archiver *archive.Archiver, dataDir string, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			date := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
			n, err := archiver.ArchiveDay(ctx, dataDir, date)
			if err != nil {
				logger.Error("archive failed", "date", date, "err", err)
				continue
			}
			logger.Info("archived day", "date", date, "objects", n)
		}
	}
}
