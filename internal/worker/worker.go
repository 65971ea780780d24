// Package worker orchestrates the pipeline's steady-state loop (spec §7):
// read a batch from the stream, run each entry through
// normalize → enrich → evaluate → persist, acknowledge on success, and
// leave failures unacked for redelivery (spec §4.6). Supervision follows
// the teacher's internal/server.RunWithRecovery — panics in the consume
// loop are caught, logged, and restarted with backoff rather than taking
// the whole process down — and per-batch fan-out uses
// golang.org/x/sync/errgroup the way the rest of the pack's worker pools
// do, bounded to avoid overwhelming fsloader's per-day coordination.
package worker

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/honeynet/telemetry-pipeline/internal/enrich"
	"github.com/honeynet/telemetry-pipeline/internal/evaluate"
	"github.com/honeynet/telemetry-pipeline/internal/model"
	"github.com/honeynet/telemetry-pipeline/internal/normalize"
	"github.com/honeynet/telemetry-pipeline/internal/sse"
	"github.com/honeynet/telemetry-pipeline/internal/storage/fsloader"
	"github.com/honeynet/telemetry-pipeline/internal/stream"
)

// StreamSource is the subset of *stream.Client the worker consumes from.
type StreamSource interface {
	ReadBatch(ctx context.Context, count int64, block time.Duration) ([]stream.Entry, error)
	ReclaimIdle(ctx context.Context, count int64) ([]stream.Entry, error)
	Ack(ctx context.Context, id string) error
}

// Mirror is the optional write-behind database mirror
// (internal/storage/pgmirror), nil when PG_MIRROR_ENABLED is unset.
type Mirror interface {
	Write(ctx context.Context, s model.EvaluatedSession) error
}

// Worker runs the consume-process-ack loop.
type Worker struct {
	Source    StreamSource
	Enricher  *enrich.Enricher
	Loader    *fsloader.Loader
	Mirror    Mirror // optional
	Hub       *sse.Hub // optional, for GET /api/sessions/stream
	Log       *slog.Logger
	BatchSize int64
	BlockFor  time.Duration
	Concurrency int
	// Now is injected so tests can hold the ingestion clock fixed; it
	// defaults to time.Now in New.
	Now func() time.Time
}

// New builds a Worker with sane defaults for BatchSize/BlockFor/Concurrency.
func New(source StreamSource, enricher *enrich.Enricher, loader *fsloader.Loader, log *slog.Logger) *Worker {
	return &Worker{
		Source:      source,
		Enricher:    enricher,
		Loader:      loader,
		Log:         log,
		BatchSize:   100,
		BlockFor:    5 * time.Second,
		Concurrency: 8,
		Now:         time.Now,
	}
}

// Run consumes batches until ctx is cancelled. It is the function passed
// to server.RunWithRecovery by cmd/worker.
func (w *Worker) Run(ctx context.Context) {
	reclaimTick := time.NewTicker(30 * time.Second)
	defer reclaimTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reclaimTick.C:
			w.reclaimAndProcess(ctx)
		default:
		}

		entries, err := w.Source.ReadBatch(ctx, w.BatchSize, w.BlockFor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Log.Error("worker: read batch failed", "error", err)
			continue
		}
		if len(entries) == 0 {
			continue
		}
		w.processBatch(ctx, entries)
	}
}

func (w *Worker) reclaimAndProcess(ctx context.Context) {
	entries, err := w.Source.ReclaimIdle(ctx, w.BatchSize)
	if err != nil {
		w.Log.Error("worker: reclaim idle failed", "error", err)
		return
	}
	if len(entries) > 0 {
		w.Log.Info("worker: reclaimed idle entries for redelivery", "count", len(entries))
		w.processBatch(ctx, entries)
	}
}

func (w *Worker) processBatch(ctx context.Context, entries []stream.Entry) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.Concurrency)

	for _, e := range entries {
		e := e
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					w.Log.Error("worker: pipeline panicked, leaving unacked", "panic", r, "stack", string(debug.Stack()), "entry_id", e.ID)
				}
			}()
			if err := w.processOne(gctx, e); err != nil {
				w.Log.Error("worker: processing failed, leaving unacked", "error", err, "entry_id", e.ID)
				return nil // don't abort the whole batch for one bad entry
			}
			return nil
		})
	}
	_ = g.Wait()
}

// processOne implements the per-entry pipeline (spec §7a): normalize,
// short-circuiting soft-invalid records straight to an ack, then enrich,
// evaluate, persist, mirror, publish, and finally ack.
func (w *Worker) processOne(ctx context.Context, e stream.Entry) error {
	raw, err := decodeRaw(e.Data)
	if err != nil {
		w.Log.Warn("worker: malformed entry, acking to avoid poison-pill redelivery", "error", err, "entry_id", e.ID)
		return w.Source.Ack(ctx, e.ID)
	}

	canonical, ok, normErr := normalize.Normalize(raw, w.Now())
	if !ok {
		w.Log.Warn("worker: soft-invalid session, acking without further processing", "error", normErr, "entry_id", e.ID)
		return w.Source.Ack(ctx, e.ID)
	}

	enriched := w.Enricher.Enrich(canonical)
	evaluated := evaluate.Evaluate(enriched)

	date := evaluated.ProcessedAt[:10]
	if err := w.Loader.Persist(date, evaluated); err != nil {
		return err
	}

	if w.Mirror != nil {
		if err := w.Mirror.Write(ctx, evaluated); err != nil {
			w.Log.Warn("worker: pgmirror write failed, filesystem remains authoritative", "error", err, "sess_uuid", evaluated.SessUUID)
		}
	}

	if w.Hub != nil {
		if payload, err := encodeEvent(evaluated); err == nil {
			w.Hub.Publish(date, sse.Event{Type: "session", Data: payload})
		}
	}

	return w.Source.Ack(ctx, e.ID)
}
