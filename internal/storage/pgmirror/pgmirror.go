// Package pgmirror is an optional write-behind mirror of evaluated
// sessions into Postgres (SPEC_FULL.md §4.5, PG_MIRROR_ENABLED). The
// filesystem (internal/storage/fsloader) stays the sole authoritative
// store per spec §9's "DB persistence is advertised but unimplemented"
// open question: nothing in this module is ever read back from Postgres,
// it exists purely so the pipeline's sessions are queryable with SQL
// alongside whatever else a deployment already keeps there.
//
// Grounded on the teacher's internal/db/database.go: pgxpool.ParseConfig
// + pool tuning, an embedded migration run once at Connect, and
// ON CONFLICT DO UPDATE upserts (see UpsertUser) for idempotent mirroring
// keyed by sess_uuid rather than a surrogate key.
package pgmirror

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/honeynet/telemetry-pipeline/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Mirror wraps a pgx connection pool used exclusively for write-behind
// mirroring of processed sessions.
type Mirror struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Connect opens the pool, pings it, and applies the embedded migration.
func Connect(ctx context.Context, dsn string, log *slog.Logger) (*Mirror, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	m := &Mirror{pool: pool, log: log}
	if err := m.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}

func (m *Mirror) migrate(ctx context.Context) error {
	sql, err := migrations.ReadFile("migrations/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := m.pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	m.log.Info("pgmirror schema migrated")
	return nil
}

// Close releases the pool.
func (m *Mirror) Close() {
	m.pool.Close()
}

// Write upserts one evaluated session, keyed by sess_uuid so a replayed
// delivery (spec §8.6) overwrites rather than duplicates the mirrored row,
// matching fsloader's own idempotency contract.
func (m *Mirror) Write(ctx context.Context, s model.EvaluatedSession) error {
	processedAt, err := time.Parse(time.RFC3339, s.ProcessedAt)
	if err != nil {
		processedAt = time.Now().UTC()
	}
	_, err = m.pool.Exec(ctx,
		`INSERT INTO sessions_mirror (sess_uuid, ip, user_agent, processed_at, risk_score, threat_level, priority, unique_attack_types, requires_review)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (sess_uuid) DO UPDATE SET
		    risk_score = EXCLUDED.risk_score,
		    threat_level = EXCLUDED.threat_level,
		    priority = EXCLUDED.priority,
		    unique_attack_types = EXCLUDED.unique_attack_types,
		    requires_review = EXCLUDED.requires_review,
		    mirrored_at = NOW()`,
		s.SessUUID, s.Peer.IP, s.UserAgent, processedAt, s.RiskScore, s.ThreatLevel, s.Priority, s.UniqueAttackTypes, s.RequiresReview)
	if err != nil {
		return fmt.Errorf("mirror write %s: %w", s.SessUUID, err)
	}
	return nil
}

// CountSince reports how many sessions have been mirrored since t. No
// endpoint in this module calls it.
func (m *Mirror) CountSince(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	err := m.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions_mirror WHERE mirrored_at > $1`, t).Scan(&n)
	return n, err
}
