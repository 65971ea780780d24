// Package config loads the pipeline's environment-variable configuration
// (spec §6). Grounded on the teacher's inline os.Getenv wiring in
// cmd/server/main.go, generalized into one explicit struct per REDESIGN
// FLAGS §9 ("per-module global caches" → explicit service objects) —
// every other_examples config struct in this pack takes the same shape.
// github.com/joho/godotenv optionally loads a local .env file before the
// environment is read, so `go run ./cmd/...` works the same way in
// development as the examples' Makefile-driven workflows.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment key spec.md §6 names, plus the handful
// this module's SPEC_FULL.md expansion adds (all optional, off by
// default).
type Config struct {
	DataDir string

	RedisHost   string
	RedisPort   string
	RedisStream string

	ConsumerGroup string
	ConsumerName  string

	BatchSize int
	BlockMS   int

	APIKeys []string

	GeoIPDBPath string

	RetentionDays int

	// SummaryStrategy selects internal/storage/fsloader's daily-summary
	// coordination: "append-merge" (default) or "flock".
	SummaryStrategy string

	// RiskModel is reserved, unused (spec §9 Open Question resolution,
	// documented in DESIGN.md): only the function-based weighting table
	// is wired, so this flag currently has no effect besides being
	// validated against its one legal value.
	RiskModel string

	// Optional extension points, all off by default.
	PGMirrorEnabled  bool
	PGMirrorDSN      string
	ArchiveS3Bucket  string
	LLMHintEnabled   bool
	AnthropicAPIKey  string

	// HTTP server timeouts (spec §5).
	ReadTimeout    time.Duration
	PublishTimeout time.Duration

	ListenAddr string
}

// Load reads configuration from the process environment, optionally
// preceded by a local .env file (ignored if absent). Required keys
// missing cause a non-nil error — callers exit(1) per spec §6.
func Load() (Config, error) {
	_ = godotenv.Load()

	c := Config{
		DataDir:         getenv("DATA_DIR", "./data"),
		RedisHost:       getenv("REDIS_HOST", "localhost"),
		RedisPort:       getenv("REDIS_PORT", "6379"),
		RedisStream:     getenv("REDIS_STREAM", "honeypot:sessions"),
		ConsumerGroup:   getenv("CONSUMER_GROUP", "analytics-workers"),
		ConsumerName:    getenv("CONSUMER_NAME", hostnameOrDefault()),
		GeoIPDBPath:     os.Getenv("GEOIP_DB_PATH"),
		SummaryStrategy: getenv("SUMMARY_STRATEGY", "append-merge"),
		RiskModel:       getenv("RISK_MODEL", "function"),
		PGMirrorDSN:     os.Getenv("PG_MIRROR_DSN"),
		ArchiveS3Bucket: os.Getenv("ARCHIVE_S3_BUCKET"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		ListenAddr:      getenv("LISTEN_ADDR", ":8080"),
	}

	var err error
	if c.BatchSize, err = getenvInt("BATCH_SIZE", 100); err != nil {
		return Config{}, err
	}
	if c.BlockMS, err = getenvInt("BLOCK_MS", 5000); err != nil {
		return Config{}, err
	}
	if c.RetentionDays, err = getenvInt("RETENTION_DAYS", 30); err != nil {
		return Config{}, err
	}

	c.APIKeys = splitCSV(os.Getenv("API_KEYS"))
	c.PGMirrorEnabled = getenvBool("PG_MIRROR_ENABLED")
	c.LLMHintEnabled = getenvBool("LLM_HINT_ENABLED")

	c.ReadTimeout = 10 * time.Second
	c.PublishTimeout = 2 * time.Second

	if c.RiskModel != "function" {
		return Config{}, fmt.Errorf("RISK_MODEL: only %q is implemented, got %q", "function", c.RiskModel)
	}
	if c.PGMirrorEnabled && c.PGMirrorDSN == "" {
		return Config{}, fmt.Errorf("PG_MIRROR_ENABLED is set but PG_MIRROR_DSN is empty")
	}
	if c.LLMHintEnabled && c.AnthropicAPIKey == "" {
		return Config{}, fmt.Errorf("LLM_HINT_ENABLED is set but ANTHROPIC_API_KEY is empty")
	}

	return c, nil
}

// RedisAddr returns the host:port form go-redis expects.
func (c Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getenvBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "worker-1"
	}
	return h
}
