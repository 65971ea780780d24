// Package ingest implements the collector-facing HTTP surface (spec
// §4.7): POST /ingest accepts a batch of raw sessions from an edge
// sensor and publishes each one onto the durable stream; GET /health and
// GET /stats expose operational status. Routing and middleware follow
// the teacher's cmd/server/main.go (chi.Router, middleware.RealIP/
// Recoverer/RequestID, a small CORS shim) and its auth.RequireAuth
// pattern, generalized from session-cookie auth to a static API-key set.
package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/honeynet/telemetry-pipeline/internal/model"
	"github.com/honeynet/telemetry-pipeline/internal/ratelimit"
)

// Publisher is the subset of *stream.Client the handler needs, so tests
// can substitute a fake without a Redis instance.
type Publisher interface {
	Publish(ctx context.Context, data []byte) (string, error)
	Len(ctx context.Context) (int64, error)
	GroupCount(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

// Handler serves the ingest API.
type Handler struct {
	pub     Publisher
	apiKeys map[string]bool
	limiter *ratelimit.Limiter
	log     *slog.Logger
	// PublishTimeout bounds each XADD call (spec §5, default 2s).
	PublishTimeout time.Duration
	// MaxBatch caps the number of sessions accepted per request; a larger
	// batch is rejected with 422 before anything is published.
	MaxBatch int
	// Now is injected so tests can assert on a fixed response timestamp;
	// defaults to time.Now in New.
	Now func() time.Time
}

// New builds a Handler. apiKeys must be non-empty — spec §4.7 requires
// X-API-KEY on every ingest request.
func New(pub Publisher, apiKeys []string, limiter *ratelimit.Limiter, log *slog.Logger) *Handler {
	keys := make(map[string]bool, len(apiKeys))
	for _, k := range apiKeys {
		keys[k] = true
	}
	return &Handler{
		pub:            pub,
		apiKeys:        keys,
		limiter:        limiter,
		log:            log,
		PublishTimeout: 2 * time.Second,
		MaxBatch:       1000,
		Now:            time.Now,
	}
}

// Router builds the chi.Router for this handler's routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Post("/ingest", h.Ingest)
	return r
}

// authenticate checks X-API-KEY, writing the spec'd 401/403 response and
// returning "" if the request should stop here. Shared by /ingest and
// /stats (spec §4.7: "auth required" on both).
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (apiKey string, ok bool) {
	apiKey = r.Header.Get("X-API-KEY")
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "missing X-API-KEY")
		return "", false
	}
	if !h.apiKeys[apiKey] {
		writeError(w, http.StatusForbidden, "invalid API key")
		return "", false
	}
	return apiKey, true
}

// Ingest handles POST /ingest (spec §4.7/§6): authenticate, parse a JSON
// array of raw sessions, publish each one, respond 200 with the count.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if h.limiter.Check(w, r, "ingest", apiKey) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var rawElems []json.RawMessage
	if err := json.Unmarshal(body, &rawElems); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "body must be a JSON array of sessions")
		return
	}
	if len(rawElems) == 0 {
		h.writeIngestResult(w, 0)
		return
	}
	if len(rawElems) > h.MaxBatch {
		writeError(w, http.StatusUnprocessableEntity, "batch exceeds maximum size")
		return
	}
	for i, raw := range rawElems {
		var s model.RawSession
		if err := json.Unmarshal(raw, &s); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "malformed session at index")
			return
		}
		if s.SessUUID == "" {
			h.log.Warn("ingest: session missing sess_uuid, publishing anyway for normalize to reject", "index", i)
		}
	}

	published := 0
	for i, raw := range rawElems {
		ctx, cancel := context.WithTimeout(r.Context(), h.PublishTimeout)
		_, err := h.pub.Publish(ctx, raw)
		cancel()
		if err != nil {
			h.log.Error("ingest: publish failed", "error", err, "index", i)
			writeError(w, http.StatusServiceUnavailable, "stream backend unavailable")
			return
		}
		published++
	}

	h.writeIngestResult(w, published)
}

// writeIngestResult writes the spec §6 POST /ingest response shape:
// 200 {status, sessions_queued, timestamp}.
func (h *Handler) writeIngestResult(w http.ResponseWriter, queued int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":          "success",
		"sessions_queued": queued,
		"timestamp":       h.Now().UTC().Format(time.RFC3339),
	})
}

// Health handles GET /health (spec §4.7/§6): reports stream reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	redis := "connected"
	code := http.StatusOK
	if err := h.pub.Ping(ctx); err != nil {
		status = "degraded"
		redis = "disconnected"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    status,
		"redis":     redis,
		"timestamp": h.Now().UTC().Format(time.RFC3339),
	})
}

// Stats handles GET /stats (spec §4.7/§6): current stream depth and
// consumer-group count. Auth required, same as /ingest.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	length, err := h.pub.Len(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "stream backend unavailable")
		return
	}
	groups, err := h.pub.GroupCount(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "stream backend unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"stream_length": length,
		"stream_groups": groups,
		"timestamp":     h.Now().UTC().Format(time.RFC3339),
	})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
