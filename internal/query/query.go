// Package query implements the dashboard-facing read API (spec §4.8):
// filtered/paginated session listing, single-session lookup, alerts,
// statistics, a combined dashboard view, threat intelligence, and a
// geo-distribution rollup, plus a live SSE tail grounded on the
// teacher's internal/handlers.StreamHandler + internal/sse.Hub pairing.
// Routing follows the same chi.Router + middleware stack as
// internal/ingest.
package query

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/honeynet/telemetry-pipeline/internal/model"
	"github.com/honeynet/telemetry-pipeline/internal/ratelimit"
	"github.com/honeynet/telemetry-pipeline/internal/sse"
)

// Store is the subset of *fsloader.Loader this package reads from.
type Store interface {
	ReadProcessed(date string) ([]model.EvaluatedSession, error)
	ReadSummary(date string) (model.DailySummary, bool, error)
	ReadThreatIntel(date string) (model.ThreatIntelFeed, bool, error)
	Dates() ([]string, error)
}

// Handler serves the query API.
type Handler struct {
	store   Store
	hub     *sse.Hub // optional, nil disables GET /api/sessions/stream
	limiter *ratelimit.Limiter
	log     *slog.Logger
	// ExhaustiveSearchDays bounds how many recent days GetSession scans
	// before returning 404 when the date isn't supplied (spec §4.8: "30
	// days, then exhaustive search" — capped here to keep a miss bounded).
	ExhaustiveSearchDays int
}

// New builds a Handler.
func New(store Store, hub *sse.Hub, limiter *ratelimit.Limiter, log *slog.Logger) *Handler {
	return &Handler{store: store, hub: hub, limiter: limiter, log: log, ExhaustiveSearchDays: 30}
}

// Router builds the chi.Router for GET /api/*.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(h.rateLimited)

	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/stream", h.StreamSessions)
	r.Get("/sessions/{uuid}", h.GetSession)
	r.Get("/alerts", h.ListAlerts)
	r.Get("/statistics", h.Statistics)
	r.Get("/dashboard", h.Dashboard)
	r.Get("/threat-intelligence", h.ThreatIntelligence)
	r.Get("/geo-distribution", h.GeoDistribution)
	r.Get("/dates", h.Dates)
	return r
}

func (h *Handler) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter.Check(w, r, "query", "") {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func today() string { return time.Now().UTC().Format("2006-01-02") }

func dateParam(r *http.Request) string {
	if d := r.URL.Query().Get("date"); d != "" {
		return d
	}
	return today()
}

// maxListLimit is the spec §4.8 cap on GET /api/sessions "limit".
const maxListLimit = 500

// ListSessions handles GET /api/sessions: filter by date (default today),
// attack_type, threat_level, min_risk, peer_ip (substring, case-insensitive),
// sess_uuid (substring), requires_review; sort by risk_score|processed_at
// (default risk_score desc) x asc|desc; paginate via limit (capped at 500)
// and offset (spec §4.8).
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	date := dateParam(r)
	sessions, err := h.store.ReadProcessed(date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read sessions")
		return
	}

	q := r.URL.Query()
	if at := q.Get("attack_type"); at != "" {
		sessions = filterSessions(sessions, func(s model.EvaluatedSession) bool {
			return containsStr(s.UniqueAttackTypes, at)
		})
	}
	if tl := q.Get("threat_level"); tl != "" {
		sessions = filterSessions(sessions, func(s model.EvaluatedSession) bool {
			return s.ThreatLevel == tl
		})
	}
	if minStr := q.Get("min_risk"); minStr != "" {
		if min, err := strconv.ParseFloat(minStr, 64); err == nil {
			sessions = filterSessions(sessions, func(s model.EvaluatedSession) bool {
				return s.RiskScore >= min
			})
		}
	}
	if ip := q.Get("peer_ip"); ip != "" {
		ip = strings.ToLower(ip)
		sessions = filterSessions(sessions, func(s model.EvaluatedSession) bool {
			return strings.Contains(strings.ToLower(s.Peer.IP), ip)
		})
	}
	if uuid := q.Get("sess_uuid"); uuid != "" {
		sessions = filterSessions(sessions, func(s model.EvaluatedSession) bool {
			return strings.Contains(s.SessUUID, uuid)
		})
	}
	if rrStr := q.Get("requires_review"); rrStr != "" {
		if rr, err := strconv.ParseBool(rrStr); err == nil {
			sessions = filterSessions(sessions, func(s model.EvaluatedSession) bool {
				return s.RequiresReview == rr
			})
		}
	}

	sortBy := q.Get("sort")
	desc := q.Get("order") != "asc"
	switch sortBy {
	case "processed_at":
		sort.Slice(sessions, func(i, j int) bool {
			if desc {
				return sessions[i].ProcessedAt > sessions[j].ProcessedAt
			}
			return sessions[i].ProcessedAt < sessions[j].ProcessedAt
		})
	default:
		sort.Slice(sessions, func(i, j int) bool {
			if desc {
				return sessions[i].RiskScore > sessions[j].RiskScore
			}
			return sessions[i].RiskScore < sessions[j].RiskScore
		})
	}

	limit := parseIntDefault(q.Get("limit"), 50)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := parseIntDefault(q.Get("offset"), 0)
	total := len(sessions)
	sessions = paginate(sessions, offset, limit)

	writeJSON(w, http.StatusOK, map[string]any{
		"date":     date,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"sessions": sessions,
	})
}

// GetSession handles GET /api/sessions/{uuid} (spec §4.8): if a date
// query param is given, look there first; otherwise scan the most
// recent ExhaustiveSearchDays days before reporting 404.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	if d := r.URL.Query().Get("date"); d != "" {
		if s, ok := h.findInDate(d, uuid); ok {
			writeJSON(w, http.StatusOK, s)
			return
		}
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	dates, err := h.store.Dates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dates")
		return
	}
	limit := h.ExhaustiveSearchDays
	if limit <= 0 || limit > len(dates) {
		limit = len(dates)
	}
	for _, date := range dates[:limit] {
		if s, ok := h.findInDate(date, uuid); ok {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeError(w, http.StatusNotFound, "session not found")
}

func (h *Handler) findInDate(date, uuid string) (model.EvaluatedSession, bool) {
	sessions, err := h.store.ReadProcessed(date)
	if err != nil {
		return model.EvaluatedSession{}, false
	}
	for _, s := range sessions {
		if s.SessUUID == uuid {
			return s, true
		}
	}
	return model.EvaluatedSession{}, false
}

// ListAlerts handles GET /api/alerts: sessions for date whose
// alert_level is CRITICAL or HIGH (spec §4.5's alert mirror contract).
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	date := dateParam(r)
	sessions, err := h.store.ReadProcessed(date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read sessions")
		return
	}
	alerts := filterSessions(sessions, func(s model.EvaluatedSession) bool {
		return s.AlertLevel == "CRITICAL" || s.AlertLevel == "HIGH"
	})
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].RiskScore > alerts[j].RiskScore })
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "alerts": alerts})
}

// Statistics handles GET /api/statistics: a single day's summary, or an
// aggregate across a ?from=&to= range (spec §4.8 "single/multi-day
// aggregation").
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" && to == "" {
		date := dateParam(r)
		summary, ok, err := h.store.ReadSummary(date)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read statistics")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "no statistics for date")
			return
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}

	if from == "" {
		from = to
	}
	if to == "" {
		to = from
	}
	dates, err := h.store.Dates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dates")
		return
	}

	agg := model.DailySummary{
		AttackTypeDistribution:  map[string]int{},
		ThreatLevelDistribution: map[string]int{},
		AlertCounts:             map[string]int{},
	}
	var totalRisk float64
	var days int
	for _, date := range dates {
		if date < from || date > to {
			continue
		}
		summary, ok, err := h.store.ReadSummary(date)
		if err != nil || !ok {
			continue
		}
		days++
		agg.TotalSessions += summary.TotalSessions
		agg.RequiresReviewCount += summary.RequiresReviewCount
		totalRisk += summary.AverageRiskScore * float64(summary.TotalSessions)
		for k, v := range summary.AttackTypeDistribution {
			agg.AttackTypeDistribution[k] += v
		}
		for k, v := range summary.ThreatLevelDistribution {
			agg.ThreatLevelDistribution[k] += v
		}
		for k, v := range summary.AlertCounts {
			agg.AlertCounts[k] += v
		}
		agg.RiskScoreDistribution.Critical += summary.RiskScoreDistribution.Critical
		agg.RiskScoreDistribution.High += summary.RiskScoreDistribution.High
		agg.RiskScoreDistribution.Medium += summary.RiskScoreDistribution.Medium
		agg.RiskScoreDistribution.Low += summary.RiskScoreDistribution.Low
		agg.RiskScoreDistribution.Info += summary.RiskScoreDistribution.Info
	}
	if agg.TotalSessions > 0 {
		agg.AverageRiskScore = totalRisk / float64(agg.TotalSessions)
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "days": days, "summary": agg})
}

// Dashboard handles GET /api/dashboard: the day's summary plus its
// alert list, so a UI can render a single view in one round trip.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	date := dateParam(r)
	summary, _, err := h.store.ReadSummary(date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read statistics")
		return
	}
	sessions, err := h.store.ReadProcessed(date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read sessions")
		return
	}
	alerts := filterSessions(sessions, func(s model.EvaluatedSession) bool {
		return s.AlertLevel == "CRITICAL" || s.AlertLevel == "HIGH"
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"date":    date,
		"summary": summary,
		"alerts":  alerts,
	})
}

// ThreatIntelligence handles GET /api/threat-intelligence.
func (h *Handler) ThreatIntelligence(w http.ResponseWriter, r *http.Request) {
	date := dateParam(r)
	feed, ok, err := h.store.ReadThreatIntel(date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read threat intelligence")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no threat intelligence for date")
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

// GeoDistribution handles GET /api/geo-distribution (SPEC_FULL.md §4.8
// supplement): counts sessions by the country the GeoIP enricher
// resolved, for a world-map widget.
func (h *Handler) GeoDistribution(w http.ResponseWriter, r *http.Request) {
	date := dateParam(r)
	sessions, err := h.store.ReadProcessed(date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read sessions")
		return
	}
	counts := map[string]int{}
	for _, s := range sessions {
		country := "unknown"
		if s.GeoLocation != nil && s.GeoLocation.Country != "" {
			country = s.GeoLocation.Country
		}
		counts[country]++
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "countries": counts})
}

// Dates handles GET /api/dates: every day with processed data.
func (h *Handler) Dates(w http.ResponseWriter, r *http.Request) {
	dates, err := h.store.Dates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dates")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}

// StreamSessions handles GET /api/sessions/stream: an SSE tail of
// newly-persisted sessions for the requested date (SPEC_FULL.md §4.8
// supplement, grounded on the teacher's internal/handlers stream
// handler + internal/sse.Hub pairing).
func (h *Handler) StreamSessions(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusNotImplemented, "live streaming is not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	date := dateParam(r)
	ch, cancel := h.hub.Subscribe(date)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
			flusher.Flush()
		}
	}
}

func filterSessions(in []model.EvaluatedSession, keep func(model.EvaluatedSession) bool) []model.EvaluatedSession {
	out := make([]model.EvaluatedSession, 0, len(in))
	for _, s := range in {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func containsStr(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func paginate(sessions []model.EvaluatedSession, offset, limit int) []model.EvaluatedSession {
	if offset >= len(sessions) {
		return []model.EvaluatedSession{}
	}
	end := offset + limit
	if end > len(sessions) {
		end = len(sessions)
	}
	return sessions[offset:end]
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
