package query

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/honeynet/telemetry-pipeline/internal/model"
	"github.com/honeynet/telemetry-pipeline/internal/ratelimit"
	"github.com/honeynet/telemetry-pipeline/internal/sse"
	"github.com/honeynet/telemetry-pipeline/internal/storage/fsloader"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvaluated(uuid string, risk float64, level string) model.EvaluatedSession {
	return model.EvaluatedSession{
		EnrichedSession: model.EnrichedSession{
			CanonicalSession: model.CanonicalSession{
				SessUUID:          uuid,
				Peer:              model.Peer{IP: "203.0.113.5"},
				UserAgent:         "sqlmap/1.7.2",
				ProcessedAt:       "2026-01-02T03:04:05Z",
				UniqueAttackTypes: []string{"sqli"},
			},
		},
		RiskScore:      risk,
		ThreatLevel:    level,
		AlertLevel:     level,
		RequiresReview: level == "CRITICAL" || level == "HIGH",
	}
}

// seedSessions populates 2026-01-02 with three sessions spanning
// CRITICAL/HIGH/INFO severities, mirroring fsloader's own test fixture.
func seedSessions(t *testing.T, loader *fsloader.Loader) {
	t.Helper()
	require.NoError(t, loader.Persist("2026-01-02", sampleEvaluated("sess-a", 80, "CRITICAL")))
	require.NoError(t, loader.Persist("2026-01-02", sampleEvaluated("sess-b", 55, "HIGH")))
	require.NoError(t, loader.Persist("2026-01-02", sampleEvaluated("sess-c", 5, "INFO")))
}

// newTestHandler builds a Handler against a real fsloader.Loader rooted at
// a temp dir, matching the pack's preference for exercising the real
// storage layer over a hand-rolled fake (internal/worker does the same).
func newTestHandler(t *testing.T) (*Handler, *fsloader.Loader) {
	t.Helper()
	dir := t.TempDir()
	loader := fsloader.New(dir, "")
	h := New(loader, sse.NewHub(testLogger()), ratelimit.New(), testLogger())
	return h, loader
}

func TestListSessions_FiltersByThreatLevel(t *testing.T) {
	h, loader := newTestHandler(t)
	seedSessions(t, loader)

	req := httptest.NewRequest(http.MethodGet, "/sessions?date=2026-01-02&threat_level=CRITICAL", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"total":1`)
}

// TestListSessions_MinRiskAndAttackType exercises spec scenario S6:
// GET /api/sessions?min_risk=50&attack_type=sqli returns only sessions
// with risk_score>=50 that contain sqli in attack_types.
func TestListSessions_MinRiskAndAttackType(t *testing.T) {
	h, loader := newTestHandler(t)
	seedSessions(t, loader)

	req := httptest.NewRequest(http.MethodGet, "/sessions?date=2026-01-02&min_risk=50&attack_type=sqli", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"total":2`)
	require.Contains(t, w.Body.String(), "sess-a")
	require.Contains(t, w.Body.String(), "sess-b")
	require.NotContains(t, w.Body.String(), "sess-c")
}

func TestListSessions_FiltersByPeerIPSessUUIDAndRequiresReview(t *testing.T) {
	h, loader := newTestHandler(t)
	seedSessions(t, loader)

	req := httptest.NewRequest(http.MethodGet, "/sessions?date=2026-01-02&peer_ip=203.0.113&sess_uuid=sess-&requires_review=true", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"total":2`)
	require.Contains(t, w.Body.String(), "sess-a")
	require.Contains(t, w.Body.String(), "sess-b")
	require.NotContains(t, w.Body.String(), "sess-c")
}

func TestListSessions_LimitClampedToSpecMax(t *testing.T) {
	h, loader := newTestHandler(t)
	seedSessions(t, loader)

	req := httptest.NewRequest(http.MethodGet, "/sessions?date=2026-01-02&limit=10000", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"limit":500`)
}

func TestGetSession_FoundByExplicitDate(t *testing.T) {
	h, loader := newTestHandler(t)
	seedSessions(t, loader)

	req := httptest.NewRequest(http.MethodGet, "/sessions/sess-a?date=2026-01-02", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "sess-a")
}

func TestGetSession_NotFoundReturns404(t *testing.T) {
	h, loader := newTestHandler(t)
	seedSessions(t, loader)

	req := httptest.NewRequest(http.MethodGet, "/sessions/does-not-exist?date=2026-01-02", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAlerts_OnlyHighAndCritical(t *testing.T) {
	h, loader := newTestHandler(t)
	seedSessions(t, loader)

	req := httptest.NewRequest(http.MethodGet, "/alerts?date=2026-01-02", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "sess-a")
	require.NotContains(t, w.Body.String(), "sess-c")
}

func TestStatistics_MissingDateReturns404(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/statistics?date=2026-01-02", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatistics_AfterRefreshReturnsSummary(t *testing.T) {
	h, loader := newTestHandler(t)
	seedSessions(t, loader)
	require.NoError(t, loader.RefreshDaily("2026-01-02"))

	req := httptest.NewRequest(http.MethodGet, "/statistics?date=2026-01-02", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"total_sessions":3`)
}

func TestStatistics_RangeAggregatesAcrossDays(t *testing.T) {
	h, loader := newTestHandler(t)
	seedSessions(t, loader)
	require.NoError(t, loader.RefreshDaily("2026-01-02"))

	req := httptest.NewRequest(http.MethodGet, "/statistics?from=2026-01-01&to=2026-01-03", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"days":1`)
}

func TestThreatIntelligence_AfterRefresh(t *testing.T) {
	h, loader := newTestHandler(t)
	seedSessions(t, loader)
	require.NoError(t, loader.RefreshDaily("2026-01-02"))

	req := httptest.NewRequest(http.MethodGet, "/threat-intelligence?date=2026-01-02", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "malicious_ips")
}

func TestDates_ListsPersistedDays(t *testing.T) {
	h, loader := newTestHandler(t)
	seedSessions(t, loader)

	req := httptest.NewRequest(http.MethodGet, "/dates", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "2026-01-02")
	_ = loader
}

func TestStreamSessions_DisabledWithoutHub(t *testing.T) {
	dir := t.TempDir()
	loader := fsloader.New(dir, "")
	h := New(loader, nil, ratelimit.New(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/sessions/stream?date=2026-01-02", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotImplemented, w.Code)
}
