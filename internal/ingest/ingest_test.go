package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeynet/telemetry-pipeline/internal/ratelimit"
)

type fakePublisher struct {
	mu        sync.Mutex
	published [][]byte
	failAfter int
	pingErr   error
	length    int64
	groups    int
}

func (f *fakePublisher) Publish(ctx context.Context, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && len(f.published) >= f.failAfter {
		return "", errors.New("boom")
	}
	f.published = append(f.published, data)
	return "1-1", nil
}

func (f *fakePublisher) Len(ctx context.Context) (int64, error) {
	return f.length, nil
}

func (f *fakePublisher) GroupCount(ctx context.Context) (int, error) {
	return f.groups, nil
}

func (f *fakePublisher) Ping(ctx context.Context) error {
	return f.pingErr
}

func newTestHandler(pub *fakePublisher) *Handler {
	h := New(pub, []string{"good-key"}, ratelimit.New(), slog.Default())
	h.Now = func() time.Time { return fixedNow }
	return h
}

var fixedNow = time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

func TestIngest_RejectsMissingAPIKey(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandler(pub)
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(`[{}]`))
	w := httptest.NewRecorder()
	h.Ingest(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIngest_RejectsBadAPIKey(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandler(pub)
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(`[{}]`))
	req.Header.Set("X-API-KEY", "wrong")
	w := httptest.NewRecorder()
	h.Ingest(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestIngest_RejectsNonArrayBody(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandler(pub)
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(`{"not":"an array"}`))
	req.Header.Set("X-API-KEY", "good-key")
	w := httptest.NewRecorder()
	h.Ingest(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestIngest_PublishesEachElement(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandler(pub)
	body := `[{"sess_uuid":"a"},{"sess_uuid":"b"}]`
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(body))
	req.Header.Set("X-API-KEY", "good-key")
	w := httptest.NewRecorder()
	h.Ingest(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, pub.published, 2)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.EqualValues(t, 2, resp["sessions_queued"])
	assert.Equal(t, fixedNow.Format(time.RFC3339), resp["timestamp"])
}

func TestIngest_EmptyArrayIsSuccessWithZeroQueued(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandler(pub)
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(`[]`))
	req.Header.Set("X-API-KEY", "good-key")
	w := httptest.NewRecorder()
	h.Ingest(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, pub.published)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.EqualValues(t, 0, resp["sessions_queued"])
}

func TestIngest_StopsOnPublishFailure(t *testing.T) {
	pub := &fakePublisher{failAfter: 1}
	h := newTestHandler(pub)
	body := `[{"sess_uuid":"a"},{"sess_uuid":"b"},{"sess_uuid":"c"}]`
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(body))
	req.Header.Set("X-API-KEY", "good-key")
	w := httptest.NewRecorder()
	h.Ingest(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Len(t, pub.published, 1)
}

func TestHealth_ReflectsPingState(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandler(pub)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.Health(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var healthy map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &healthy))
	assert.Equal(t, "healthy", healthy["status"])
	assert.Equal(t, "connected", healthy["redis"])
	assert.Equal(t, fixedNow.Format(time.RFC3339), healthy["timestamp"])

	pub.pingErr = errors.New("down")
	w2 := httptest.NewRecorder()
	h.Health(w2, req)
	assert.Equal(t, http.StatusServiceUnavailable, w2.Code)

	var degraded map[string]string
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &degraded))
	assert.Equal(t, "degraded", degraded["status"])
	assert.Equal(t, "disconnected", degraded["redis"])
}

func TestStats_RejectsMissingAPIKey(t *testing.T) {
	pub := &fakePublisher{length: 42, groups: 1}
	h := newTestHandler(pub)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	h.Stats(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStats_RejectsBadAPIKey(t *testing.T) {
	pub := &fakePublisher{length: 42, groups: 1}
	h := newTestHandler(pub)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("X-API-KEY", "wrong")
	w := httptest.NewRecorder()
	h.Stats(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStats_ReportsStreamLength(t *testing.T) {
	pub := &fakePublisher{length: 42, groups: 3}
	h := newTestHandler(pub)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("X-API-KEY", "good-key")
	w := httptest.NewRecorder()
	h.Stats(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 42, resp["stream_length"])
	assert.EqualValues(t, 3, resp["stream_groups"])
	assert.Equal(t, fixedNow.Format(time.RFC3339), resp["timestamp"])
}
