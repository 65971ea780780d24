package worker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeynet/telemetry-pipeline/internal/enrich"
	"github.com/honeynet/telemetry-pipeline/internal/geoip"
	"github.com/honeynet/telemetry-pipeline/internal/storage/fsloader"
	"github.com/honeynet/telemetry-pipeline/internal/stream"
)

type fakeSource struct {
	mu      sync.Mutex
	batches [][]stream.Entry
	acked   []string
}

func (f *fakeSource) ReadBatch(ctx context.Context, count int64, block time.Duration) ([]stream.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeSource) ReclaimIdle(ctx context.Context, count int64) ([]stream.Entry, error) {
	return nil, nil
}

func (f *fakeSource) Ack(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

func newTestWorker(t *testing.T, source *fakeSource) (*Worker, string) {
	dir := t.TempDir()
	loader := fsloader.New(dir, "")
	enricher := enrich.New(geoip.NoOp{}, enrich.StaticFeed{}, enrich.NoOpHinter{})
	w := New(source, enricher, loader, slog.Default())
	w.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC) }
	return w, dir
}

func TestProcessOne_AcksValidSession(t *testing.T) {
	source := &fakeSource{}
	w, dir := newTestWorker(t, source)

	entry := stream.Entry{ID: "1-1", Data: []byte(`{"sess_uuid":"sess-1","peer":{"ip":"203.0.113.5"},"user_agent":"sqlmap/1.7","start_time":"2026-01-02T03:00:00Z","end_time":"2026-01-02T03:05:00Z","paths":[{"path":"/?id=1' OR '1'='1","method":"GET","attack_type":"sqli"}]}`)}
	require.NoError(t, w.processOne(context.Background(), entry))
	assert.Equal(t, []string{"1-1"}, source.acked)

	sessions, err := fsloader.New(dir, "").ReadProcessed("2026-01-02")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-1", sessions[0].SessUUID)
}

func TestProcessOne_AcksSoftInvalidWithoutPersisting(t *testing.T) {
	source := &fakeSource{}
	w, dir := newTestWorker(t, source)

	entry := stream.Entry{ID: "2-1", Data: []byte(`{"sess_uuid":""}`)}
	require.NoError(t, w.processOne(context.Background(), entry))
	assert.Equal(t, []string{"2-1"}, source.acked)

	sessions, err := fsloader.New(dir, "").ReadProcessed("2026-01-02")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestProcessOne_AcksMalformedJSON(t *testing.T) {
	source := &fakeSource{}
	w, _ := newTestWorker(t, source)

	entry := stream.Entry{ID: "3-1", Data: []byte(`not json`)}
	require.NoError(t, w.processOne(context.Background(), entry))
	assert.Equal(t, []string{"3-1"}, source.acked)
}

func TestProcessBatch_OneFailureDoesNotBlockOthers(t *testing.T) {
	source := &fakeSource{}
	w, _ := newTestWorker(t, source)

	entries := []stream.Entry{
		{ID: "a", Data: []byte(`not json`)},
		{ID: "b", Data: []byte(`{"sess_uuid":"sess-b","peer":{"ip":"203.0.113.9"},"start_time":"2026-01-02T03:00:00Z","end_time":"2026-01-02T03:01:00Z"}`)},
	}
	w.processBatch(context.Background(), entries)
	assert.ElementsMatch(t, []string{"a", "b"}, source.acked)
}
