package stream

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := Dial(context.Background(), Config{
		Addr:          mr.Addr(),
		Stream:        "honeypot:sessions",
		ConsumerGroup: "workers",
		ConsumerName:  "worker-1",
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestPublishAndReadBatch(t *testing.T) {
	_, c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Publish(ctx, []byte(`{"sess_uuid":"abc"}`))
	require.NoError(t, err)

	entries, err := c.ReadBatch(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, `{"sess_uuid":"abc"}`, string(entries[0].Data))
}

// TestAck_RemovesFromPendingEntries covers spec §4.6: acked entries are
// not redelivered.
func TestAck_RemovesFromPendingEntries(t *testing.T) {
	_, c := newTestClient(t)
	// A short idle threshold makes an un-acked entry reclaimable below, so
	// an empty reclaim result is down to the ack.
	c.cfg.ClaimIdle = time.Millisecond
	ctx := context.Background()

	_, err := c.Publish(ctx, []byte(`{"sess_uuid":"acked"}`))
	require.NoError(t, err)

	entries, err := c.ReadBatch(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, c.Ack(ctx, entries[0].ID))
	time.Sleep(20 * time.Millisecond)

	reclaimed, err := c.ReclaimIdle(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, reclaimed)
}

func TestLenAndGroupCount(t *testing.T) {
	_, c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Publish(ctx, []byte(`{}`))
	require.NoError(t, err)
	_, err = c.Publish(ctx, []byte(`{}`))
	require.NoError(t, err)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	groups, err := c.GroupCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, groups)
}

func TestPing(t *testing.T) {
	_, c := newTestClient(t)
	assert.NoError(t, c.Ping(context.Background()))
}
