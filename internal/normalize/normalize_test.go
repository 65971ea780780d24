package normalize

import (
	"testing"
	"time"

	"github.com/honeynet/telemetry-pipeline/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRaw() model.RawSession {
	return model.RawSession{
		SessUUID:  "abc-123",
		Peer:      model.Peer{IP: "10.0.0.5", Port: 41231},
		UserAgent: "sqlmap/1.7.2",
		Snare:     "snare-1",
		StartTime: "2026-01-02T03:04:05Z",
		EndTime:   "2026-01-02T03:05:05Z",
		Paths: []model.PathEntry{
			{Path: "/login.php", Method: "get", Timestamp: "2026-01-02T03:04:10Z", Status: 200,
				QueryParams: map[string]string{"id": "1' OR '1'='1"}},
		},
		RateStats: model.RateStats{RequestsPerSecond: 3},
	}
}

func TestNormalize_Valid(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 6, 0, 0, time.UTC)
	c, valid, err := Normalize(sampleRaw(), now)
	require.NoError(t, err)
	require.True(t, valid)
	assert.Equal(t, "abc-123", c.SessUUID)
	assert.Equal(t, "10.0.0.5", c.Peer.IP)
	assert.Contains(t, c.AttackTypes, "sqli")
	assert.True(t, c.HasMaliciousActivity)
	assert.Equal(t, 1, c.TotalRequests)
	assert.Equal(t, now.Format(time.RFC3339), c.ProcessedAt)
}

func TestNormalize_MissingUUID(t *testing.T) {
	raw := sampleRaw()
	raw.SessUUID = ""
	c, valid, err := Normalize(raw, time.Now())
	require.Error(t, err)
	require.False(t, valid)
	assert.Equal(t, "error", c.SessUUID)
	assert.NotEmpty(t, c.Error)
}

func TestNormalize_MissingPeerIP(t *testing.T) {
	raw := sampleRaw()
	raw.Peer.IP = ""
	_, valid, err := Normalize(raw, time.Now())
	require.Error(t, err)
	require.False(t, valid)
}

func TestNormalize_BadIPv4FallsBackToZero(t *testing.T) {
	raw := sampleRaw()
	raw.Peer.IP = "999.999.1.1"
	c, valid, err := Normalize(raw, time.Now())
	require.NoError(t, err)
	require.True(t, valid)
	assert.Equal(t, "0.0.0.0", c.Peer.IP)
}

func TestNormalize_IPv6PassesThrough(t *testing.T) {
	raw := sampleRaw()
	raw.Peer.IP = "2001:db8::1"
	c, _, err := Normalize(raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", c.Peer.IP)
}

// TestNormalize_Idempotent checks spec §8.2: normalize(normalize(x)) == normalize(x).
func TestNormalize_Idempotent(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 6, 0, 0, time.UTC)
	c1, valid1, err1 := Normalize(sampleRaw(), now)
	require.NoError(t, err1)
	require.True(t, valid1)

	c2, valid2, err2 := Normalize(ToRaw(c1), now)
	require.NoError(t, err2)
	require.True(t, valid2)

	assert.Equal(t, c1, c2)
}

func TestNormalize_StripsControlCharsKeepsNewlineAndTab(t *testing.T) {
	raw := sampleRaw()
	raw.UserAgent = "evil\x00agent\nline\ttab"
	c, _, err := Normalize(raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "evilagent\nline\ttab", c.UserAgent)
}
