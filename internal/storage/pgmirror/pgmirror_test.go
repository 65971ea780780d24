package pgmirror

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_InvalidDSN(t *testing.T) {
	_, err := Connect(context.Background(), "not-a-valid-dsn", slog.Default())
	assert.Error(t, err)
}

// TestConnect_Live only runs when a real Postgres instance is reachable
// (PGMIRROR_TEST_DSN set), matching the rest of the pack's pattern of
// skipping container-backed tests in environments without Docker.
func TestConnect_Live(t *testing.T) {
	dsn := os.Getenv("PGMIRROR_TEST_DSN")
	if dsn == "" {
		t.Skip("PGMIRROR_TEST_DSN not set")
	}
	m, err := Connect(context.Background(), dsn, slog.Default())
	require.NoError(t, err)
	defer m.Close()
}
