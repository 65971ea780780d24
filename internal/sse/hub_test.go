package sse

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndPublish_ScopedByDate(t *testing.T) {
	h := NewHub(slog.Default())

	chA, cancelA := h.Subscribe("2026-01-02")
	defer cancelA()
	chB, cancelB := h.Subscribe("2026-01-03")
	defer cancelB()

	h.Publish("2026-01-02", Event{Type: "session", Data: []byte(`{"sess_uuid":"a"}`)})

	select {
	case ev := <-chA:
		assert.Equal(t, "session", ev.Type)
	default:
		t.Fatal("expected event on date-matching subscriber")
	}

	select {
	case <-chB:
		t.Fatal("unrelated date should not receive the event")
	default:
	}
}

func TestSubscriberCount(t *testing.T) {
	h := NewHub(slog.Default())
	assert.Equal(t, 0, h.SubscriberCount("2026-01-02"))

	_, cancel := h.Subscribe("2026-01-02")
	require.Equal(t, 1, h.SubscriberCount("2026-01-02"))
	cancel()
	assert.Equal(t, 0, h.SubscriberCount("2026-01-02"))
}
