package llmhint

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"

	"github.com/honeynet/telemetry-pipeline/internal/model"
)

func newTestHinter(t *testing.T, handler http.HandlerFunc) *Hinter {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	h := &Hinter{
		client:  anthropic.NewClient(option.WithAPIKey("test-key"), option.WithBaseURL(srv.URL)),
		model:   anthropic.ModelClaude3_5HaikuLatest,
		log:     slog.Default(),
		timeout: 2e9,
	}
	return h
}

func TestHint_NoAttackTypesSkipsCall(t *testing.T) {
	h := newTestHinter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not call the API with no attack types")
	})
	got := h.Hint(model.CanonicalSession{SessUUID: "a"})
	assert.Equal(t, "unknown", got)
}

func TestHint_ParsesKnownCategory(t *testing.T) {
	h := newTestHinter(t, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"id":    "msg_1",
			"type":  "message",
			"role":  "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": []map[string]any{
				{"type": "text", "text": "opportunistic_scanner"},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 2},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	got := h.Hint(model.CanonicalSession{SessUUID: "b", AttackTypes: []string{"sqli"}})
	assert.Equal(t, "opportunistic_scanner", got)
}

func TestHint_FallsBackOnError(t *testing.T) {
	h := newTestHinter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	got := h.Hint(model.CanonicalSession{SessUUID: "c", AttackTypes: []string{"xss"}})
	assert.Equal(t, "unknown", got)
}
