// Package llmhint is an optional enrich.ThreatActorHinter backed by the
// Anthropic Messages API (SPEC_FULL.md §4.1.1, LLM_HINT_ENABLED). It is
// grounded on the teacher's claude.go (the network-call half of its
// classifier cascade, deleted from this workspace once
// internal/classify became fully deterministic — see DESIGN.md): a
// single bounded-timeout completion call, with any failure swallowed
// into a safe default rather than surfaced, because a threat-actor hint
// is advisory and must never block or alter the deterministic pipeline
// (enrich.ThreatActorHinter's contract: never influences attack_types,
// risk_score, or any tested invariant).
package llmhint

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/honeynet/telemetry-pipeline/internal/model"
)

// Hinter calls the Anthropic API to classify the likely actor type
// behind a session (opportunistic scanner, targeted researcher, botnet
// member, et al.) from its attack signature.
type Hinter struct {
	client anthropic.Client
	model  anthropic.Model
	log    *slog.Logger
	timeout time.Duration
}

// New builds a Hinter. apiKey must be non-empty; config.Load already
// enforces that before this constructor is ever reached.
func New(apiKey string, log *slog.Logger) *Hinter {
	return &Hinter{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   anthropic.ModelClaude3_5HaikuLatest,
		log:     log,
		timeout: 5 * time.Second,
	}
}

// Hint asks the model to name the likely actor category from the
// session's attack signature and user agent. On any error — timeout,
// rate limit, malformed response — it logs a warning and returns
// "unknown", the same default NoOpHinter reports.
func (h *Hinter) Hint(s model.CanonicalSession) string {
	if len(s.AttackTypes) == 0 {
		return "unknown"
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	prompt := "Attack types observed: " + strings.Join(s.AttackTypes, ", ") +
		"\nUser agent: " + s.UserAgent +
		"\nRespond with exactly one word from: opportunistic_scanner, targeted_researcher, botnet_member, script_kiddie, unknown."

	msg, err := h.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     h.model,
		MaxTokens: 16,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		h.log.Warn("llmhint: completion failed, falling back to unknown", "error", err, "sess_uuid", s.SessUUID)
		return "unknown"
	}
	if len(msg.Content) == 0 {
		return "unknown"
	}

	text := strings.ToLower(strings.TrimSpace(msg.Content[0].Text))
	switch text {
	case "opportunistic_scanner", "targeted_researcher", "botnet_member", "script_kiddie":
		return text
	default:
		return "unknown"
	}
}
