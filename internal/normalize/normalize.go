// Package normalize cleans and validates a RawSession into a CanonicalSession
// (spec §4.2). It is a pure, fail-soft transform: a record that cannot be
// validated is returned with Error set and SessUUID forced to "error" rather
// than propagating a Go error up the call stack, so the worker (internal/worker)
// can always acknowledge the stream entry and move on (spec §7a).
//
// Structurally grounded on other_examples' event_normalizer.go "pure
// transform over a standard shape" pattern; the attack classification call
// is where internal/classify (spec §4.1) is wired into the pipeline, since
// CanonicalSession.attack_types must already be populated before the
// Enricher (spec §4.3) runs as a pure function over it.
package normalize

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/honeynet/telemetry-pipeline/internal/classify"
	"github.com/honeynet/telemetry-pipeline/internal/model"
)

// reservedUUIDs are sess_uuid values that never identify a real session
// (spec §4.2).
var reservedUUIDs = map[string]bool{
	"":        true,
	"unknown": true,
	"error":   true,
}

// Normalize validates and cleans raw into a CanonicalSession. now is the
// ingestion clock, injected so callers (and tests asserting idempotence,
// spec §8.2) can hold it fixed across repeated calls.
//
// The returned bool reports validity: when false, the returned session has
// Error set and must be acknowledged without further pipeline processing.
// The returned error is the same condition in error form, for logging.
func Normalize(raw model.RawSession, now time.Time) (model.CanonicalSession, bool, error) {
	if reservedUUIDs[raw.SessUUID] {
		return failSoft(raw, fmt.Errorf("missing or reserved sess_uuid %q", raw.SessUUID)), false, fmt.Errorf("invalid sess_uuid")
	}
	if strings.TrimSpace(raw.Peer.IP) == "" {
		return failSoft(raw, fmt.Errorf("missing peer_ip")), false, fmt.Errorf("missing peer_ip")
	}

	c := model.CanonicalSession{
		SessUUID:  clean(raw.SessUUID),
		Peer:      model.Peer{IP: normalizeIP(raw.Peer.IP), Port: raw.Peer.Port},
		UserAgent: clean(raw.UserAgent),
		Snare:     clean(raw.Snare),
		StartTime: normalizeTimestamp(raw.StartTime),
		EndTime:   normalizeTimestamp(raw.EndTime),
		Referer:   clean(raw.Referer),
		RateStats: raw.RateStats,
		Geo:       raw.Geo,
		Extra:     raw.Extra,

		ProcessedAt: now.UTC().Format(time.RFC3339),
	}

	if raw.Cookies != nil {
		c.Cookies = cleanMap(raw.Cookies)
	}
	if raw.AttackCount != nil {
		c.AttackCount = raw.AttackCount
	}
	if raw.PossibleOwners != nil {
		c.PossibleOwners = raw.PossibleOwners
	}

	c.Paths = make([]model.PathEntry, len(raw.Paths))
	var attackTypes []string
	uniqueSeen := map[string]bool{}

	cookieInputs := cookieInputsFrom(raw.Cookies)

	for i, p := range raw.Paths {
		cleanPath := model.PathEntry{
			Path:        clean(p.Path),
			Method:      strings.ToUpper(clean(p.Method)),
			Timestamp:   normalizeTimestamp(p.Timestamp),
			Status:      p.Status,
			Headers:     cleanMap(p.Headers),
			Cookies:     cleanMap(p.Cookies),
			QueryParams: cleanMap(p.QueryParams),
			PostBody:    clean(p.PostBody),
		}

		inputs := []classify.Input{
			{Source: classify.SourcePathQuery, Value: cleanPath.Path + "?" + joinParams(cleanPath.QueryParams)},
			{Source: classify.SourcePostBody, Value: cleanPath.PostBody},
			{Source: classify.SourceUserAgent, Value: c.UserAgent},
		}
		inputs = append(inputs, cookieInputs...)
		inputs = append(inputs, pathCookieInputs(cleanPath.Cookies)...)

		detected := classify.DetectAttacks(inputs)
		if len(detected) > 0 {
			cleanPath.AttackType = strings.ToLower(detected[0])
		} else if p.AttackType != "" {
			cleanPath.AttackType = strings.ToLower(clean(p.AttackType))
		}

		if cleanPath.AttackType != "" {
			attackTypes = append(attackTypes, cleanPath.AttackType)
			uniqueSeen[cleanPath.AttackType] = true
		}

		c.Paths[i] = cleanPath
	}

	c.AttackTypes = attackTypes
	c.UniqueAttackTypes = uniqueKeys(uniqueSeen)
	c.TotalRequests = len(c.Paths)
	for _, at := range c.UniqueAttackTypes {
		if model.IsMalicious(at) {
			c.HasMaliciousActivity = true
			break
		}
	}

	return c, true, nil
}

// ToRaw converts an already-canonical session back into RawSession shape.
// It exists so repeated Normalize calls can be shown idempotent (spec §8.2):
// cleaning, IP validation, and timestamp formatting are all no-ops on
// already-clean input, so Normalize(ToRaw(Normalize(x))) == Normalize(x).
func ToRaw(c model.CanonicalSession) model.RawSession {
	paths := make([]model.PathEntry, len(c.Paths))
	copy(paths, c.Paths)
	return model.RawSession{
		SessUUID:       c.SessUUID,
		Peer:           c.Peer,
		UserAgent:      c.UserAgent,
		Snare:          c.Snare,
		StartTime:      c.StartTime,
		EndTime:        c.EndTime,
		Paths:          paths,
		Cookies:        c.Cookies,
		Referer:        c.Referer,
		AttackCount:    c.AttackCount,
		PossibleOwners: c.PossibleOwners,
		RateStats:      c.RateStats,
		Geo:            c.Geo,
		Extra:          c.Extra,
	}
}

func failSoft(raw model.RawSession, err error) model.CanonicalSession {
	return model.CanonicalSession{
		SessUUID: "error",
		Error:    err.Error(),
		Peer:     raw.Peer,
	}
}

// clean strips non-printable control characters, keeping \n and \t, per
// spec §4.2.
func clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func cleanMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[clean(k)] = clean(v)
	}
	return out
}

func joinParams(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, "&")
}

func cookieInputsFrom(cookies map[string]string) []classify.Input {
	var out []classify.Input
	for _, v := range cookies {
		out = append(out, classify.Input{Source: classify.SourceCookie, Value: v})
	}
	return out
}

func pathCookieInputs(cookies map[string]string) []classify.Input {
	return cookieInputsFrom(cookies)
}

func uniqueKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// normalizeIP validates raw as a dotted-quad IPv4 address (each octet
// 0-255) or passes IPv6 through unchanged; anything else becomes 0.0.0.0
// (spec §4.2).
func normalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, ":") {
		return raw
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 4 {
		return "0.0.0.0"
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 || (len(p) > 1 && p[0] == '0') {
			return "0.0.0.0"
		}
	}
	if net.ParseIP(raw) == nil {
		return "0.0.0.0"
	}
	return raw
}

// normalizeTimestamp accepts ISO-8601 or a numeric epoch (seconds, possibly
// fractional) and returns an ISO-8601 UTC string (spec §4.2).
func normalizeTimestamp(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC().Format(time.RFC3339)
	}
	return raw
}
