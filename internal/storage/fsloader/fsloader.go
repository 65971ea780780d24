// Package fsloader is the authoritative persistence layer (spec §4.5):
// append-only per-day session logs, alert mirrors, a recomputed daily
// summary, and a threat-intelligence feed, all under DATA_DIR. The
// filesystem layout is the system of record — any database mirror
// (internal/storage/pgmirror) is a non-authoritative write-behind copy.
//
// Grounded on original_source/services/analytics_worker/loader.py for the
// exact layout (`processed/YYYY-MM-DD/sessions.jsonl`,
// `alerts/YYYY-MM-DD/{critical,high}_alerts.jsonl`,
// `statistics/YYYY-MM-DD/summary.json`,
// `threat_intelligence/YYYY-MM-DD/*`), the top-10 ranking, and the
// retention sweep (age_days > N). The per-day exclusive-write
// synchronization options (flock vs. append-and-merge) are spec.md §5's
// explicit choice; this package's default ("append-merge") writes no
// per-worker partials and takes no lock — RefreshDaily recomputes the
// whole day and replaces each file by rename (see lock.go) — and it
// exposes a flock-backed exclusive alternative via
// internal/storage/fsloader/lock.go, grounded on gofrs/flock usage in the
// pack's go-backend-style services.
package fsloader

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/honeynet/telemetry-pipeline/internal/model"
)

// Loader writes evaluated sessions and derived artifacts under Root.
type Loader struct {
	Root string
	// Strategy selects how concurrent workers coordinate daily-summary
	// recomputation: "append-merge" (default) or "flock".
	Strategy string
}

const (
	StrategyAppendMerge = "append-merge"
	StrategyFlock       = "flock"
)

// New builds a Loader rooted at dataDir. An empty strategy defaults to
// append-and-merge (spec §5).
func New(dataDir, strategy string) *Loader {
	if strategy == "" {
		strategy = StrategyAppendMerge
	}
	return &Loader{Root: dataDir, Strategy: strategy}
}

// Persist writes one evaluated session to the processed log and, if
// alert-worthy, the matching alert mirror (spec §4.5). It does not itself
// recompute the day's summary/threat-intel artifacts — callers batch those
// via RefreshDaily after a group of Persist calls (spec §4.6 "after each
// batch").
//
// Persist is idempotent-by-overwrite at the logical level (spec §8.6):
// since sessions.jsonl is append-only, true overwrite-on-replay is
// achieved by RefreshDaily deduplicating by sess_uuid when it rebuilds
// summary/threat-intel, and by readers (internal/query) taking the last
// line for a given sess_uuid as authoritative.
func (l *Loader) Persist(date string, s model.EvaluatedSession) error {
	line, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.SessUUID, err)
	}

	if err := appendLine(l.processedFile(date), line); err != nil {
		return fmt.Errorf("write processed log: %w", err)
	}

	if s.AlertLevel == "CRITICAL" || s.AlertLevel == "HIGH" {
		alertFile := l.alertFile(date, strings.ToLower(s.AlertLevel))
		if err := appendLine(alertFile, line); err != nil {
			return fmt.Errorf("write alert mirror: %w", err)
		}
	}
	return nil
}

// appendLine appends one atomic line (write then newline, flushed) to
// path, creating parent directories as needed (spec §4.5: "Append writes
// MUST be atomic per-line").
func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := append(append([]byte{}, line...), '\n')
	if _, err := f.Write(buf); err != nil {
		return err
	}
	return f.Sync()
}

func (l *Loader) processedFile(date string) string {
	return filepath.Join(l.Root, "processed", date, "sessions.jsonl")
}

func (l *Loader) alertFile(date, level string) string {
	return filepath.Join(l.Root, "alerts", date, level+"_alerts.jsonl")
}

func (l *Loader) statsDir(date string) string {
	return filepath.Join(l.Root, "statistics", date)
}

func (l *Loader) intelDir(date string) string {
	return filepath.Join(l.Root, "threat_intelligence", date)
}

// ReadProcessed reads and deduplicates a day's sessions, keeping the last
// occurrence of each sess_uuid (the replay-overwrite semantics, spec §8.6).
func (l *Loader) ReadProcessed(date string) ([]model.EvaluatedSession, error) {
	f, err := os.Open(l.processedFile(date))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	byUUID := map[string]model.EvaluatedSession{}
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var s model.EvaluatedSession
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			continue
		}
		if _, seen := byUUID[s.SessUUID]; !seen {
			order = append(order, s.SessUUID)
		}
		byUUID[s.SessUUID] = s
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out := make([]model.EvaluatedSession, 0, len(order))
	for _, id := range order {
		out = append(out, byUUID[id])
	}
	return out, nil
}

// RefreshDaily recomputes statistics/YYYY-MM-DD/summary.json and
// threat_intelligence/YYYY-MM-DD/* from the current processed log (spec
// §4.5). It is safe to call repeatedly; the summary/threat-intel files are
// overwritten wholesale from the deduplicated session set each time.
func (l *Loader) RefreshDaily(date string) error {
	unlock, err := l.acquireDailyLock(date)
	if err != nil {
		return fmt.Errorf("acquire daily lock: %w", err)
	}
	defer unlock()

	sessions, err := l.ReadProcessed(date)
	if err != nil {
		return fmt.Errorf("read processed sessions: %w", err)
	}

	if err := l.writeSummary(date, sessions); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if err := l.writeThreatIntel(date, sessions); err != nil {
		return fmt.Errorf("write threat intel: %w", err)
	}
	return nil
}

// writeSummary builds DailySummary exactly per loader.py's save_statistics
// (top-10 ranking, risk buckets, average risk score rounded to 2 places).
func (l *Loader) writeSummary(date string, sessions []model.EvaluatedSession) error {
	summary := model.DailySummary{
		Date:                    date,
		TotalSessions:           len(sessions),
		AttackTypeDistribution:  map[string]int{},
		ThreatLevelDistribution: map[string]int{},
		AlertCounts:             map[string]int{"CRITICAL": 0, "HIGH": 0, "MEDIUM": 0, "LOW": 0, "INFO": 0},
	}
	if len(sessions) == 0 {
		return writeJSON(filepath.Join(l.statsDir(date), "summary.json"), summary)
	}

	ipCounts := map[string]int{}
	uaCounts := map[string]int{}
	var totalRisk float64

	for _, s := range sessions {
		for _, at := range s.UniqueAttackTypes {
			summary.AttackTypeDistribution[at]++
		}
		summary.ThreatLevelDistribution[s.ThreatLevel]++
		totalRisk += s.RiskScore

		switch {
		case s.RiskScore >= 70:
			summary.RiskScoreDistribution.Critical++
		case s.RiskScore >= 50:
			summary.RiskScoreDistribution.High++
		case s.RiskScore >= 30:
			summary.RiskScoreDistribution.Medium++
		case s.RiskScore >= 15:
			summary.RiskScoreDistribution.Low++
		default:
			summary.RiskScoreDistribution.Info++
		}

		ip := s.Peer.IP
		if ip == "" {
			ip = "unknown"
		}
		ipCounts[ip]++

		ua := s.UserAgent
		if ua == "" {
			ua = "unknown"
		}
		uaCounts[ua]++

		summary.AlertCounts[s.AlertLevel]++
		if s.RequiresReview {
			summary.RequiresReviewCount++
		}
	}

	summary.AverageRiskScore = round2(totalRisk / float64(len(sessions)))
	summary.TopSourceIPs = topN(ipCounts, 10, func(k string, v int) model.IPCount { return model.IPCount{IP: k, Count: v} })
	summary.TopUserAgents = topN(uaCounts, 10, func(k string, v int) model.UACount { return model.UACount{UserAgent: k, Count: v} })

	return writeJSON(filepath.Join(l.statsDir(date), "summary.json"), summary)
}

// writeThreatIntel builds ThreatIntelFeed per loader.py's
// save_threat_intelligence_feed: only sessions with risk_score >= 50
// contribute, malicious_ips excludes 0.0.0.0, and sample_payloads is
// capped at 20 with blake3-keyed dedup of the payload body so the same
// attack sample isn't repeated across sessions sharing a signature.
func (l *Loader) writeThreatIntel(date string, sessions []model.EvaluatedSession) error {
	maliciousIPs := map[string]bool{}
	signatures := map[string]bool{}
	maliciousUAs := map[string]bool{}
	seenPayloads := map[string]bool{}
	var samples []string

	for _, s := range sessions {
		if s.RiskScore < 50 {
			continue
		}
		if s.Peer.IP != "" && s.Peer.IP != "0.0.0.0" {
			maliciousIPs[s.Peer.IP] = true
		}
		if sig := s.AttackPatterns.PatternSignature; sig != "" {
			signatures[sig] = true
		}
		if s.UserAgentInfo.IsScanner && s.UserAgent != "" {
			maliciousUAs[s.UserAgent] = true
		}
		for i, p := range s.Paths {
			if i >= 3 {
				break
			}
			payload := p.PostBody
			if payload == "" {
				continue
			}
			key := fingerprint(payload)
			if seenPayloads[key] || len(samples) >= 20 {
				continue
			}
			seenPayloads[key] = true
			samples = append(samples, payload)
		}
	}

	feed := model.ThreatIntelFeed{
		Date:                date,
		MaliciousIPs:        sortedKeys(maliciousIPs),
		AttackSignatures:    sortedKeys(signatures),
		MaliciousUserAgents: sortedKeys(maliciousUAs),
		SamplePayloads:      samples,
	}

	dir := l.intelDir(date)
	if err := writeJSON(filepath.Join(dir, "threat_intelligence.json"), feed); err != nil {
		return err
	}
	if err := writeLines(filepath.Join(dir, "malicious_ips.txt"), feed.MaliciousIPs); err != nil {
		return err
	}
	return writeLines(filepath.Join(dir, "attack_signatures.txt"), feed.AttackSignatures)
}

// fingerprint returns a short blake3 digest of payload, used purely as a
// sample-dedup key — never the sess_uuid idempotency key (spec §8.6
// remains keyed on sess_uuid only).
func fingerprint(payload string) string {
	sum := blake3.Sum256([]byte(payload))
	return fmt.Sprintf("%x", sum[:8])
}

// Sweep deletes date-prefixed directories older than retentionDays under
// each category (spec §4.5/§8.7), mirroring loader.py's cleanup_old_data.
func (l *Loader) Sweep(retentionDays int, now time.Time) error {
	categories := []string{"processed", "alerts", "statistics", "threat_intelligence"}
	for _, category := range categories {
		dir := filepath.Join(l.Root, category)
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			d, err := time.Parse("2006-01-02", e.Name())
			if err != nil {
				continue
			}
			ageDays := int(now.UTC().Sub(d).Hours() / 24)
			if ageDays > retentionDays {
				if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ReadSummary loads a previously-written daily summary, for
// internal/query's GET /api/statistics. Returns (zero, false, nil) if
// the day has never been refreshed.
func (l *Loader) ReadSummary(date string) (model.DailySummary, bool, error) {
	var summary model.DailySummary
	b, err := os.ReadFile(filepath.Join(l.statsDir(date), "summary.json"))
	if os.IsNotExist(err) {
		return summary, false, nil
	}
	if err != nil {
		return summary, false, err
	}
	if err := json.Unmarshal(b, &summary); err != nil {
		return summary, false, err
	}
	return summary, true, nil
}

// ReadThreatIntel loads a previously-written threat-intelligence feed,
// for internal/query's GET /api/threat-intelligence. Returns (zero,
// false, nil) if the day has never been refreshed.
func (l *Loader) ReadThreatIntel(date string) (model.ThreatIntelFeed, bool, error) {
	var feed model.ThreatIntelFeed
	b, err := os.ReadFile(filepath.Join(l.intelDir(date), "threat_intelligence.json"))
	if os.IsNotExist(err) {
		return feed, false, nil
	}
	if err != nil {
		return feed, false, err
	}
	if err := json.Unmarshal(b, &feed); err != nil {
		return feed, false, err
	}
	return feed, true, nil
}

// Dates lists every calendar day that has a processed/ directory,
// descending, for internal/query's GET /api/dates.
func (l *Loader) Dates() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.Root, "processed"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			dates = append(dates, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func topN[T any](counts map[string]int, n int, build func(string, int) T) []T {
	type kv struct {
		k string
		v int
	}
	kvs := make([]kv, 0, len(counts))
	for k, v := range counts {
		kvs = append(kvs, kv{k, v})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].v != kvs[j].v {
			return kvs[i].v > kvs[j].v
		}
		return kvs[i].k < kvs[j].k
	})
	if len(kvs) > n {
		kvs = kvs[:n]
	}
	out := make([]T, 0, len(kvs))
	for _, e := range kvs {
		out = append(out, build(e.k, e.v))
	}
	return out
}
