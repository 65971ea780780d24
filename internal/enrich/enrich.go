// Package enrich derives behavioral and contextual sub-records from a
// CanonicalSession (spec §4.3). It is a pure function of its inputs plus
// two injected capabilities — GeoIP resolution and an optional LLM threat-
// actor hint — neither of which may affect any deterministic/tested
// property (attack_types, risk_score, threat phases).
//
// Structurally grounded on other_examples' EventNormalizer "injectable
// enrichers, never package globals" shape (REDESIGN FLAGS §9: per-module
// global caches become explicit service objects).
package enrich

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/honeynet/telemetry-pipeline/internal/geoip"
	"github.com/honeynet/telemetry-pipeline/internal/model"
)

// Encoding-family detectors feeding payload_analysis.encoding_detected
// (spec §3: url_encoded, base64_pattern, hex_encoded, html_entities,
// unicode_escaped).
var (
	percentEncodedRE = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)
	hexEncodedRE      = regexp.MustCompile(`(0x[0-9A-Fa-f]{4,}|\\x[0-9A-Fa-f]{2})`)
	htmlEntityRE      = regexp.MustCompile(`&#?\w{2,8};`)
	base64RE          = regexp.MustCompile(`[A-Za-z0-9+/]{24,}={0,2}`)
)

// scannerTools is the fixed tool-identification set matched case-
// insensitively against the session user agent (spec §3/§4.3). Order
// matters: more specific substrings are checked before the generic
// "scanner" fallback.
var scannerTools = []struct {
	name    string
	matches string
}{
	{"sqlmap", "sqlmap"},
	{"nikto", "nikto"},
	{"nmap", "nmap"},
	{"masscan", "masscan"},
	{"nessus", "nessus"},
	{"acunetix", "acunetix"},
	{"burp", "burp"},
	{"zap", "zap"},
	{"metasploit", "metasploit"},
	{"wget", "wget"},
	{"curl", "curl"},
	{"python-requests", "python-requests"},
	{"go-http-client", "go-http-client"},
	{"scanner", "scanner"},
}

// IPReputationFeed resolves external reputation for a peer IP (spec §9
// Open Question: "IP-reputation has a TODO for external feeds"). The
// default StaticFeed performs only prefix checks for a few private and
// loopback ranges; a real feed (AbuseIPDB etc.) can be wired in without changing
// the Enricher's signature.
type IPReputationFeed interface {
	Reputation(ip string) model.IPReputation
}

// StaticFeed is the default, no-external-call IPReputationFeed.
type StaticFeed struct{}

func (StaticFeed) Reputation(ip string) model.IPReputation {
	rep := model.IPReputation{ReputationScore: 50}
	if ip == "" {
		return rep
	}
	if strings.HasPrefix(ip, "10.") || strings.HasPrefix(ip, "192.168.") ||
		strings.HasPrefix(ip, "127.") || strings.HasPrefix(ip, "172.16.") {
		rep.IsPrivate = true
		rep.ReputationScore = 0
		rep.Notes = append(rep.Notes, "private address range")
	}
	return rep
}

// ThreatActorHinter optionally classifies the likely actor behind a
// session (spec §9, §4.1.1 in SPEC_FULL.md). The default NoOpHinter never
// calls out and always reports "unknown"; this field never influences
// attack_types, risk_score, or any tested invariant.
type ThreatActorHinter interface {
	Hint(s model.CanonicalSession) string
}

// NoOpHinter always reports an unknown threat actor type.
type NoOpHinter struct{}

func (NoOpHinter) Hint(model.CanonicalSession) string { return "unknown" }

// Enricher derives an EnrichedSession from a CanonicalSession.
type Enricher struct {
	Geo        geoip.Resolver
	Reputation IPReputationFeed
	Hinter     ThreatActorHinter
}

// New builds an Enricher with the given capabilities. Pass geoip.NoOp{},
// StaticFeed{}, and NoOpHinter{} for a fully deterministic, dependency-free
// enricher (the default wiring, spec §9).
func New(geo geoip.Resolver, rep IPReputationFeed, hinter ThreatActorHinter) *Enricher {
	if geo == nil {
		geo = geoip.NoOp{}
	}
	if rep == nil {
		rep = StaticFeed{}
	}
	if hinter == nil {
		hinter = NoOpHinter{}
	}
	return &Enricher{Geo: geo, Reputation: rep, Hinter: hinter}
}

// Enrich derives all sub-records for c (spec §4.3).
func (e *Enricher) Enrich(c model.CanonicalSession) model.EnrichedSession {
	es := model.EnrichedSession{CanonicalSession: c}

	es.ThreatIntelligence = e.threatIntelligence(c)
	es.UserAgentInfo = userAgentInfo(c.UserAgent)
	es.RequestPatterns = requestPatterns(c.Paths)
	es.PayloadAnalysis = payloadAnalysis(c.Paths)
	es.AttackPatterns = attackPatterns(c)
	es.TemporalPatterns = temporalPatterns(c)
	es.IPReputation = e.Reputation.Reputation(c.Peer.IP)
	es.AttackPhases = attackPhases(c, es.RequestPatterns)
	es.BehaviorTags = behaviorTags(c, es)

	if loc, ok := e.Geo.Lookup(c.Peer.IP); ok {
		es.GeoLocation = loc
	}
	es.ThreatIntelligence.ThreatActorType = e.Hinter.Hint(c)

	return es
}

// threatIntelligence maps attack_types to a severity bucket (spec §4.3).
func (e *Enricher) threatIntelligence(c model.CanonicalSession) model.ThreatIntelligence {
	ti := model.ThreatIntelligence{
		AttackCategories: c.UniqueAttackTypes,
		IsAutomated:      c.RateStats.RequestsPerSecond > 1.0,
	}

	switch {
	case anyOf(c.UniqueAttackTypes, model.CriticalAttackTypes):
		ti.Severity = "critical"
	case anyOf(c.UniqueAttackTypes, model.HighAttackTypes):
		ti.Severity = "high"
	case anyOf(c.UniqueAttackTypes, model.MediumAttackTypes):
		ti.Severity = "medium"
	case contains(c.UniqueAttackTypes, "index"):
		ti.Severity = "low"
	default:
		ti.Severity = "info"
	}

	switch ti.Severity {
	case "critical":
		ti.Confidence = 0.9
	case "high":
		ti.Confidence = 0.75
	case "medium":
		ti.Confidence = 0.6
	default:
		ti.Confidence = 0.4
	}

	ti.IsTargeted = len(c.UniqueAttackTypes) > 1 || ti.Severity == "critical"
	return ti
}

// userAgentInfo classifies the session user agent (spec §4.3).
func userAgentInfo(ua string) model.UserAgentInfo {
	info := model.UserAgentInfo{}
	lower := strings.ToLower(strings.TrimSpace(ua))

	for _, t := range scannerTools {
		if strings.Contains(lower, t.matches) {
			info.IsScanner = true
			info.ToolIdentified = t.name
			break
		}
	}

	info.IsBot = strings.Contains(lower, "bot") || strings.Contains(lower, "crawler") ||
		strings.Contains(lower, "spider") || info.IsScanner
	info.IsBrowser = !info.IsScanner && (strings.Contains(lower, "mozilla") ||
		strings.Contains(lower, "chrome") || strings.Contains(lower, "safari") ||
		strings.Contains(lower, "firefox"))

	info.Suspicious = ua == "" || len(ua) < 10 || ua == "-" || info.IsScanner
	return info
}

// requestPatterns summarizes the path/method/status shape of a session
// (spec §4.3).
func requestPatterns(paths []model.PathEntry) model.RequestPatterns {
	rp := model.RequestPatterns{
		MethodHistogram: map[string]int{},
		StatusHistogram: map[string]int{},
	}
	seen := map[string]bool{}
	for _, p := range paths {
		if p.Method != "" {
			rp.MethodHistogram[p.Method]++
		}
		if p.Status != 0 {
			rp.StatusHistogram[strconv.Itoa(p.Status)]++
		}
		seen[p.Path] = true
	}
	rp.UniquePaths = len(seen)
	if len(paths) > 0 {
		rp.PathDiversity = float64(rp.UniquePaths) / float64(len(paths))
	}
	rp.HasRepeatedPaths = rp.UniquePaths < len(paths)
	return rp
}

// payloadAnalysis computes length/encoding statistics over POST bodies and
// query strings (spec §4.3's complexity formula consumes this output).
func payloadAnalysis(paths []model.PathEntry) model.PayloadAnalysis {
	pa := model.PayloadAnalysis{}
	var total int
	var encodings = map[string]bool{}
	var specialChars, totalChars int

	for _, p := range paths {
		payload := p.PostBody
		for _, v := range p.QueryParams {
			payload += v
		}
		l := len(payload)
		total += l
		if l > pa.LongestPayload {
			pa.LongestPayload = l
		}
		if percentEncodedRE.MatchString(payload) {
			encodings["url_encoded"] = true
		}
		if hexEncodedRE.MatchString(payload) {
			encodings["hex_encoded"] = true
		}
		if htmlEntityRE.MatchString(payload) {
			encodings["html_entities"] = true
		}
		if strings.Contains(payload, "\\u") {
			encodings["unicode_escaped"] = true
		}
		if base64RE.MatchString(payload) {
			encodings["base64_pattern"] = true
		}
		for _, r := range payload {
			totalChars++
			if strings.ContainsRune(`<>'";&|$(){}[]%\`, r) {
				specialChars++
			}
		}
	}

	pa.TotalPayloadLength = total
	if len(paths) > 0 {
		pa.AvgPayloadLength = float64(total) / float64(len(paths))
	}
	for enc := range encodings {
		pa.EncodingDetected = append(pa.EncodingDetected, enc)
	}
	sort.Strings(pa.EncodingDetected)
	pa.HasEncodedContent = len(pa.EncodingDetected) > 0

	score := 0
	if pa.LongestPayload > 500 {
		score += 2
	} else if pa.LongestPayload > 200 {
		score += 1
	}
	score += len(pa.EncodingDetected)
	if totalChars > 0 && float64(specialChars)/float64(totalChars) > 0.3 {
		score += 2
	}

	switch {
	case score >= 5:
		pa.PayloadComplexity = "high"
	case score >= 2:
		pa.PayloadComplexity = "medium"
	default:
		pa.PayloadComplexity = "low"
	}
	return pa
}

// attackSeverityRank orders attack types by severity for escalation
// detection (spec §3): critical > high > medium > everything else.
func attackSeverityRank(attackType string) int {
	switch {
	case model.CriticalAttackTypes[attackType]:
		return 3
	case model.HighAttackTypes[attackType]:
		return 2
	case model.MediumAttackTypes[attackType]:
		return 1
	default:
		return 0
	}
}

// escalationDetected reports whether sequence's severity ranks are
// non-decreasing end-to-end and take on at least two distinct values
// (spec §3): a session that opens with recon and ramps into something
// more severe, not merely one that repeats the same attack.
func escalationDetected(sequence []string) bool {
	distinct := map[int]bool{}
	prev := -1
	for _, at := range sequence {
		rank := attackSeverityRank(at)
		if prev != -1 && rank < prev {
			return false
		}
		distinct[rank] = true
		prev = rank
	}
	return len(distinct) >= 2
}

// topRepeatedAttacks keeps the five most-repeated attack types (spec §3
// "repeated_attacks (top-5 counter)"), ties broken alphabetically for
// determinism.
func topRepeatedAttacks(sequence []string) map[string]int {
	counts := map[string]int{}
	for _, at := range sequence {
		counts[at]++
	}
	if len(counts) <= 5 {
		return counts
	}
	names := make([]string, 0, len(counts))
	for at := range counts {
		names = append(names, at)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	top := make(map[string]int, 5)
	for _, at := range names[:5] {
		top[at] = counts[at]
	}
	return top
}

// attackPatterns derives the sequence, repeat counts, and cluster
// signature of attack types seen in a session (spec §3 "pattern_signature").
func attackPatterns(c model.CanonicalSession) model.AttackPatterns {
	ap := model.AttackPatterns{
		AttackSequence:     c.AttackTypes,
		RepeatedAttacks:    topRepeatedAttacks(c.AttackTypes),
		EscalationDetected: escalationDetected(c.AttackTypes),
	}
	sig := make([]string, len(c.UniqueAttackTypes))
	copy(sig, c.UniqueAttackTypes)
	sort.Strings(sig)
	ap.PatternSignature = strings.Join(sig, "-")
	return ap
}

// temporalPatterns derives session duration/rate/time-of-day facts (spec §4.3).
func temporalPatterns(c model.CanonicalSession) model.TemporalPatterns {
	tp := model.TemporalPatterns{RequestRate: c.RateStats.RequestsPerSecond}
	start, sOk := parseTime(c.StartTime)
	end, eOk := parseTime(c.EndTime)
	if sOk && eOk {
		tp.DurationSeconds = end.Sub(start).Seconds()
		if tp.DurationSeconds < 0 {
			tp.DurationSeconds = 0
		}
	}
	tp.IsProlonged = tp.DurationSeconds > 300

	if sOk {
		switch h := start.Hour(); {
		case h >= 5 && h < 12:
			tp.TimeOfDay = "morning"
		case h >= 12 && h < 17:
			tp.TimeOfDay = "afternoon"
		case h >= 17 && h < 21:
			tp.TimeOfDay = "evening"
		default:
			tp.TimeOfDay = "night"
		}
	}
	return tp
}

// attackPhases derives the set of phases present in a session (spec §4.3).
func attackPhases(c model.CanonicalSession, rp model.RequestPatterns) []string {
	var phases []string
	if onlyIndex(c.UniqueAttackTypes) {
		phases = append(phases, "reconnaissance")
	}
	if len(c.Paths) > 5 {
		phases = append(phases, "scanning")
	}
	if anyOf(c.UniqueAttackTypes, exploitationTypes) {
		phases = append(phases, "exploitation")
	}
	if anyOf(c.UniqueAttackTypes, persistenceTypes) {
		phases = append(phases, "persistence_attempt")
	}
	_ = rp
	return phases
}

var exploitationTypes = map[string]bool{
	"sqli": true, "xss": true, "lfi": true, "rfi": true,
	"cmd_exec": true, "xxe_injection": true,
}

var persistenceTypes = map[string]bool{
	"cmd_exec": true, "rfi": true, "php_code_injection": true,
}

// behaviorTags accumulates free-form signal tags consumed by the
// recommendation templates (spec §4.4) and the requires_review rule.
func behaviorTags(c model.CanonicalSession, es model.EnrichedSession) []string {
	var tags []string
	if es.AttackPatterns.EscalationDetected {
		tags = append(tags, "attack_escalation")
	}
	if es.UserAgentInfo.IsScanner {
		tags = append(tags, "automated_scanner")
	}
	if es.TemporalPatterns.IsProlonged {
		tags = append(tags, "prolonged_session")
	}
	if es.PayloadAnalysis.HasEncodedContent {
		tags = append(tags, "obfuscated_payload")
	}
	if es.RequestPatterns.PathDiversity < 0.3 && es.RequestPatterns.UniquePaths > 1 {
		tags = append(tags, "low_path_diversity")
	}
	return tags
}

func onlyIndex(types []string) bool {
	if len(types) == 0 {
		return false
	}
	for _, t := range types {
		if t != "index" {
			return false
		}
	}
	return true
}

func anyOf(types []string, set map[string]bool) bool {
	for _, t := range types {
		if set[t] {
			return true
		}
	}
	return false
}

func contains(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
