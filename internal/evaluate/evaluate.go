// Package evaluate turns an EnrichedSession into an EvaluatedSession by
// computing the weighted risk score, threat level, priority, exploitation
// likelihood, impact assessment, recommendations, and review/alert flags
// (spec §4.4). It implements the function-based weighting table from
// spec.md exclusively — see DESIGN.md for why the alternative class-based
// model (spec §9 Open Question) is not wired in.
package evaluate

import (
	"sort"
	"strings"

	"github.com/honeynet/telemetry-pipeline/internal/model"
)

// cmdChainHint/pathTraversalHint back the payload-component bonuses; they
// intentionally overlap with internal/classify's rules since the payload
// score reacts to raw signal, not to the classifier's final decision.
var (
	cmdChainHint      = []string{";", "&&", "||", "|"}
	pathTraversalHint = []string{"../", "..\\"}
)

// Evaluate computes the risk score and derived fields for es (spec §4.4).
func Evaluate(es model.EnrichedSession) model.EvaluatedSession {
	out := model.EvaluatedSession{EnrichedSession: es}

	b := model.RiskBreakdown{
		Severity:    severityScore(es.ThreatIntelligence.Severity),
		Complexity:  complexityScore(es),
		Automation:  automationScore(es),
		Payload:     payloadScore(es),
		Targeting:   targetingScore(es),
		Persistence: persistenceScore(es),
	}
	out.RiskBreakdown = b
	out.RiskScore = clamp(b.Sum(), 0, 100)

	out.ThreatLevel = threatLevel(out.RiskScore)
	out.ExploitationLikelihood = exploitationLikelihood(es)
	out.Priority = priority(out.RiskScore, es, out.ExploitationLikelihood)
	out.ConfidenceScore = es.ThreatIntelligence.Confidence
	out.ImpactAssessment = impactAssessment(es.UniqueAttackTypes)
	out.RequiresReview = requiresReview(out, es)
	out.AlertLevel = alertLevel(out)
	out.Recommendations = recommendations(out, es)

	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// severityScore is the Severity component (cap 30, spec §4.4).
func severityScore(severity string) float64 {
	switch severity {
	case "critical":
		return 30
	case "high":
		return 24
	case "medium":
		return 18
	case "low":
		return 12
	default:
		return 6
	}
}

// complexityScore is the Complexity component (cap 20, spec §4.4). The
// benign "index" marker is not itself an attack type, so it never
// contributes to complexity (it has no dedicated score elsewhere either).
func complexityScore(es model.EnrichedSession) float64 {
	n := float64(countRealAttackTypes(es.UniqueAttackTypes))
	score := n * 4
	if score > 12 {
		score = 12
	}
	if es.AttackPatterns.EscalationDetected {
		score += 8
	}
	return clamp(score, 0, 20)
}

// automationScore is the Automation component (cap 15, spec §4.4).
func automationScore(es model.EnrichedSession) float64 {
	var score float64
	if es.ThreatIntelligence.IsAutomated {
		score += 10
	}
	switch {
	case es.RateStats.RequestsPerSecond > 5:
		score += 5
	case es.RateStats.RequestsPerSecond > 2:
		score += 3
	}
	return clamp(score, 0, 15)
}

// payloadScore is the Payload component (cap 15, spec §4.4).
func payloadScore(es model.EnrichedSession) float64 {
	var score float64
	types := es.UniqueAttackTypes

	if hasAny(types, "cmd_exec", "rfi") {
		score += 6
	}
	if hasAny(types, "sqli") {
		score += 5
	}
	if hasAny(types, "lfi", "xxe_injection") {
		score += 4
	}
	if hasAny(types, "xss") {
		score += 3
	}

	switch es.PayloadAnalysis.PayloadComplexity {
	case "high":
		score += 3
	case "medium":
		score += 2
	}

	if payloadMatchesAny(es.Paths, cmdChainHint) {
		score += 2
	}
	if payloadMatchesAny(es.Paths, pathTraversalHint) {
		score += 1
	}

	return clamp(score, 0, 15)
}

// targetingScore is the Targeting component (cap 10, spec §4.4).
func targetingScore(es model.EnrichedSession) float64 {
	var score float64
	if es.UserAgentInfo.IsScanner {
		score += 5
	}
	if es.RequestPatterns.UniquePaths > 1 && es.RequestPatterns.PathDiversity < 0.3 {
		score += 5
	}
	return clamp(score, 0, 10)
}

// persistenceScore is the Persistence component (cap 10, spec §4.4).
func persistenceScore(es model.EnrichedSession) float64 {
	var score float64
	if es.TemporalPatterns.IsProlonged {
		score += 5
	}
	switch {
	case es.TotalRequests > 20:
		score += 5
	case es.TotalRequests > 10:
		score += 3
	}
	return clamp(score, 0, 10)
}

func countRealAttackTypes(types []string) int {
	n := 0
	for _, t := range types {
		if t != "index" {
			n++
		}
	}
	return n
}

func hasAny(types []string, want ...string) bool {
	set := make(map[string]bool, len(want))
	for _, w := range want {
		set[w] = true
	}
	for _, t := range types {
		if set[t] {
			return true
		}
	}
	return false
}

func payloadMatchesAny(paths []model.PathEntry, hints []string) bool {
	for _, p := range paths {
		payload := p.PostBody + " " + p.Path
		for _, v := range p.QueryParams {
			payload += " " + v
		}
		for _, h := range hints {
			if strings.Contains(payload, h) {
				return true
			}
		}
	}
	return false
}

// threatLevel buckets risk_score (spec §4.4).
func threatLevel(score float64) string {
	switch {
	case score >= 70:
		return "CRITICAL"
	case score >= 50:
		return "HIGH"
	case score >= 30:
		return "MEDIUM"
	case score >= 15:
		return "LOW"
	default:
		return "INFO"
	}
}

// exploitationLikelihood counts signal flags (spec §4.4).
func exploitationLikelihood(es model.EnrichedSession) string {
	count := 0
	if es.UserAgentInfo.IsScanner {
		count++
	}
	if es.AttackPatterns.EscalationDetected {
		count++
	}
	if hasAny(es.UniqueAttackTypes, "cmd_exec", "rfi", "php_code_injection", "php_object_injection") {
		count++
	}
	for _, n := range es.AttackPatterns.RepeatedAttacks {
		if n > 3 {
			count++
			break
		}
	}

	switch {
	case count >= 3:
		return "HIGH"
	case count >= 2:
		return "MEDIUM"
	case count >= 1:
		return "LOW"
	default:
		return "VERY_LOW"
	}
}

// priority elevates based on score plus targeting/phase signal (spec §4.4).
func priority(score float64, es model.EnrichedSession, likelihood string) string {
	hasPhase := hasAny(es.AttackPhases, "exploitation", "persistence_attempt")
	switch {
	case score >= 70 && (es.ThreatIntelligence.IsTargeted || hasPhase):
		return "P1-URGENT"
	case score >= 50:
		return "P2-HIGH"
	case score >= 30:
		return "P3-MEDIUM"
	case score >= 15:
		return "P4-LOW"
	default:
		return "P5-INFO"
	}
}

// impactAssessment is a deterministic lookup keyed by attack type presence
// (spec §3/§4.4).
func impactAssessment(types []string) model.ImpactAssessment {
	ia := model.ImpactAssessment{
		Confidentiality: "none", Integrity: "none", Availability: "none",
		Scope: "single-host", Financial: "negligible", Reputation: "negligible",
	}
	switch {
	case hasAny(types, "cmd_exec", "rfi", "php_code_injection", "php_object_injection"):
		ia.Confidentiality, ia.Integrity, ia.Availability = "high", "high", "high"
		ia.Scope, ia.Financial, ia.Reputation = "network-wide", "severe", "severe"
	case hasAny(types, "sqli"):
		ia.Confidentiality, ia.Integrity = "high", "medium"
		ia.Scope, ia.Financial, ia.Reputation = "data-store", "high", "high"
	case hasAny(types, "xxe_injection", "template_injection"):
		ia.Confidentiality, ia.Integrity = "medium", "medium"
		ia.Scope, ia.Financial, ia.Reputation = "single-host", "moderate", "moderate"
	case hasAny(types, "xss", "crlf"):
		ia.Integrity = "low"
		ia.Scope, ia.Financial, ia.Reputation = "client-side", "low", "moderate"
	case hasAny(types, "lfi"):
		ia.Confidentiality = "medium"
		ia.Scope, ia.Financial, ia.Reputation = "single-host", "moderate", "low"
	}
	return ia
}

// requiresReview implements the disjunction from spec §4.4.
func requiresReview(out model.EvaluatedSession, es model.EnrichedSession) bool {
	if out.RiskScore >= 60 {
		return true
	}
	if out.ThreatLevel == "CRITICAL" || out.ThreatLevel == "HIGH" {
		return true
	}
	if out.ExploitationLikelihood == "HIGH" {
		return true
	}
	if out.ConfidenceScore < 0.5 && out.RiskScore >= 40 {
		return true
	}
	for _, tag := range es.BehaviorTags {
		if tag == "attack_escalation" {
			return true
		}
	}
	return false
}

// alertLevel escalates threat_level with the requires_review signal (spec §4.4).
func alertLevel(out model.EvaluatedSession) string {
	if out.ThreatLevel == "CRITICAL" && out.RequiresReview {
		return "CRITICAL"
	}
	if out.ThreatLevel == "HIGH" || (out.ThreatLevel == "MEDIUM" && out.ExploitationLikelihood == "HIGH") {
		return "HIGH"
	}
	if out.ThreatLevel == "" {
		return "INFO"
	}
	return out.ThreatLevel
}

// recommendations builds an ordered containment → remediation → detection
// template list keyed by threat level, attack types, and behavior tags
// (spec §4.4).
func recommendations(out model.EvaluatedSession, es model.EnrichedSession) []string {
	var recs []string

	if out.ThreatLevel == "CRITICAL" || out.ThreatLevel == "HIGH" {
		recs = append(recs, "block source IP at the edge firewall")
	}
	if hasAny(es.UniqueAttackTypes, "cmd_exec", "rfi", "php_code_injection", "php_object_injection") {
		recs = append(recs, "isolate affected snare and rotate any exposed credentials")
	}
	if hasAny(es.UniqueAttackTypes, "sqli") {
		recs = append(recs, "review database access logs for the session window")
	}
	if hasAny(es.UniqueAttackTypes, "xss") {
		recs = append(recs, "audit output encoding on the targeted endpoint")
	}
	if es.UserAgentInfo.IsScanner {
		recs = append(recs, "add user-agent signature to the scanner watchlist")
	}
	for _, tag := range es.BehaviorTags {
		if tag == "attack_escalation" {
			recs = append(recs, "flag session for manual analyst review")
			break
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "no action required, continue passive monitoring")
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recommendationRank(recs[i]) < recommendationRank(recs[j])
	})
	return recs
}

// recommendationRank orders recommendations: containment, then
// remediation, then detection-hardening (spec §4.4).
func recommendationRank(rec string) int {
	switch {
	case strings.HasPrefix(rec, "block source IP"), strings.HasPrefix(rec, "isolate affected snare"):
		return 0
	case strings.HasPrefix(rec, "review database"), strings.HasPrefix(rec, "audit output"):
		return 1
	default:
		return 2
	}
}
