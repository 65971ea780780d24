package model

import "encoding/json"

// MaliciousAttackTypes is the set of attack_type values that mark a session
// as having malicious activity (spec §3, CanonicalSession.has_malicious_activity).
var MaliciousAttackTypes = map[string]bool{
	"sqli":                  true,
	"xss":                   true,
	"lfi":                   true,
	"rfi":                   true,
	"cmd_exec":              true,
	"php_code_injection":    true,
	"php_object_injection":  true,
	"template_injection":    true,
	"xxe_injection":         true,
	"crlf":                  true,
}

// CriticalAttackTypes immediately escalate threat severity to critical
// (spec §4.3 enricher severity mapping).
var CriticalAttackTypes = map[string]bool{
	"cmd_exec":             true,
	"rfi":                  true,
	"php_code_injection":   true,
	"php_object_injection": true,
}

// HighAttackTypes escalate severity to high when no critical type is present.
var HighAttackTypes = map[string]bool{
	"sqli":               true,
	"xxe_injection":      true,
	"template_injection": true,
}

// MediumAttackTypes escalate severity to medium when no critical/high type present.
var MediumAttackTypes = map[string]bool{
	"xss":  true,
	"lfi":  true,
	"crlf": true,
}

// CanonicalSession is the post-normalization, validated form of a RawSession.
// See spec §3 for field-by-field invariants.
type CanonicalSession struct {
	SessUUID    string             `json:"sess_uuid"`
	Peer        Peer               `json:"peer"`
	UserAgent   string             `json:"user_agent"`
	Snare       string             `json:"snare"`
	StartTime   string             `json:"start_time"`
	EndTime     string             `json:"end_time"`
	Paths       []PathEntry        `json:"paths"`
	Cookies     map[string]string  `json:"cookies,omitempty"`
	Referer     string             `json:"referer,omitempty"`
	AttackCount map[string]int     `json:"attack_count,omitempty"`
	PossibleOwners map[string]float64 `json:"possible_owners,omitempty"`
	RateStats   RateStats          `json:"rate_stats"`
	Geo         *GeoHint           `json:"geo,omitempty"`

	ProcessedAt string `json:"processed_at"`

	AttackTypes          []string `json:"attack_types"`
	UniqueAttackTypes     []string `json:"unique_attack_types"`
	TotalRequests         int      `json:"total_requests"`
	HasMaliciousActivity  bool     `json:"has_malicious_activity"`

	// Error is set, and SessUUID forced to "error", when normalization
	// fails soft (spec §4.2). A non-empty Error means the record carries
	// no further pipeline meaning and must be acked without enrichment.
	Error string `json:"error,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// IsMalicious reports whether attackType is in the malicious set (spec §3).
func IsMalicious(attackType string) bool {
	return MaliciousAttackTypes[attackType]
}
