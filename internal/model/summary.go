package model

// RiskBucketCounts is the bucketed risk_score distribution used by
// DailySummary (spec §3): critical>=70, high>=50, medium>=30, low>=15, info<15.
type RiskBucketCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// IPCount pairs a source IP with an occurrence count, used for top-N lists.
type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// UACount pairs a user-agent string with an occurrence count.
type UACount struct {
	UserAgent string `json:"user_agent"`
	Count     int    `json:"count"`
}

// DailySummary is the derived per-day aggregate (spec §3).
type DailySummary struct {
	Date                    string           `json:"date"`
	TotalSessions           int              `json:"total_sessions"`
	AttackTypeDistribution  map[string]int   `json:"attack_type_distribution"`
	ThreatLevelDistribution map[string]int   `json:"threat_level_distribution"`
	RiskScoreDistribution   RiskBucketCounts `json:"risk_score_distribution"`
	TopSourceIPs            []IPCount        `json:"top_source_ips"`
	TopUserAgents           []UACount        `json:"top_user_agents"`
	AlertCounts             map[string]int   `json:"alert_counts"`
	AverageRiskScore        float64          `json:"average_risk_score"`
	RequiresReviewCount     int              `json:"requires_review_count"`
}

// ThreatIntelFeed is the derived per-day threat-intelligence artifact (spec §3).
type ThreatIntelFeed struct {
	Date               string   `json:"date"`
	MaliciousIPs       []string `json:"malicious_ips"`
	AttackSignatures   []string `json:"attack_signatures"`
	MaliciousUserAgents []string `json:"malicious_user_agents"`
	SamplePayloads     []string `json:"sample_payloads"`
}
