package model

// ThreatIntelligence captures the coarse classification of a session's
// attacker behavior (spec §3 / §4.3).
type ThreatIntelligence struct {
	Severity        string   `json:"severity"` // critical|high|medium|low|info|unknown
	Confidence      float64  `json:"confidence"`
	AttackCategories []string `json:"attack_categories"`
	IsAutomated     bool     `json:"is_automated"`
	IsTargeted      bool     `json:"is_targeted"`
	ThreatActorType string   `json:"threat_actor_type"`
}

// AttackPatterns describes the shape of the attack sequence across a session.
type AttackPatterns struct {
	AttackSequence     []string       `json:"attack_sequence"`
	RepeatedAttacks    map[string]int `json:"repeated_attacks"`
	EscalationDetected bool           `json:"escalation_detected"`
	PatternSignature   string         `json:"pattern_signature"`
}

// UserAgentInfo is the result of static user-agent analysis.
type UserAgentInfo struct {
	IsBot          bool   `json:"is_bot"`
	IsScanner      bool   `json:"is_scanner"`
	IsBrowser      bool   `json:"is_browser"`
	ToolIdentified string `json:"tool_identified,omitempty"`
	Suspicious     bool   `json:"suspicious"`
}

// RequestPatterns summarizes the shape of the request sequence.
type RequestPatterns struct {
	MethodHistogram   map[string]int `json:"method_histogram"`
	StatusHistogram   map[string]int `json:"status_histogram"`
	UniquePaths       int            `json:"unique_paths"`
	PathDiversity     float64        `json:"path_diversity"`
	HasRepeatedPaths  bool           `json:"has_repeated_paths"`
}

// PayloadAnalysis summarizes payload length and obfuscation statistics.
type PayloadAnalysis struct {
	TotalPayloadLength int      `json:"total_payload_length"`
	LongestPayload     int      `json:"longest_payload"`
	AvgPayloadLength   float64  `json:"avg_payload_length"`
	EncodingDetected   []string `json:"encoding_detected,omitempty"`
	HasEncodedContent  bool     `json:"has_encoded_content"`
	PayloadComplexity  string   `json:"payload_complexity"` // low|medium|high
}

// IPReputation summarizes what is known about the source IP.
type IPReputation struct {
	IsPrivate       bool    `json:"is_private"`
	IsTor           bool    `json:"is_tor"`
	IsVPN           bool    `json:"is_vpn"`
	IsCloud         bool    `json:"is_cloud"`
	ReputationScore float64 `json:"reputation_score"`
	Notes           []string `json:"notes,omitempty"`
}

// TemporalPatterns summarizes session timing.
type TemporalPatterns struct {
	DurationSeconds float64 `json:"duration_seconds"`
	RequestRate     float64 `json:"request_rate"`
	TimeOfDay       string  `json:"time_of_day"` // morning|afternoon|evening|night
	IsProlonged     bool    `json:"is_prolonged"`
}

// EnrichedSession extends CanonicalSession with derived sub-records (spec §3/§4.3).
type EnrichedSession struct {
	CanonicalSession

	ThreatIntelligence ThreatIntelligence `json:"threat_intelligence"`
	AttackPatterns     AttackPatterns     `json:"attack_patterns"`
	UserAgentInfo      UserAgentInfo      `json:"user_agent_info"`
	RequestPatterns    RequestPatterns    `json:"request_patterns"`
	PayloadAnalysis    PayloadAnalysis    `json:"payload_analysis"`
	IPReputation       IPReputation       `json:"ip_reputation"`
	TemporalPatterns   TemporalPatterns   `json:"temporal_patterns"`
	BehaviorTags       []string           `json:"behavior_tags,omitempty"`
	AttackPhases       []string           `json:"attack_phases,omitempty"`

	// GeoLocation is the GeoIP resolver's output (nil if resolution failed or
	// no resolver was configured). Distinct from RawSession.Geo, which is
	// the sensor's own advisory hint.
	GeoLocation *GeoLocation `json:"geo_location,omitempty"`
}

// GeoLocation is the GeoIP resolver's output for a peer IP (spec §4.1 table row 4.4).
type GeoLocation struct {
	Country   string  `json:"country,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}
