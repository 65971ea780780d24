// Package model defines the session record shapes that flow through the
// pipeline: RawSession (as received from an edge sensor) through
// CanonicalSession, EnrichedSession, and EvaluatedSession.
package model

import "encoding/json"

// Peer identifies the remote side of a captured connection.
type Peer struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// PathEntry is one request observed within a session.
type PathEntry struct {
	Path        string            `json:"path"`
	Method      string            `json:"method"`
	Timestamp   string            `json:"timestamp"`
	Status      int               `json:"response_status"`
	Headers     map[string]string `json:"headers,omitempty"`
	Cookies     map[string]string `json:"cookies,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
	PostBody    string            `json:"post_body,omitempty"`
	AttackType  string            `json:"attack_type,omitempty"`
}

// RateStats carries the session-level request-cadence statistics the sensor
// computed before publishing.
type RateStats struct {
	RequestsPerSecond   float64 `json:"requests_per_sec"`
	AvgInterRequestGap  float64 `json:"avg_inter_request_gap"`
	AcceptedPaths       int     `json:"accepted_paths"`
	Errors              int     `json:"errors"`
	HiddenLinkHits      int     `json:"hidden_link_hits"`
}

// GeoHint is an optional, sensor-supplied guess at session geography. It is
// advisory only — the GeoIP resolver (internal/geoip) is authoritative.
type GeoHint struct {
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
}

// RawSession is the JSON shape published by an edge honeypot sensor, one per
// stream entry. It is treated as immutable once published.
type RawSession struct {
	SessUUID        string             `json:"sess_uuid"`
	Peer            Peer               `json:"peer"`
	UserAgent       string             `json:"user_agent"`
	Snare           string             `json:"snare"`
	StartTime       string             `json:"start_time"`
	EndTime         string             `json:"end_time"`
	Paths           []PathEntry        `json:"paths"`
	Cookies         map[string]string  `json:"cookies,omitempty"`
	Referer         string             `json:"referer,omitempty"`
	AttackCount     map[string]int     `json:"attack_count,omitempty"`
	PossibleOwners  map[string]float64 `json:"possible_owners,omitempty"`
	RateStats       RateStats          `json:"rate_stats"`
	Geo             *GeoHint           `json:"geo,omitempty"`

	// Extra preserves any fields the decoder did not recognize, for
	// forensic inspection only. Never consulted by pipeline logic.
	Extra map[string]json.RawMessage `json:"-"`
}
