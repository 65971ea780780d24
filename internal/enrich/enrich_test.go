package enrich

import (
	"testing"

	"github.com/honeynet/telemetry-pipeline/internal/geoip"
	"github.com/honeynet/telemetry-pipeline/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrich_CriticalSeverityFromCmdExec(t *testing.T) {
	e := New(geoip.NoOp{}, StaticFeed{}, NoOpHinter{})
	c := model.CanonicalSession{
		UserAgent:         "sqlmap/1.7.2",
		UniqueAttackTypes: []string{"cmd_exec", "rfi"},
		AttackTypes:       []string{"cmd_exec", "rfi"},
		Paths:             []model.PathEntry{{Path: "/a"}, {Path: "/b"}},
		RateStats:         model.RateStats{RequestsPerSecond: 3},
	}
	es := e.Enrich(c)
	require.Equal(t, "critical", es.ThreatIntelligence.Severity)
	assert.True(t, es.UserAgentInfo.IsScanner)
	assert.Equal(t, "sqlmap", es.UserAgentInfo.ToolIdentified)
	assert.Contains(t, es.AttackPhases, "exploitation")
	assert.Contains(t, es.AttackPhases, "persistence_attempt")
}

func TestEnrich_ReconnaissancePhaseForIndexOnly(t *testing.T) {
	e := New(geoip.NoOp{}, StaticFeed{}, NoOpHinter{})
	c := model.CanonicalSession{
		UserAgent:         "Mozilla/5.0 (Firefox)",
		UniqueAttackTypes: []string{"index"},
		AttackTypes:       []string{"index"},
		Paths:             []model.PathEntry{{Path: "/"}},
	}
	es := e.Enrich(c)
	assert.Equal(t, "low", es.ThreatIntelligence.Severity)
	assert.Contains(t, es.AttackPhases, "reconnaissance")
	assert.NotContains(t, es.AttackPhases, "exploitation")
}

func TestEnrich_ScannerDetectionMarksSuspicious(t *testing.T) {
	info := userAgentInfo("")
	assert.True(t, info.Suspicious)

	info = userAgentInfo("nikto/2.5.0")
	assert.True(t, info.IsScanner)
	assert.Equal(t, "nikto", info.ToolIdentified)
	assert.True(t, info.Suspicious)
}

func TestEnrich_PayloadComplexityHigh(t *testing.T) {
	longPayload := make([]byte, 600)
	for i := range longPayload {
		longPayload[i] = '<'
	}
	// longest > 500 (+2), special-char density > 30% (+2), and one
	// encoding family from the trailing "%3C" (+1) reach the high cutoff of 5.
	paths := []model.PathEntry{{PostBody: string(longPayload) + "%3C"}}
	pa := payloadAnalysis(paths)
	assert.Equal(t, "high", pa.PayloadComplexity)
}

func TestEscalationDetected_NonDecreasingSeverityWithTwoRanks(t *testing.T) {
	assert.True(t, escalationDetected([]string{"index", "xss", "sqli"}))
	assert.True(t, escalationDetected([]string{"xss", "cmd_exec"}))
}

func TestEscalationDetected_RepeatsAloneAreNotEscalation(t *testing.T) {
	assert.False(t, escalationDetected([]string{"xss", "xss", "xss", "xss"}))
}

func TestEscalationDetected_SeverityDropBreaksEscalation(t *testing.T) {
	assert.False(t, escalationDetected([]string{"cmd_exec", "index"}))
}

func TestTopRepeatedAttacks_KeepsFiveHighestByCount(t *testing.T) {
	sequence := []string{
		"a", "a", "a",
		"b", "b",
		"c",
		"d",
		"e",
		"f",
	}
	top := topRepeatedAttacks(sequence)
	assert.Len(t, top, 5)
	assert.Equal(t, 3, top["a"])
	assert.Equal(t, 2, top["b"])
}

func TestEnrich_GeoNoOpLeavesLocationNil(t *testing.T) {
	e := New(nil, nil, nil)
	es := e.Enrich(model.CanonicalSession{Peer: model.Peer{IP: "8.8.8.8"}})
	assert.Nil(t, es.GeoLocation)
	assert.Equal(t, "unknown", es.ThreatIntelligence.ThreatActorType)
}
