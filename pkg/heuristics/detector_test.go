package heuristics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmscope/elmscope/pkg/packet"
)

func ex(cmd, resp string, lat float64) packet.Exchange {
	return packet.Exchange{Device: "obd", Command: cmd}.Complete(resp, lat)
}

func newDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector()
	require.NoError(t, err)
	return d
}

func fastExchanges(n int, lat float64) []packet.Exchange {
	xs := make([]packet.Exchange, n)
	for i := range xs {
		xs[i] = ex("ATI", "ELM327 v1.5", lat)
	}
	return xs
}

func TestDefaultRules_Load(t *testing.T) {
	rs, err := DefaultRules()
	require.NoError(t, err)
	require.Len(t, rs.Rules, 4)

	kinds := map[Kind]bool{}
	for _, r := range rs.Rules {
		kinds[r.Kind] = true
	}
	assert.True(t, kinds[KindAuthentication])
	assert.True(t, kinds[KindTiming])
	assert.True(t, kinds[KindMAC])
	assert.True(t, kinds[KindErrorPattern])
}

func TestDetect_EmptyTrafficFallsBack(t *testing.T) {
	d := newDetector(t)
	xs := []packet.Exchange{ex("ATZ", "ELM327 v1.5", 50), ex("ATE0", "OK", 40)}
	pkts := []packet.Packet{packet.New(0, "a", "b", packet.KindData, []byte("ATZ"))}

	findings := d.Detect(xs, pkts)
	assert.Empty(t, findings)
	assert.Equal(t, []string{FallbackRecommendation}, d.Recommendations(findings))
}

func TestDetect_Authentication(t *testing.T) {
	d := newDetector(t)
	xs := []packet.Exchange{
		ex("AT AUTH 1234", "OK", 40),
		ex("ATZ", "ELM327 v1.5", 40),
		ex("atchigee", "OK", 40),
		ex("ATCRYPTKEY", "ERROR", 40),
	}
	findings := d.Detect(xs, nil)

	auth := findByKind(findings, KindAuthentication)
	require.NotNil(t, auth)
	ev := auth.Evidence.(AuthEvidence)
	assert.Equal(t, 3, ev.Count)
	assert.Equal(t, []string{"AT AUTH 1234", "atchigee", "ATCRYPTKEY"}, ev.Commands)
	assert.Equal(t, SeverityHigh, auth.Severity)
	assert.Equal(t, "auth-keywords", auth.RuleID)
}

func TestDetect_TimingBoundary(t *testing.T) {
	d := newDetector(t)

	tests := []struct {
		name string
		n    int
		want bool
	}{
		{"ten fast do not trigger", 10, false},
		{"eleven fast trigger", 11, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			xs := append(fastExchanges(tc.n, 4), ex("ATRV", "12.1V", 80))
			f := findByKind(d.Detect(xs, nil), KindTiming)
			assert.Equal(t, tc.want, f != nil)
			if f != nil {
				ev := f.Evidence.(TimingEvidence)
				assert.Equal(t, tc.n, ev.FastResponses)
				assert.InDelta(t, 4.0, ev.AvgLatencyMs, 1e-9)
			}
		})
	}
}

func TestDetect_TimingIgnoresUnmatched(t *testing.T) {
	d := newDetector(t)
	xs := fastExchanges(10, 1)
	for i := 0; i < 5; i++ {
		xs = append(xs, packet.Exchange{Command: "ATZ"})
	}
	assert.Nil(t, findByKind(d.Detect(xs, nil), KindTiming))
}

func TestDetect_MACInPackets(t *testing.T) {
	d := newDetector(t)
	pkts := []packet.Packet{
		packet.New(0, "a", "b", packet.KindData, []byte("AT MAC 00:11:22")),
		packet.New(1, "b", "a", packet.KindData, []byte("mac ok")),
		packet.New(2, "b", "a", packet.KindData, []byte("OK")),
	}
	f := findByKind(d.Detect(nil, pkts), KindMAC)
	require.NotNil(t, f)
	assert.Equal(t, MACEvidence{Instances: 2}, f.Evidence)
}

func TestDetect_ErrorPatterns(t *testing.T) {
	d := newDetector(t)
	xs := []packet.Exchange{
		ex("ATSP9", "ERROR", 30),
		ex("ATSP9", "ERROR", 30),
		ex("ATMA", "ERROR", 30),
		ex("ATZ", "ELM327 v1.5", 30),
		ex("ATXX", "?", 30),
	}
	f := findByKind(d.Detect(xs, nil), KindErrorPattern)
	require.NotNil(t, f)
	ev := f.Evidence.(ErrorPatternEvidence)
	assert.Equal(t, map[string]int{"ATSP9": 2, "ATMA": 1}, ev.Patterns)
	assert.Equal(t, []string{"ATMA", "ATSP9"}, ev.Commands())
}

func TestDetect_RulesAreIndependent(t *testing.T) {
	d := newDetector(t)
	xs := append(fastExchanges(12, 2), ex("ATAUTH", "ERROR", 2))
	pkts := []packet.Packet{packet.New(0, "a", "b", packet.KindData, []byte("MAC"))}

	findings := d.Detect(xs, pkts)
	require.Len(t, findings, 4)
	assert.Equal(t, KindAuthentication, findings[0].Kind)
	assert.Equal(t, KindTiming, findings[1].Kind)
	assert.Equal(t, KindMAC, findings[2].Kind)
	assert.Equal(t, KindErrorPattern, findings[3].Kind)

	recs := d.Recommendations(findings)
	require.Len(t, recs, 4)
	assert.Equal(t, "Implement handlers for authentication commands: ATAUTH", recs[0])
	assert.Equal(t, "Add realistic timing delays (avg: 2.00ms)", recs[1])
	assert.Equal(t, "Implement MAC address spoofing for known working devices", recs[2])
	assert.Equal(t, "Ensure ATAUTH return proper responses to avoid security failure", recs[3])
}

func TestRecommendations_OnePerKind(t *testing.T) {
	d := newDetector(t)
	findings := []Finding{
		{Kind: KindMAC, RuleID: "mac-traffic", Evidence: MACEvidence{Instances: 1}},
		{Kind: KindMAC, RuleID: "mac-traffic", Evidence: MACEvidence{Instances: 3}},
		{Kind: KindTiming, RuleID: "custom", Description: "custom timing"},
	}
	recs := d.Recommendations(findings)
	assert.Equal(t, []string{
		"Implement MAC address spoofing for known working devices",
		"custom timing",
	}, recs)
}

func TestWithTimingThreshold(t *testing.T) {
	rs, err := DefaultRules()
	require.NoError(t, err)
	d, err := NewDetector(WithRules(rs.WithTimingThreshold(50)))
	require.NoError(t, err)

	f := findByKind(d.Detect(fastExchanges(11, 30), nil), KindTiming)
	require.NotNil(t, f)
	assert.Equal(t, 50.0, f.Evidence.(TimingEvidence).ThresholdMs)

	assert.Same(t, rs, rs.WithTimingThreshold(0))
	for _, r := range rs.Rules {
		if r.Kind == KindTiming {
			assert.Equal(t, 10.0, r.ThresholdMs, "default table must not be mutated")
		}
	}
}

func TestParseRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"not yaml", "rules: [::"},
		{"no rules", "rules: []"},
		{"bad kind", "rules:\n  - {id: x, kind: nope, description: d, recommendation: r}"},
		{"missing tokens", "rules:\n  - {id: x, kind: mac_validation, description: d, recommendation: r}"},
		{"zero threshold", "rules:\n  - {id: x, kind: timing_validation, description: d, recommendation: r}"},
		{"duplicate id", "rules:\n  - {id: x, kind: error_pattern, description: d, recommendation: r}\n  - {id: x, kind: error_pattern, description: d, recommendation: r}"},
		{"bad template", "rules:\n  - {id: x, kind: error_pattern, description: d, recommendation: '{{.Commands'}"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tc.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRules)
			assert.Equal(t, errorCodeInvalidRules, ErrorCode(err))
			assert.Equal(t, 2, ExitCode(err))
			assert.NotEmpty(t, Suggestions(err))
		})
	}
}

func TestLoadRulesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `rules:
  - id: slow-gate
    kind: timing_validation
    description: slow gate
    threshold_ms: 500
    min_count: 2
    recommendation: "delay {{printf \"%.0f\" .AvgLatencyMs}}"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rs, err := LoadRulesFile(path)
	require.NoError(t, err)
	assert.Equal(t, SeverityInfo, rs.Rules[0].Severity)

	d, err := NewDetector(WithRules(rs))
	require.NoError(t, err)
	findings := d.Detect(fastExchanges(2, 100), nil)
	require.Len(t, findings, 1)
	assert.Equal(t, []string{"delay 100"}, d.Recommendations(findings))

	_, err = LoadRulesFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrInvalidRules)
}

func findByKind(findings []Finding, k Kind) *Finding {
	for i := range findings {
		if findings[i].Kind == k {
			return &findings[i]
		}
	}
	return nil
}
