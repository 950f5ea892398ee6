package heuristics

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/elmscope/elmscope/pkg/packet"
)

type evaluator func(r Rule, exchanges []packet.Exchange, packets []packet.Packet) (any, bool)

var evaluators = map[Kind]evaluator{
	KindAuthentication: evalAuthentication,
	KindTiming:         evalTiming,
	KindMAC:            evalMAC,
	KindErrorPattern:   evalErrorPattern,
}

// Detector evaluates a rule table over one analysis run.
type Detector struct {
	rules  *RuleSet
	logger zerolog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithRules replaces the embedded rule table.
func WithRules(rs *RuleSet) Option {
	return func(d *Detector) {
		if rs != nil {
			d.rules = rs
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// NewDetector builds a Detector over the embedded rules unless WithRules is given.
func NewDetector(opts ...Option) (*Detector, error) {
	d := &Detector{logger: log.Logger.With().Str("component", "heuristics").Logger()}
	for _, opt := range opts {
		opt(d)
	}
	if d.rules == nil {
		rs, err := DefaultRules()
		if err != nil {
			return nil, err
		}
		d.rules = rs
	}
	return d, nil
}

// Rules exposes the active table.
func (d *Detector) Rules() *RuleSet {
	return d.rules
}

// Detect runs every rule in table order and returns the findings they emit.
func (d *Detector) Detect(exchanges []packet.Exchange, packets []packet.Packet) []Finding {
	findings := []Finding{}
	for _, r := range d.rules.Rules {
		eval, ok := evaluators[r.Kind]
		if !ok {
			d.logger.Warn().Str("rule", r.ID).Str("kind", string(r.Kind)).Msg("no evaluator for rule kind")
			continue
		}
		evidence, hit := eval(r, exchanges, packets)
		if !hit {
			continue
		}
		d.logger.Debug().Str("rule", r.ID).Str("kind", string(r.Kind)).Msg("rule matched")
		findings = append(findings, Finding{
			Kind:        r.Kind,
			RuleID:      r.ID,
			Description: r.Description,
			Severity:    r.Severity,
			Evidence:    evidence,
		})
	}
	return findings
}

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

func evalAuthentication(r Rule, exchanges []packet.Exchange, _ []packet.Packet) (any, bool) {
	var cmds []string
	for _, e := range exchanges {
		if containsAny(strings.ToUpper(e.Command), r.Tokens) {
			cmds = append(cmds, e.Command)
		}
	}
	if len(cmds) < r.MinCount {
		return nil, false
	}
	return AuthEvidence{Commands: cmds, Count: len(cmds)}, true
}

func evalTiming(r Rule, exchanges []packet.Exchange, _ []packet.Packet) (any, bool) {
	var fast []float64
	for _, e := range exchanges {
		if lat, ok := e.Latency(); ok && lat < r.ThresholdMs {
			fast = append(fast, lat)
		}
	}
	if len(fast) == 0 || len(fast) < r.MinCount {
		return nil, false
	}
	sort.Float64s(fast)
	sum := 0.0
	for _, v := range fast {
		sum += v
	}
	return TimingEvidence{
		FastResponses: len(fast),
		AvgLatencyMs:  sum / float64(len(fast)),
		ThresholdMs:   r.ThresholdMs,
	}, true
}

func evalMAC(r Rule, _ []packet.Exchange, packets []packet.Packet) (any, bool) {
	n := 0
	for _, p := range packets {
		if containsAny(strings.ToUpper(string(p.Payload())), r.Tokens) {
			n++
		}
	}
	if n == 0 || n < r.MinCount {
		return nil, false
	}
	return MACEvidence{Instances: n}, true
}

func evalErrorPattern(r Rule, exchanges []packet.Exchange, _ []packet.Packet) (any, bool) {
	counts := make(map[string]int)
	for _, e := range exchanges {
		if e.IsError() {
			counts[e.Command]++
		}
	}
	for cmd, n := range counts {
		if n < r.MinCount {
			delete(counts, cmd)
		}
	}
	if len(counts) == 0 {
		return nil, false
	}
	return ErrorPatternEvidence{Patterns: counts}, true
}
