// Package heuristics detects candidate security mechanisms (authentication
// probes, timing gates, MAC checks, error-triggering commands) in ELM327
// traffic and turns them into emulation recommendations.
package heuristics

import "sort"

// Kind names the family of mechanism a finding points at.
type Kind string

const (
	KindAuthentication Kind = "authentication_commands"
	KindTiming         Kind = "timing_validation"
	KindMAC            Kind = "mac_validation"
	KindErrorPattern   Kind = "error_pattern"
)

// Severity is a hint for report ordering and colouring.
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Finding is one detected candidate mechanism.
type Finding struct {
	Kind        Kind     `json:"kind"`
	RuleID      string   `json:"rule_id"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Evidence    any      `json:"evidence"`
}

// AuthEvidence lists the commands that carried an authentication keyword.
type AuthEvidence struct {
	Commands []string `json:"commands"`
	Count    int      `json:"count"`
}

// TimingEvidence summarises responses faster than the rule threshold.
type TimingEvidence struct {
	FastResponses int     `json:"fast_responses"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	ThresholdMs   float64 `json:"threshold_ms"`
}

// MACEvidence counts raw packets mentioning a MAC token.
type MACEvidence struct {
	Instances int `json:"instances"`
}

// ErrorPatternEvidence maps each command to how often it drew ERROR.
type ErrorPatternEvidence struct {
	Patterns map[string]int `json:"patterns"`
}

// Commands returns the erroring commands, sorted.
func (e ErrorPatternEvidence) Commands() []string {
	cmds := make([]string, 0, len(e.Patterns))
	for c := range e.Patterns {
		cmds = append(cmds, c)
	}
	sort.Strings(cmds)
	return cmds
}
