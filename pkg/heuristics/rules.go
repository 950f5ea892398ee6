package heuristics

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed data/rules.yaml
var embeddedRulesYAML []byte

var (
	defaultRulesOnce sync.Once
	defaultRules     *RuleSet
	defaultRulesErr  error

	validate = validator.New()
)

// Rule is one row of the declarative heuristic table.
type Rule struct {
	ID             string   `yaml:"id" validate:"required"`
	Kind           Kind     `yaml:"kind" validate:"required,oneof=authentication_commands timing_validation mac_validation error_pattern"`
	Description    string   `yaml:"description" validate:"required"`
	Severity       Severity `yaml:"severity" validate:"omitempty,oneof=info low medium high"`
	Tokens         []string `yaml:"tokens"`
	ThresholdMs    float64  `yaml:"threshold_ms" validate:"gte=0"`
	MinCount       int      `yaml:"min_count" validate:"gte=0"`
	Recommendation string   `yaml:"recommendation" validate:"required"`

	tmpl *template.Template
}

// RuleSet is a validated, compiled rule table.
type RuleSet struct {
	Rules []Rule `yaml:"rules" validate:"required,min=1,dive"`
}

var templateFuncs = template.FuncMap{
	"join": strings.Join,
}

// DefaultRules returns the embedded rule table.
func DefaultRules() (*RuleSet, error) {
	defaultRulesOnce.Do(func() {
		defaultRules, defaultRulesErr = ParseRules(embeddedRulesYAML)
	})
	if defaultRulesErr != nil {
		return nil, defaultRulesErr
	}
	return defaultRules, nil
}

// LoadRulesFile reads and validates a rule table from disk.
func LoadRulesFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WithErrorCode(fmt.Errorf("%w: read %s: %v", ErrInvalidRules, path, err), errorCodeInvalidRules)
	}
	return ParseRules(data)
}

// ParseRules parses raw YAML into a compiled RuleSet.
func ParseRules(data []byte) (*RuleSet, error) {
	if len(data) == 0 {
		return nil, NewInvalidRulesError("rule table is empty")
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, NewInvalidRulesError(fmt.Sprintf("unmarshal rule table: %v", err))
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks the table shape and compiles recommendation templates.
func (rs *RuleSet) Validate() error {
	if err := validate.Struct(rs); err != nil {
		return NewInvalidRulesError(err.Error())
	}

	seen := make(map[string]struct{}, len(rs.Rules))
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if _, dup := seen[r.ID]; dup {
			return NewInvalidRulesError(fmt.Sprintf("duplicate rule id %q", r.ID))
		}
		seen[r.ID] = struct{}{}

		switch r.Kind {
		case KindAuthentication, KindMAC:
			if len(r.Tokens) == 0 {
				return NewInvalidRulesError(fmt.Sprintf("rule %q: tokens required for %s", r.ID, r.Kind))
			}
			for j, tok := range r.Tokens {
				r.Tokens[j] = strings.ToUpper(tok)
			}
		case KindTiming:
			if r.ThresholdMs <= 0 {
				return NewInvalidRulesError(fmt.Sprintf("rule %q: threshold_ms must be positive", r.ID))
			}
		}
		if r.MinCount == 0 {
			r.MinCount = 1
		}
		if r.Severity == "" {
			r.Severity = SeverityInfo
		}

		tmpl, err := template.New(r.ID).Funcs(templateFuncs).Option("missingkey=error").Parse(r.Recommendation)
		if err != nil {
			return NewInvalidRulesError(fmt.Sprintf("rule %q: recommendation template: %v", r.ID, err))
		}
		r.tmpl = tmpl
	}
	return nil
}

// WithTimingThreshold returns a copy of the table with every timing rule's
// latency threshold replaced. Non-positive values leave the table unchanged.
func (rs *RuleSet) WithTimingThreshold(ms float64) *RuleSet {
	if ms <= 0 {
		return rs
	}
	out := &RuleSet{Rules: append([]Rule(nil), rs.Rules...)}
	for i := range out.Rules {
		if out.Rules[i].Kind == KindTiming {
			out.Rules[i].ThresholdMs = ms
		}
	}
	return out
}

func (r Rule) render(evidence any) (string, error) {
	if r.tmpl == nil {
		return r.Recommendation, nil
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, evidence); err != nil {
		return "", err
	}
	return buf.String(), nil
}
