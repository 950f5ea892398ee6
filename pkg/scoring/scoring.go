// Package scoring turns probe results into a compatibility report.
package scoring

import (
	"time"

	"github.com/google/uuid"

	"github.com/elmscope/elmscope/pkg/probe"
)

// DefaultPassThreshold is the overall score a target needs to be ready.
const DefaultPassThreshold = 80.0

// Timing window a genuine adapter's ATI latency falls into.
const (
	RealisticMinMs = 40.0
	RealisticMaxMs = 150.0
)

// Points awarded to the all-or-nothing categories.
const (
	TimingPoints   = 50.0
	SecurityPoints = 50.0
)

// CompatibilityReport is the scored outcome of a probe run against one target.
type CompatibilityReport struct {
	ID             string                     `json:"id"`
	Timestamp      time.Time                  `json:"timestamp"`
	TargetID       string                     `json:"target_id"`
	CategoryScores map[probe.Category]float64 `json:"category_scores"`
	OverallScore   float64                    `json:"overall_score"`
	PassThreshold  float64                    `json:"pass_threshold"`
	Ready          bool                       `json:"ready"`
	TimingMeanMs   float64                    `json:"timing_mean_ms"`
	Details        []probe.StepResult         `json:"details"`
}

// OverallFunc folds the category scores into the overall score.
type OverallFunc func(scores map[probe.Category]float64) float64

// ThreeTermAverage sums the four category terms and divides by three. The
// timing and security terms are worth at most 50 each, so together they
// weigh as one percentage term.
func ThreeTermAverage(scores map[probe.Category]float64) float64 {
	return (scores[probe.CategoryBasic] +
		scores[probe.CategoryTiming] +
		scores[probe.CategorySecurity] +
		scores[probe.CategoryPID]) / 3
}

// Option configures Score.
type Option func(*scorer)

type scorer struct {
	overall   OverallFunc
	threshold float64
	targetID  string
	now       func() time.Time
}

// WithOverall swaps the overall score formula.
func WithOverall(f OverallFunc) Option {
	return func(s *scorer) {
		if f != nil {
			s.overall = f
		}
	}
}

// WithThreshold sets the pass threshold.
func WithThreshold(t float64) Option {
	return func(s *scorer) {
		if t > 0 {
			s.threshold = t
		}
	}
}

// WithTarget sets the report's target id.
func WithTarget(id string) Option {
	return func(s *scorer) { s.targetID = id }
}

// Score computes category scores from results grouped by their category.
// Results without a category are kept in Details only.
func Score(results []probe.StepResult, opts ...Option) CompatibilityReport {
	s := scorer{
		overall:   ThreeTermAverage,
		threshold: DefaultPassThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}

	byCategory := make(map[probe.Category][]probe.StepResult)
	for _, r := range results {
		if r.Category != "" {
			byCategory[r.Category] = append(byCategory[r.Category], r)
		}
	}

	timingMean, timingOK := meanLatency(byCategory[probe.CategoryTiming])
	scores := map[probe.Category]float64{
		probe.CategoryBasic:    passRate(byCategory[probe.CategoryBasic]),
		probe.CategoryTiming:   0,
		probe.CategorySecurity: 0,
		probe.CategoryPID:      passRate(byCategory[probe.CategoryPID]),
	}
	if timingOK && timingMean >= RealisticMinMs && timingMean <= RealisticMaxMs {
		scores[probe.CategoryTiming] = TimingPoints
	}
	if sequencePassed(byCategory[probe.CategorySecurity]) {
		scores[probe.CategorySecurity] = SecurityPoints
	}

	overall := s.overall(scores)
	details := append([]probe.StepResult(nil), results...)
	if details == nil {
		details = []probe.StepResult{}
	}
	return CompatibilityReport{
		ID:             uuid.NewString(),
		Timestamp:      s.now().UTC(),
		TargetID:       s.targetID,
		CategoryScores: scores,
		OverallScore:   overall,
		PassThreshold:  s.threshold,
		Ready:          IsReady(overall, s.threshold),
		TimingMeanMs:   timingMean,
		Details:        details,
	}
}

// IsReady applies the pass threshold.
func IsReady(overall, threshold float64) bool {
	return overall >= threshold
}

// passRate is 100 × passed / total, 0 when there are no results.
func passRate(results []probe.StepResult) float64 {
	if len(results) == 0 {
		return 0
	}
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	return 100 * float64(passed) / float64(len(results))
}

// meanLatency averages recorded latencies; timed-out steps count at their timeout.
func meanLatency(results []probe.StepResult) (float64, bool) {
	var (
		sum float64
		n   int
	)
	for _, r := range results {
		if lat, ok := r.Latency(); ok {
			sum += lat
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// sequencePassed requires a non-empty sequence where every step passed.
func sequencePassed(results []probe.StepResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
