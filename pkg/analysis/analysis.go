// Package analysis runs the offline pipeline over one capture: packets are
// correlated into exchanges, fingerprinted per device and scanned for
// security heuristics, and the lot is summarised in a Report.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/elmscope/elmscope/pkg/capture"
	"github.com/elmscope/elmscope/pkg/correlate"
	"github.com/elmscope/elmscope/pkg/fingerprint"
	"github.com/elmscope/elmscope/pkg/heuristics"
	"github.com/elmscope/elmscope/pkg/packet"
)

// Report is the persisted result of analysing one capture.
type Report struct {
	ID                  string                             `json:"id"`
	Source              string                             `json:"source"`
	AnalysisDate        time.Time                          `json:"analysis_date"`
	PacketCount         int                                `json:"packet_count"`
	CommandCount        int                                `json:"command_count"`
	Fingerprints        map[string]fingerprint.Fingerprint `json:"fingerprints"`
	SecurityFindings    []heuristics.Finding               `json:"security_findings"`
	Recommendations     []string                           `json:"recommendations"`
	AggregateStatistics Statistics                         `json:"aggregate_statistics"`
	MessagePatterns     MessagePatterns                    `json:"message_patterns"`
	Comparisons         []fingerprint.Comparison           `json:"comparisons,omitempty"`
	Diagnostics         Diagnostics                        `json:"diagnostics"`
}

// Statistics aggregates every exchange in the capture.
type Statistics struct {
	AvgResponseTime    float64 `json:"avg_response_time"`
	UniqueCommandCount int     `json:"unique_command_count"`
	ErrorRate          float64 `json:"error_rate"`
}

// Diagnostics counts what the pipeline skipped or could not pair.
type Diagnostics struct {
	MalformedPackets     int      `json:"malformed_packets"`
	CausalityViolations  int      `json:"causality_violations"`
	UnsolicitedResponses int      `json:"unsolicited_responses"`
	UnansweredCommands   int      `json:"unanswered_commands"`
	CompareErrors        []string `json:"compare_errors,omitempty"`
}

// DevicePair names two devices to compare.
type DevicePair [2]string

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithDetector replaces the default heuristic detector.
func WithDetector(d *heuristics.Detector) Option {
	return func(a *Analyzer) { a.detector = d }
}

// WithComparisons requests fingerprint comparisons in the report.
func WithComparisons(pairs ...DevicePair) Option {
	return func(a *Analyzer) { a.compare = append(a.compare, pairs...) }
}

// WithLogger overrides the analyzer logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// Analyzer runs the offline pipeline. It holds no per-capture state and may
// be reused.
type Analyzer struct {
	detector *heuristics.Detector
	compare  []DevicePair
	logger   zerolog.Logger
	now      func() time.Time
}

// New builds an Analyzer using the embedded rule table unless WithDetector
// is given.
func New(opts ...Option) (*Analyzer, error) {
	a := &Analyzer{
		logger: log.Logger.With().Str("component", "analysis").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.detector == nil {
		d, err := heuristics.NewDetector(heuristics.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		a.detector = d
	}
	return a, nil
}

// Analyze reads src once and builds the report. When the capture holds no
// AT exchanges the report is still returned, together with an error
// wrapping fingerprint.ErrNoExchanges.
func (a *Analyzer) Analyze(ctx context.Context, src capture.Source) (*Report, error) {
	packets, counts, err := capture.Collect(ctx, src)
	if err != nil {
		return nil, err
	}
	a.logger.Debug().Str("source", src.Name()).Int("packets", counts.Packets).Int("malformed", counts.Malformed).Msg("capture read")

	corr := correlate.New(correlate.WithLogger(a.logger))
	for _, p := range packets {
		corr.Ingest(p)
	}
	byDevice := corr.FlushAll()
	exchanges := correlate.Merge(byDevice)
	cstats := corr.Stats()

	channels := deviceChannels(packets)
	registry := fingerprint.NewRegistry()
	for device, xs := range byDevice {
		registry.Put(fingerprint.Build(device, xs, fingerprint.WithCharacteristics(channels[device])))
	}

	findings := a.detector.Detect(exchanges, packets)
	if findings == nil {
		findings = []heuristics.Finding{}
	}

	rep := &Report{
		ID:                  uuid.NewString(),
		Source:              src.Name(),
		AnalysisDate:        a.now().UTC(),
		PacketCount:         len(packets),
		CommandCount:        len(exchanges),
		Fingerprints:        registry.All(),
		SecurityFindings:    findings,
		Recommendations:     a.detector.Recommendations(findings),
		AggregateStatistics: aggregate(exchanges),
		MessagePatterns:     BuildMessagePatterns(packets),
		Diagnostics: Diagnostics{
			MalformedPackets:     counts.Malformed,
			CausalityViolations:  cstats.CausalityViolations,
			UnsolicitedResponses: cstats.Unsolicited,
			UnansweredCommands:   cstats.NoResponse,
		},
	}

	for _, pair := range a.compare {
		cmp, err := registry.Compare(pair[0], pair[1])
		if err != nil {
			a.logger.Warn().Err(err).Str("device_1", pair[0]).Str("device_2", pair[1]).Msg("comparison skipped")
			rep.Diagnostics.CompareErrors = append(rep.Diagnostics.CompareErrors, err.Error())
			continue
		}
		rep.Comparisons = append(rep.Comparisons, cmp)
	}

	a.logger.Info().
		Str("source", rep.Source).
		Int("packets", rep.PacketCount).
		Int("exchanges", rep.CommandCount).
		Int("devices", len(rep.Fingerprints)).
		Int("findings", len(findings)).
		Msg("analysis complete")

	if len(exchanges) == 0 {
		return rep, fingerprint.NewNoExchangesError(src.Name())
	}
	return rep, nil
}

// deviceChannels collects, per endpoint, the channels it was seen on in
// first-seen order.
func deviceChannels(packets []packet.Packet) map[string][]string {
	out := make(map[string][]string)
	for _, p := range packets {
		if p.Channel == "" {
			continue
		}
		for _, ep := range []string{p.Source, p.Destination} {
			if !slices.Contains(out[ep], p.Channel) {
				out[ep] = append(out[ep], p.Channel)
			}
		}
	}
	return out
}

func aggregate(exchanges []packet.Exchange) Statistics {
	var (
		latencies []float64
		errs      int
		commands  = make(map[string]struct{})
	)
	for _, ex := range exchanges {
		commands[ex.Command] = struct{}{}
		if lat, ok := ex.Latency(); ok {
			latencies = append(latencies, lat)
		}
		if ex.IsError() {
			errs++
		}
	}
	st := Statistics{UniqueCommandCount: len(commands)}
	if len(latencies) > 0 {
		sort.Float64s(latencies)
		var sum float64
		for _, l := range latencies {
			sum += l
		}
		st.AvgResponseTime = sum / float64(len(latencies))
	}
	if len(exchanges) > 0 {
		st.ErrorRate = float64(errs) / float64(len(exchanges))
	}
	return st
}

// Registry rebuilds a fingerprint registry from a stored report.
func (r *Report) Registry() *fingerprint.Registry {
	reg := fingerprint.NewRegistry()
	for id, fp := range r.Fingerprints {
		if fp.DeviceID == "" {
			fp.DeviceID = id
		}
		reg.Put(fp)
	}
	return reg
}

// LoadReport reads an analysis report written by the JSON reporter.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report %s: %w", path, err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &r, nil
}
