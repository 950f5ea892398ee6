// Package session runs probe sequences against one or more adapters at once.
// Each target gets its own transport and driver; the only shared state is the
// optional traffic log.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/elmscope/elmscope/pkg/probe"
	"github.com/elmscope/elmscope/pkg/scoring"
	"github.com/elmscope/elmscope/pkg/trafficlog"
	"github.com/elmscope/elmscope/pkg/transport"
)

// LocalEndpoint names the probing host in traffic logs.
const LocalEndpoint = "elmscope"

// Dialer opens the transport for a target.
type Dialer func(ctx context.Context, t transport.Target, opts transport.DialOptions) (transport.Transport, error)

// Result is the outcome for one target. Report is set whenever the probe
// sequence started, including partial runs cut short by cancellation.
type Result struct {
	Target    string                       `json:"target"`
	SessionID string                       `json:"session_id"`
	Preflight *transport.PreflightResult   `json:"preflight,omitempty"`
	Report    *scoring.CompatibilityReport `json:"report,omitempty"`
	Partial   bool                         `json:"partial,omitempty"`
	Error     string                       `json:"error,omitempty"`

	Err error `json:"-"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout sets the default per-step timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithThreshold sets the pass threshold for every target.
func WithThreshold(t float64) Option {
	return func(r *Runner) { r.threshold = t }
}

// WithDialOptions tunes transport dialling.
func WithDialOptions(o transport.DialOptions) Option {
	return func(r *Runner) { r.dialOpts = o }
}

// WithPreflight pings TCP targets before dialling them.
func WithPreflight(o transport.PreflightOptions) Option {
	return func(r *Runner) {
		r.preflight = true
		r.preflightOpts = o
	}
}

// WithTrafficLog mirrors every session's traffic into w.
func WithTrafficLog(w *trafficlog.Writer) Option {
	return func(r *Runner) { r.trafficLog = w }
}

// WithDialer replaces transport.Dial.
func WithDialer(d Dialer) Option {
	return func(r *Runner) {
		if d != nil {
			r.dial = d
		}
	}
}

// WithConcurrency caps how many targets run at once. Zero means no cap.
func WithConcurrency(n int) Option {
	return func(r *Runner) { r.concurrency = n }
}

// WithLogger overrides the runner logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// Runner probes targets concurrently, one goroutine per target.
type Runner struct {
	steps         []probe.Step
	timeout       time.Duration
	threshold     float64
	dialOpts      transport.DialOptions
	preflight     bool
	preflightOpts transport.PreflightOptions
	trafficLog    *trafficlog.Writer
	dial          Dialer
	concurrency   int
	logger        zerolog.Logger
}

// New builds a Runner for the given step sequence.
func New(steps []probe.Step, opts ...Option) *Runner {
	r := &Runner{
		steps:     steps,
		timeout:   probe.DefaultTimeout,
		threshold: scoring.DefaultPassThreshold,
		dial:      transport.Dial,
		logger:    log.Logger.With().Str("component", "session").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run probes every target and returns one Result per target in input order.
// Targets are parsed before any work starts. A failure on one target never
// stops the others; it is reported in that target's Result. When ctx ends,
// the partial results are returned together with ctx.Err().
func (r *Runner) Run(ctx context.Context, targets []string) ([]Result, error) {
	parsed := make([]transport.Target, 0, len(targets))
	for _, raw := range targets {
		t, err := transport.ParseTarget(raw)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, t)
	}

	results := make([]Result, len(parsed))
	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i, t := range parsed {
		g.Go(func() error {
			results[i] = r.runTarget(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}

func (r *Runner) runTarget(ctx context.Context, t transport.Target) Result {
	res := Result{Target: t.String(), SessionID: uuid.NewString()}
	logger := r.logger.With().Str("target", res.Target).Str("session", res.SessionID).Logger()
	fail := func(err error) Result {
		res.Err = err
		res.Error = err.Error()
		logger.Warn().Err(err).Msg("target failed")
		return res
	}

	if r.preflight && t.Scheme == transport.SchemeTCP {
		pre, err := transport.Preflight(ctx, t, r.preflightOpts)
		if err != nil {
			return fail(err)
		}
		res.Preflight = &pre
	}

	tr, err := r.dial(ctx, t, r.dialOpts)
	if err != nil {
		return fail(err)
	}
	if r.trafficLog != nil && r.trafficLog.IsEnabled() {
		tr = transport.NewRecording(tr, r.trafficLog, res.SessionID, LocalEndpoint, res.Target)
	}
	defer func() {
		if err := tr.Close(); err != nil {
			logger.Debug().Err(err).Msg("close transport")
		}
	}()

	logger.Info().Int("steps", len(r.steps)).Msg("probing")
	driver := probe.NewDriver(
		probe.WithTimeout(r.timeout),
		probe.WithDevice(res.Target),
		probe.WithLogger(logger),
	)
	steps, runErr := driver.RunSequence(ctx, tr, r.steps)

	rep := scoring.Score(steps, scoring.WithTarget(res.Target), scoring.WithThreshold(r.threshold))
	res.Report = &rep
	if runErr != nil {
		res.Partial = true
		if !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
			return fail(runErr)
		}
		logger.Info().Int("completed", len(steps)).Msg("probe interrupted")
		return res
	}

	logger.Info().
		Float64("overall", rep.OverallScore).
		Bool("ready", rep.Ready).
		Msg("probe complete")
	return res
}

// Reports collects the reports of every target that produced one.
func Reports(results []Result) []scoring.CompatibilityReport {
	out := make([]scoring.CompatibilityReport, 0, len(results))
	for _, res := range results {
		if res.Report != nil {
			out = append(out, *res.Report)
		}
	}
	return out
}

// AllReady reports whether every target produced a complete, ready report.
func AllReady(results []Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, res := range results {
		if res.Err != nil || res.Partial || res.Report == nil || !res.Report.Ready {
			return false
		}
	}
	return true
}

// FirstError returns the first per-target error, in target order.
func FirstError(results []Result) error {
	for _, res := range results {
		if res.Err != nil {
			return res.Err
		}
	}
	return nil
}
