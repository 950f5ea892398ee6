// Copyright 2025 Elmscope Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package probe drives live probe suites against an adapter and records each
// command as a packet.Exchange judged against its expectation.
package probe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/elmscope/elmscope/pkg/packet"
	"github.com/elmscope/elmscope/pkg/transport"
)

// DefaultTimeout is the per-step response timeout.
const DefaultTimeout = 2000 * time.Millisecond

// StepResult is the outcome of one Step.
type StepResult struct {
	packet.Exchange
	Suite       string   `json:"suite"`
	Category    Category `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	Expected    string   `json:"expected"`
	Passed      bool     `json:"passed"`
	Reason      string   `json:"reason,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Option configures a Driver.
type Option func(*Driver)

// WithTimeout sets the timeout for steps that carry none.
func WithTimeout(d time.Duration) Option {
	return func(dr *Driver) {
		if d > 0 {
			dr.timeout = d
		}
	}
}

// WithDevice sets the device id stamped on every exchange.
func WithDevice(id string) Option {
	return func(dr *Driver) { dr.device = id }
}

// WithLogger overrides the driver logger.
func WithLogger(l zerolog.Logger) Option {
	return func(dr *Driver) { dr.logger = l }
}

// Driver runs steps strictly one at a time over a transport.
type Driver struct {
	timeout time.Duration
	device  string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewDriver builds a Driver with a 2000ms default timeout.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{
		timeout: DefaultTimeout,
		device:  "adapter",
		logger:  log.Logger.With().Str("component", "probe").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunSequence sends each step and waits for its response before the next.
// Transport failures and timeouts are recorded as unmatched exchanges and the
// sequence continues. When ctx ends, the in-flight step is recorded as timed
// out and the partial results are returned with ctx.Err().
func (d *Driver) RunSequence(ctx context.Context, t transport.Transport, steps []Step) ([]StepResult, error) {
	results := make([]StepResult, 0, len(steps))
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := d.runStep(ctx, t, step)
		results = append(results, res)

		if err := ctx.Err(); err != nil {
			return results, err
		}
		if step.Delay > 0 && i < len(steps)-1 {
			if err := sleep(ctx, step.Delay); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

func (d *Driver) runStep(ctx context.Context, t transport.Transport, step Step) StepResult {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}
	sentAt := d.now()
	ex := packet.Exchange{
		Timestamp: float64(sentAt.UnixNano()) / 1e9,
		Device:    d.device,
		Command:   step.Command,
	}
	res := StepResult{
		Suite:       step.Suite,
		Category:    step.Category,
		Description: step.Description,
		Expected:    step.Expect.String(),
	}

	raw, err := d.roundTrip(ctx, t, step.Command, timeout)
	if err != nil {
		ex = ex.TimedOut(float64(timeout) / float64(time.Millisecond))
		res.Error = err.Error()
		ev := d.logger.Warn()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			ev = d.logger.Debug()
		}
		ev.Err(err).Str("command", step.Command).Str("suite", step.Suite).Msg("no response")
	} else {
		latency := float64(d.now().Sub(sentAt)) / float64(time.Millisecond)
		ex = ex.Complete(stripEcho(step.Command, packet.NormalizeResponse(string(raw))), latency)
	}

	res.Exchange = ex
	res.Passed, res.Reason = step.Expect.Evaluate(step.Command, ex.Response)
	d.logger.Debug().
		Str("command", step.Command).
		Str("response", ex.ResponseText()).
		Bool("passed", res.Passed).
		Msg("step")
	return res
}

func (d *Driver) roundTrip(ctx context.Context, t transport.Transport, command string, timeout time.Duration) ([]byte, error) {
	if err := t.Send(ctx, []byte(command+"\r")); err != nil {
		return nil, err
	}
	return t.Receive(ctx, timeout)
}

// stripEcho drops the echoed command line adapters send while echo is on.
func stripEcho(command, response string) string {
	first, rest, found := strings.Cut(response, "\r")
	if !found || !strings.EqualFold(packet.TrimControl(first), command) {
		return response
	}
	return packet.NormalizeResponse(rest)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
