// Package correlate pairs outbound AT commands with inbound adapter responses.
//
// Each device runs a two-state machine:
//
//	Idle --command--> AwaitingResponse(command, sentAt)
//	AwaitingResponse --response--> Idle            (emits a matched exchange)
//	AwaitingResponse --command--> AwaitingResponse (closes the pending one as no response)
//	AwaitingResponse --flush--> Idle               (closes the pending one as no response)
//
// A command belongs to the packet destination (the adapter), a response to the
// packet source.
package correlate

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/elmscope/elmscope/pkg/packet"
)

type state int

const (
	stateIdle state = iota
	stateAwaiting
)

type deviceSession struct {
	state   state
	pending packet.Exchange
	history []packet.Exchange
}

// Stats counts what the correlator saw and dropped.
type Stats struct {
	Packets             int `json:"packets"`
	Commands            int `json:"commands"`
	Responses           int `json:"responses"`
	Unsolicited         int `json:"unsolicited"`
	NoResponse          int `json:"no_response"`
	CausalityViolations int `json:"causality_violations"`
}

// Correlator is single-goroutine state; callers running several captures in
// parallel use one Correlator each.
type Correlator struct {
	devices map[string]*deviceSession
	order   []string
	stats   Stats
	logger  zerolog.Logger
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogger overrides the logger (defaults to the global logger).
func WithLogger(l zerolog.Logger) Option {
	return func(c *Correlator) { c.logger = l }
}

// New builds an empty Correlator.
func New(opts ...Option) *Correlator {
	c := &Correlator{
		devices: make(map[string]*deviceSession),
		logger:  log.Logger.With().Str("component", "correlate").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Correlator) session(device string) *deviceSession {
	s, ok := c.devices[device]
	if !ok {
		s = &deviceSession{}
		c.devices[device] = s
		c.order = append(c.order, device)
	}
	return s
}

// Ingest feeds one packet. It returns the exchange a response just completed.
func (c *Correlator) Ingest(p packet.Packet) (packet.Exchange, bool) {
	c.stats.Packets++
	text := p.Text()
	if text == "" {
		return packet.Exchange{}, false
	}

	if packet.IsCommand(text) {
		c.openCommand(p, text)
		return packet.Exchange{}, false
	}

	s, ok := c.devices[p.Source]
	if !ok || s.state != stateAwaiting {
		c.stats.Unsolicited++
		msg := "non-command payload with nothing pending"
		if packet.IsSentinelResponse(text) {
			msg = "response with no pending command"
		}
		c.logger.Debug().Str("device", p.Source).Str("payload", text).Msg(msg)
		return packet.Exchange{}, false
	}
	return c.closeWithResponse(s, p)
}

func (c *Correlator) openCommand(p packet.Packet, text string) {
	c.stats.Commands++
	s := c.session(p.Destination)
	if s.state == stateAwaiting {
		c.closeUnanswered(s)
	}
	s.pending = packet.Exchange{
		Timestamp: p.Timestamp,
		Device:    p.Destination,
		Command:   text,
	}
	s.state = stateAwaiting
}

func (c *Correlator) closeUnanswered(s *deviceSession) {
	c.stats.NoResponse++
	s.history = append(s.history, s.pending)
	s.pending = packet.Exchange{}
	s.state = stateIdle
}

func (c *Correlator) closeWithResponse(s *deviceSession, p packet.Packet) (packet.Exchange, bool) {
	pending := s.pending
	s.pending = packet.Exchange{}
	s.state = stateIdle

	latency := (p.Timestamp - pending.Timestamp) * 1000
	if latency < 0 {
		c.stats.CausalityViolations++
		c.logger.Warn().
			Err(fmt.Errorf("%w: %s answered %.3fms before it was sent", ErrCausalityViolation, pending.Command, -latency)).
			Str("device", pending.Device).
			Msg("discarding exchange")
		return packet.Exchange{}, false
	}

	c.stats.Responses++
	done := pending.Complete(packet.NormalizeResponse(p.Text()), latency)
	s.history = append(s.history, done)
	return done, true
}

// Flush closes the device's pending command (if any) as unanswered and
// returns its full ordered history. The device is forgotten afterwards.
func (c *Correlator) Flush(device string) []packet.Exchange {
	s, ok := c.devices[device]
	if !ok {
		return nil
	}
	if s.state == stateAwaiting {
		c.closeUnanswered(s)
	}
	delete(c.devices, device)
	for i, d := range c.order {
		if d == device {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return s.history
}

// FlushAll flushes every known device.
func (c *Correlator) FlushAll() map[string][]packet.Exchange {
	out := make(map[string][]packet.Exchange, len(c.devices))
	for _, d := range c.Devices() {
		out[d] = c.Flush(d)
	}
	return out
}

// Devices lists devices in first-seen order.
func (c *Correlator) Devices() []string {
	return append([]string(nil), c.order...)
}

// Pending reports the pending command for a device, if any.
func (c *Correlator) Pending(device string) (string, bool) {
	s, ok := c.devices[device]
	if !ok || s.state != stateAwaiting {
		return "", false
	}
	return s.pending.Command, true
}

// Stats returns a snapshot of the counters.
func (c *Correlator) Stats() Stats {
	return c.stats
}

// Merge flattens per-device histories into one slice ordered by command
// timestamp, device id breaking ties.
func Merge(byDevice map[string][]packet.Exchange) []packet.Exchange {
	var all []packet.Exchange
	for _, xs := range byDevice {
		all = append(all, xs...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Timestamp != all[j].Timestamp {
			return all[i].Timestamp < all[j].Timestamp
		}
		return all[i].Device < all[j].Device
	})
	return all
}
