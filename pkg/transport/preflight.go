package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-ping/ping"
	"github.com/rs/zerolog/log"
)

// Pinger is the slice of go-ping the preflight check needs.
type Pinger interface {
	Run() error
	Stop()
	Statistics() *ping.Statistics

	SetPrivileged(bool)
	SetCount(int)
	SetTimeout(time.Duration)
}

// PingerFactory builds a Pinger for one host.
type PingerFactory func(host string) (Pinger, error)

type realPinger struct {
	p *ping.Pinger
}

func (r *realPinger) Run() error                   { return r.p.Run() }
func (r *realPinger) Stop()                        { r.p.Stop() }
func (r *realPinger) Statistics() *ping.Statistics { return r.p.Statistics() }
func (r *realPinger) SetPrivileged(v bool)         { r.p.SetPrivileged(v) }
func (r *realPinger) SetCount(c int)               { r.p.Count = c }
func (r *realPinger) SetTimeout(t time.Duration)   { r.p.Timeout = t }

// DefaultPingerFactory wraps go-ping.
func DefaultPingerFactory(host string) (Pinger, error) {
	p, err := ping.NewPinger(host)
	if err != nil {
		return nil, err
	}
	return &realPinger{p: p}, nil
}

// PreflightOptions tunes Preflight.
type PreflightOptions struct {
	Count      int
	Timeout    time.Duration
	Privileged bool
	Factory    PingerFactory
}

// PreflightResult reports what the ping saw.
type PreflightResult struct {
	Host        string        `json:"host"`
	PacketsSent int           `json:"packets_sent"`
	PacketsRecv int           `json:"packets_recv"`
	AvgRtt      time.Duration `json:"avg_rtt"`
}

// Preflight pings the host of a TCP target before dialling it, so a missing
// WiFi association shows up as ErrUnreachable instead of a slow dial timeout.
// Non-TCP targets pass trivially.
func Preflight(ctx context.Context, t Target, opts PreflightOptions) (PreflightResult, error) {
	if t.Scheme != SchemeTCP {
		return PreflightResult{}, nil
	}
	host, _, err := net.SplitHostPort(t.Address)
	if err != nil {
		return PreflightResult{}, NewBadTargetError(t.Raw, err.Error())
	}
	if opts.Count <= 0 {
		opts.Count = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Factory == nil {
		opts.Factory = DefaultPingerFactory
	}

	p, err := opts.Factory(host)
	if err != nil {
		return PreflightResult{Host: host}, fmt.Errorf("%w: %s: %v", ErrUnreachable, host, err)
	}
	p.SetPrivileged(opts.Privileged)
	p.SetCount(opts.Count)
	p.SetTimeout(opts.Timeout)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-done:
		}
	}()

	if err := p.Run(); err != nil {
		return PreflightResult{Host: host}, fmt.Errorf("%w: %s: %v", ErrUnreachable, host, err)
	}
	if err := ctx.Err(); err != nil {
		return PreflightResult{Host: host}, err
	}

	stats := p.Statistics()
	res := PreflightResult{Host: host}
	if stats != nil {
		res.PacketsSent = stats.PacketsSent
		res.PacketsRecv = stats.PacketsRecv
		res.AvgRtt = stats.AvgRtt
	}
	log.Debug().Str("host", host).Int("recv", res.PacketsRecv).Dur("avg_rtt", res.AvgRtt).Msg("preflight ping")
	if res.PacketsRecv == 0 {
		return res, fmt.Errorf("%w: %s: no echo replies", ErrUnreachable, host)
	}
	return res, nil
}
