package transport

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog/log"
)

// Target schemes.
const (
	SchemeTCP      = "tcp"
	SchemeSerial   = "serial"
	SchemeEmulator = "emulator"
)

// Target is a parsed --target value.
type Target struct {
	Raw      string
	Scheme   string
	Address  string // host:port for tcp, device path for serial
	BaudRate int
}

// ParseTarget accepts tcp://host[:port], serial:///dev/x[?baud=N] and
// emulator://. A bare host:port is treated as tcp.
func ParseTarget(raw string) (Target, error) {
	if raw == "" {
		return Target{}, NewBadTargetError(raw, "empty")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		if _, _, splitErr := net.SplitHostPort(raw); splitErr == nil {
			return Target{Raw: raw, Scheme: SchemeTCP, Address: raw}, nil
		}
		return Target{}, NewBadTargetError(raw, "want scheme://address")
	}

	t := Target{Raw: raw, Scheme: u.Scheme}
	switch u.Scheme {
	case SchemeTCP:
		if u.Host == "" {
			return Target{}, NewBadTargetError(raw, "missing host")
		}
		t.Address = u.Host
		if u.Port() == "" {
			t.Address = net.JoinHostPort(u.Hostname(), "35000")
		}
	case SchemeSerial:
		t.Address = u.Path
		if t.Address == "" {
			t.Address = u.Opaque
		}
		if t.Address == "" {
			return Target{}, NewBadTargetError(raw, "missing device path")
		}
		if b := u.Query().Get("baud"); b != "" {
			n, err := strconv.Atoi(b)
			if err != nil || n <= 0 {
				return Target{}, NewBadTargetError(raw, "bad baud rate")
			}
			t.BaudRate = n
		}
	case SchemeEmulator:
		t.Address = "emulator"
	default:
		// url.Parse reads "host:port" as scheme "host".
		if _, _, splitErr := net.SplitHostPort(raw); splitErr == nil && u.Opaque != "" {
			return Target{Raw: raw, Scheme: SchemeTCP, Address: raw}, nil
		}
		return Target{}, NewBadTargetError(raw, "unknown scheme "+u.Scheme)
	}
	return t, nil
}

// String returns the canonical target id used in reports.
func (t Target) String() string {
	if t.Scheme == SchemeEmulator {
		return "emulator://"
	}
	return t.Scheme + "://" + t.Address
}

// DialOptions tunes Dial.
type DialOptions struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
	BaudRate int
	Emulator []EmulatorOption

	dialTCP    func(ctx context.Context, addr string) (Transport, error)
	openSerial func(device string, baud int) (Transport, error)
}

func (o DialOptions) withDefaults() DialOptions {
	if o.Attempts == 0 {
		o.Attempts = 3
	}
	if o.Delay <= 0 {
		o.Delay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 5 * time.Second
	}
	if o.dialTCP == nil {
		o.dialTCP = func(ctx context.Context, addr string) (Transport, error) {
			t, err := DialTCP(ctx, addr)
			if err != nil {
				return nil, err
			}
			return t, nil
		}
	}
	if o.openSerial == nil {
		o.openSerial = func(device string, baud int) (Transport, error) {
			s, err := OpenSerial(device, baud)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	return o
}

// Dial opens the transport for t, retrying link failures with backoff.
func Dial(ctx context.Context, t Target, opts DialOptions) (Transport, error) {
	opts = opts.withDefaults()
	if t.Scheme == SchemeEmulator {
		return NewEmulator(opts.Emulator...), nil
	}

	baud := t.BaudRate
	if baud == 0 {
		baud = opts.BaudRate
	}

	attempt := 0
	conn, err := retry.DoWithData(func() (Transport, error) {
		attempt++
		if err := ctx.Err(); err != nil {
			return nil, retry.Unrecoverable(err)
		}
		var (
			tr  Transport
			err error
		)
		switch t.Scheme {
		case SchemeTCP:
			tr, err = opts.dialTCP(ctx, t.Address)
		case SchemeSerial:
			tr, err = opts.openSerial(t.Address, baud)
		default:
			return nil, retry.Unrecoverable(NewBadTargetError(t.Raw, "unknown scheme "+t.Scheme))
		}
		if err != nil {
			log.Debug().Err(err).Str("target", t.String()).Int("attempt", attempt).Msg("dial failed")
		}
		return tr, err
	}, retry.Attempts(opts.Attempts), retry.Delay(opts.Delay), retry.MaxDelay(opts.MaxDelay), retry.Context(ctx), retry.LastErrorOnly(true))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrBadTarget) || errors.Is(err, ErrTransport) {
			return nil, err
		}
		return nil, WrapTransportError("dial "+t.String(), err)
	}
	return conn, nil
}
