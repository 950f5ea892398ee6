package transport

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/elmscope/elmscope/pkg/packet"
	"github.com/elmscope/elmscope/pkg/trafficlog"
)

// Recording mirrors every successful Send and Receive of the wrapped
// transport into a traffic log. Log write failures are logged and never
// fail the exchange.
type Recording struct {
	inner   Transport
	log     *trafficlog.Writer
	session string
	local   string
	remote  string
	now     func() time.Time
	logger  zerolog.Logger
}

// NewRecording wraps t. local and remote name the two endpoints as they will
// appear in the log; session tags every record.
func NewRecording(t Transport, w *trafficlog.Writer, session, local, remote string) *Recording {
	return &Recording{
		inner:   t,
		log:     w,
		session: session,
		local:   local,
		remote:  remote,
		now:     time.Now,
		logger:  log.Logger.With().Str("component", "transport").Str("session", session).Logger(),
	}
}

func (r *Recording) record(direction, src, dst string, payload []byte) {
	ts := float64(r.now().UnixNano()) / 1e9
	p := packet.New(ts, src, dst, packet.KindData, payload)
	if err := r.log.WritePacket(r.session, direction, p); err != nil {
		r.logger.Warn().Err(err).Msg("traffic log write failed")
	}
}

// Send implements Transport.
func (r *Recording) Send(ctx context.Context, payload []byte) error {
	if err := r.inner.Send(ctx, payload); err != nil {
		return err
	}
	r.record(trafficlog.DirectionTX, r.local, r.remote, payload)
	return nil
}

// Receive implements Transport.
func (r *Recording) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	resp, err := r.inner.Receive(ctx, timeout)
	if err != nil {
		return nil, err
	}
	r.record(trafficlog.DirectionRX, r.remote, r.local, resp)
	return resp, nil
}

// Close implements Transport. The shared log stays open.
func (r *Recording) Close() error {
	return r.inner.Close()
}
