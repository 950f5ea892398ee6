package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"time"
)

// TCP talks to a WiFi adapter (typically 192.168.0.10:35000).
type TCP struct {
	conn  net.Conn
	frame *framer
}

// DialTCP connects to addr.
func DialTCP(ctx context.Context, addr string) (*TCP, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, WrapTransportError("dial "+addr, err)
	}
	return NewTCP(conn), nil
}

// NewTCP wraps an established connection.
func NewTCP(conn net.Conn) *TCP {
	t := &TCP{conn: conn}
	t.frame = newFramer(t.readChunk)
	return t
}

// Send implements Transport. Unread input is discarded first so a late
// reply is never taken for the answer to payload.
func (t *TCP) Send(ctx context.Context, payload []byte) error {
	if err := t.frame.drain(ctx); err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	} else {
		_ = t.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := t.conn.Write(payload); err != nil {
		return WrapTransportError("send", err)
	}
	return nil
}

// Receive implements Transport.
func (t *TCP) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return t.frame.receive(ctx, timeout)
}

func (t *TCP) readChunk(p []byte, wait time.Duration) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return 0, err
	}
	n, err := t.conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

// Close implements Transport.
func (t *TCP) Close() error {
	return t.conn.Close()
}
