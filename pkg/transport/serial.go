package transport

import (
	"context"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the factory setting of most ELM327 clones.
const DefaultBaudRate = 38400

// Serial talks to a USB or RFCOMM-bound adapter.
type Serial struct {
	port  serial.Port
	frame *framer
}

// OpenSerial opens device at baud (DefaultBaudRate when zero).
func OpenSerial(device string, baud int) (*Serial, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, WrapTransportError("open "+device, err)
	}
	s := &Serial{port: port}
	s.frame = newFramer(s.readChunk)
	return s, nil
}

// Send implements Transport. Unread input, including the late reply of a
// timed-out command, is discarded before payload is written.
func (s *Serial) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.frame.drain(ctx); err != nil {
		return err
	}
	if err := s.port.ResetInputBuffer(); err != nil {
		return WrapTransportError("reset input", err)
	}
	if _, err := s.port.Write(payload); err != nil {
		return WrapTransportError("send", err)
	}
	return nil
}

// Receive implements Transport.
func (s *Serial) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return s.frame.receive(ctx, timeout)
}

func (s *Serial) readChunk(p []byte, wait time.Duration) (int, error) {
	if err := s.port.SetReadTimeout(wait); err != nil {
		return 0, err
	}
	// go.bug.st/serial returns (0, nil) when the read timeout expires
	return s.port.Read(p)
}

// Close implements Transport.
func (s *Serial) Close() error {
	return s.port.Close()
}
