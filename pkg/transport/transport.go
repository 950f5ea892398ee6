// Package transport carries AT commands to an ELM327 adapter and brings back
// its responses over TCP (WiFi adapters), serial/RFCOMM, or an in-process
// emulator.
package transport

//go:generate mockgen -destination=mock_transport.go -package=transport github.com/elmscope/elmscope/pkg/transport Transport

import (
	"bytes"
	"context"
	"time"
)

// Transport is a bidirectional byte channel to one adapter. Implementations
// are used by one goroutine at a time.
type Transport interface {
	// Send writes one command. Failures wrap ErrTransport.
	Send(ctx context.Context, payload []byte) error
	// Receive returns one complete response, up to and including the prompt.
	// It fails with ErrTimeout when nothing complete arrives within timeout.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}

const (
	promptByte   = '>'
	pollInterval = 50 * time.Millisecond

	// DefaultDrainGrace bounds how long Send waits for the late reply of a
	// timed-out command before writing the next one.
	DefaultDrainGrace = 500 * time.Millisecond

	flushWait  = time.Millisecond
	maxFlushes = 64
)

// chunkReader reads whatever is available within wait. A read that times out
// with no data returns (0, nil).
type chunkReader func(p []byte, wait time.Duration) (int, error)

// framer cuts the byte stream into prompt-terminated responses. Bytes after
// a prompt are kept for the next Receive. After a timeout the adapter may
// still answer, so the next drain discards input until that reply's prompt
// or until grace elapses.
type framer struct {
	read    chunkReader
	grace   time.Duration
	pending []byte
	stale   bool
}

func newFramer(read chunkReader) *framer {
	return &framer{read: read, grace: DefaultDrainGrace}
}

// receive returns one response up to and including the first prompt.
func (f *framer) receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	acc := f.pending
	f.pending = nil
	buf := make([]byte, 256)
	for {
		if i := bytes.IndexByte(acc, promptByte); i >= 0 {
			f.pending = append([]byte(nil), acc[i+1:]...)
			return acc[:i+1], nil
		}
		if err := ctx.Err(); err != nil {
			f.stale = true
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			f.stale = true
			return nil, NewTimeoutError(timeout, len(acc))
		}

		n, err := f.read(buf, min(remaining, pollInterval))
		acc = append(acc, buf[:n]...)
		if err != nil {
			return nil, WrapTransportError("receive", err)
		}
	}
}

// drain discards everything that is not a reply to the command about to be
// sent: buffered bytes, the late reply of a timed-out command, and any input
// already waiting on the link.
func (f *framer) drain(ctx context.Context) error {
	f.pending = nil
	buf := make([]byte, 256)

	if f.stale {
		f.stale = false
		deadline := time.Now().Add(f.grace)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			n, err := f.read(buf, min(remaining, pollInterval))
			if err != nil {
				return WrapTransportError("drain", err)
			}
			if bytes.IndexByte(buf[:n], promptByte) >= 0 {
				break
			}
		}
	}

	for range maxFlushes {
		n, err := f.read(buf, flushWait)
		if err != nil {
			return WrapTransportError("drain", err)
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}
