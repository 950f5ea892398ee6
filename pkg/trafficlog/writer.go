// Package trafficlog persists live probe traffic as JSON lines so sessions
// can be re-analysed offline exactly like a capture.
package trafficlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/elmscope/elmscope/pkg/packet"
)

// Direction of a record relative to the probing host.
const (
	DirectionTX = "tx"
	DirectionRX = "rx"
)

// Record is one line of the traffic log.
type Record struct {
	Timestamp   float64 `json:"timestamp"`
	Session     string  `json:"session,omitempty"`
	Direction   string  `json:"direction"`
	Source      string  `json:"source"`
	Destination string  `json:"destination"`
	Type        string  `json:"type"`
	Channel     string  `json:"channel,omitempty"`
	DataHex     string  `json:"data_hex"`
	Text        string  `json:"text,omitempty"`
}

// FromPacket renders p as a record.
func FromPacket(session, direction string, p packet.Packet) Record {
	return Record{
		Timestamp:   p.Timestamp,
		Session:     session,
		Direction:   direction,
		Source:      p.Source,
		Destination: p.Destination,
		Type:        string(p.Kind),
		Channel:     p.Channel,
		DataHex:     p.PayloadHex(),
		Text:        p.Text(),
	}
}

// Writer appends records to a JSONL file. Each Write encodes one whole record
// under the lock, so concurrent sessions never interleave within a line.
type Writer struct {
	filePath string
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	enabled  bool
	written  int
}

// NewWriter opens path for appending. An empty path yields a disabled writer.
func NewWriter(filePath string) (*Writer, error) {
	if filePath == "" {
		return &Writer{enabled: false}, nil
	}

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open traffic log: %w", err)
	}

	return &Writer{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
		enabled:  true,
	}, nil
}

// Write appends a record. It is safe for concurrent use.
func (w *Writer) Write(rec Record) error {
	if w == nil || !w.enabled {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("traffic log %s is closed", w.filePath)
	}
	if err := w.encoder.Encode(rec); err != nil {
		return fmt.Errorf("failed to write traffic record: %w", err)
	}
	w.written++
	return nil
}

// WritePacket appends p as a record.
func (w *Writer) WritePacket(session, direction string, p packet.Packet) error {
	return w.Write(FromPacket(session, direction, p))
}

// Written returns how many records this writer appended.
func (w *Writer) Written() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Path returns the backing file path ("" when disabled).
func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.filePath
}

// Close closes the file.
func (w *Writer) Close() error {
	if w == nil || !w.enabled {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close traffic log: %w", err)
	}

	w.file = nil
	return nil
}

// IsEnabled returns true if the writer persists records.
func (w *Writer) IsEnabled() bool {
	return w != nil && w.enabled
}
