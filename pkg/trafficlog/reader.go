package trafficlog

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"strings"

	"github.com/elmscope/elmscope/pkg/capture"
	"github.com/elmscope/elmscope/pkg/packet"
)

const maxLineBytes = 1 << 20

// Reader replays a traffic log as a capture.Source.
type Reader struct {
	Path string
	// Session limits replay to one session id when set.
	Session string
}

var _ capture.Source = Reader{}

// Name implements capture.Source.
func (r Reader) Name() string {
	return r.Path
}

// Packets implements capture.Source.
func (r Reader) Packets(ctx context.Context) iter.Seq2[packet.Packet, error] {
	return func(yield func(packet.Packet, error) bool) {
		for rec, err := range r.Records(ctx) {
			if err != nil {
				if !yield(packet.Packet{}, err) {
					return
				}
				continue
			}
			p, err := rec.Packet()
			if err != nil {
				err = capture.Malformed(-1, "%v", err)
			}
			if !yield(p, err) {
				return
			}
		}
	}
}

// Records yields decoded records in file order. Undecodable lines yield
// capture.ErrMalformedPacket and iteration continues.
func (r Reader) Records(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		f, err := os.Open(r.Path)
		if err != nil {
			yield(Record{}, fmt.Errorf("%w: %v", capture.ErrOpen, err))
			return
		}
		defer f.Close()

		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for line := 0; sc.Scan(); line++ {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			var rec Record
			if err := json.Unmarshal([]byte(text), &rec); err != nil {
				if !yield(Record{}, capture.Malformed(line, "%v", err)) {
					return
				}
				continue
			}
			if r.Session != "" && rec.Session != r.Session {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(Record{}, fmt.Errorf("%w: %v", capture.ErrOpen, err))
		}
	}
}

// Packet converts a record back into a packet.
func (rec Record) Packet() (packet.Packet, error) {
	payload, err := hex.DecodeString(rec.DataHex)
	if err != nil {
		return packet.Packet{}, fmt.Errorf("bad data_hex: %w", err)
	}
	return packet.New(rec.Timestamp, rec.Source, rec.Destination, packet.ParseKind(rec.Type), payload).
		WithChannel(rec.Channel), nil
}
