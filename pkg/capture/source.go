// Package capture turns recorded traffic into packet streams.
//
// Every format sits behind Source so analysis never sees file layouts. A
// Source is lazy and restartable: each Packets call re-opens the underlying
// file and yields packets in file order. Malformed records are yielded as
// errors wrapping ErrMalformedPacket and iteration continues; any other error
// ends the stream.
package capture

import (
	"context"
	"iter"

	"github.com/elmscope/elmscope/pkg/packet"
)

// Source is a finite, restartable sequence of packets.
type Source interface {
	Name() string
	Packets(ctx context.Context) iter.Seq2[packet.Packet, error]
}

// Slice is an in-memory Source.
type Slice struct {
	Label string
	Items []packet.Packet
}

// Name implements Source.
func (s Slice) Name() string {
	if s.Label == "" {
		return "memory"
	}
	return s.Label
}

// Packets implements Source.
func (s Slice) Packets(ctx context.Context) iter.Seq2[packet.Packet, error] {
	return func(yield func(packet.Packet, error) bool) {
		for _, p := range s.Items {
			if err := ctx.Err(); err != nil {
				yield(packet.Packet{}, err)
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// Counts summarises one pass over a Source.
type Counts struct {
	Packets   int `json:"packets"`
	Malformed int `json:"malformed"`
}

// Collect drains src, skipping malformed records. It stops at the first
// non-malformed error and returns what was read so far.
func Collect(ctx context.Context, src Source) ([]packet.Packet, Counts, error) {
	var (
		out    []packet.Packet
		counts Counts
	)
	for p, err := range src.Packets(ctx) {
		if err != nil {
			if IsMalformed(err) {
				counts.Malformed++
				continue
			}
			return out, counts, err
		}
		counts.Packets++
		out = append(out, p)
	}
	return out, counts, nil
}
