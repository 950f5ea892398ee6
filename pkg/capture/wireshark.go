package capture

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	"github.com/spf13/cast"

	"github.com/elmscope/elmscope/pkg/packet"
)

// WiresharkJSON reads a Wireshark/btsnoop export flattened to
//
//	{"packets": [{"timestamp": 1.25, "source": "..", "destination": "..",
//	              "type": "data", "data": "ATZ\r", "channel": "fff1"}]}
//
// A top-level array of records is accepted too. Records are decoded one at a
// time so large exports are never held in memory.
type WiresharkJSON struct {
	Path string
}

// Name implements Source.
func (w WiresharkJSON) Name() string {
	return w.Path
}

// Packets implements Source.
func (w WiresharkJSON) Packets(ctx context.Context) iter.Seq2[packet.Packet, error] {
	return func(yield func(packet.Packet, error) bool) {
		f, err := os.Open(w.Path)
		if err != nil {
			yield(packet.Packet{}, fmt.Errorf("%w: %v", ErrOpen, err))
			return
		}
		defer f.Close()

		dec := json.NewDecoder(bufio.NewReader(f))
		dec.UseNumber()
		if err := seekPacketsArray(dec); err != nil {
			yield(packet.Packet{}, fmt.Errorf("%w: %s: %v", ErrOpen, w.Path, err))
			return
		}

		for i := 0; dec.More(); i++ {
			if err := ctx.Err(); err != nil {
				yield(packet.Packet{}, err)
				return
			}

			var raw map[string]any
			if err := dec.Decode(&raw); err != nil {
				var typeErr *json.UnmarshalTypeError
				if errors.As(err, &typeErr) {
					if !yield(packet.Packet{}, Malformed(i, "record is not an object")) {
						return
					}
					continue
				}
				yield(packet.Packet{}, fmt.Errorf("%w: record %d: %v", ErrOpen, i, err))
				return
			}

			p, err := decodeRecord(i, raw)
			if !yield(p, err) {
				return
			}
		}
	}
}

func seekPacketsArray(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch tok {
	case json.Delim('['):
		return nil
	case json.Delim('{'):
	default:
		return fmt.Errorf("unexpected top-level token %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		if key, _ := keyTok.(string); key == "packets" {
			open, err := dec.Token()
			if err != nil {
				return err
			}
			if open != json.Delim('[') {
				return errors.New(`"packets" is not an array`)
			}
			return nil
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return err
		}
	}
	return errors.New(`no "packets" array`)
}

func decodeRecord(i int, raw map[string]any) (packet.Packet, error) {
	tsRaw, ok := raw["timestamp"]
	if !ok {
		return packet.Packet{}, Malformed(i, "missing timestamp")
	}
	ts, err := cast.ToFloat64E(tsRaw)
	if err != nil || ts < 0 {
		return packet.Packet{}, Malformed(i, "bad timestamp %v", tsRaw)
	}

	src := strings.TrimSpace(cast.ToString(raw["source"]))
	dst := strings.TrimSpace(cast.ToString(raw["destination"]))
	if src == "" || dst == "" {
		return packet.Packet{}, Malformed(i, "missing source or destination")
	}

	var payload []byte
	if h, ok := raw["data_hex"]; ok {
		s := strings.NewReplacer(":", "", " ", "").Replace(cast.ToString(h))
		payload, err = hex.DecodeString(s)
		if err != nil {
			return packet.Packet{}, Malformed(i, "bad data_hex: %v", err)
		}
	} else if d, ok := raw["data"]; ok {
		s, err := cast.ToStringE(d)
		if err != nil {
			return packet.Packet{}, Malformed(i, "bad data: %v", err)
		}
		payload = []byte(s)
	}

	p := packet.New(ts, src, dst, packet.ParseKind(cast.ToString(raw["type"])), payload)
	for _, key := range []string{"channel", "characteristic", "uuid"} {
		if ch := cast.ToString(raw[key]); ch != "" {
			p = p.WithChannel(ch)
			break
		}
	}
	return p, nil
}
