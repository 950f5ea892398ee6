// Package packet holds the value types shared by every stage of the pipeline:
// transport-level packets and the command exchanges derived from them.
package packet

import (
	"encoding/hex"
	"strings"
	"unicode"
)

// Kind classifies a transport unit as reported by the capture reader.
type Kind string

const (
	KindUnknown Kind = "unknown"
	KindData    Kind = "data"
	KindControl Kind = "control"
)

// ParseKind maps free-form capture labels onto a Kind.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "data", "acl", "att", "rfcomm", "spp", "tcp":
		return KindData
	case "control", "cmd", "event", "hci", "l2cap_signal":
		return KindControl
	default:
		return KindUnknown
	}
}

// Packet is one transport-level unit. It is immutable once constructed:
// New copies the payload and Payload returns a copy.
type Packet struct {
	Timestamp   float64 `json:"timestamp"`
	Source      string  `json:"source"`
	Destination string  `json:"destination"`
	Kind        Kind    `json:"kind"`
	Channel     string  `json:"channel,omitempty"` // GATT characteristic, RFCOMM channel or TCP port
	Length      uint32  `json:"length"`

	payload []byte
}

// New builds a Packet, deriving Length from the payload.
func New(ts float64, src, dst string, kind Kind, payload []byte) Packet {
	if kind == "" {
		kind = KindUnknown
	}
	return Packet{
		Timestamp:   ts,
		Source:      src,
		Destination: dst,
		Kind:        kind,
		Length:      uint32(len(payload)),
		payload:     append([]byte(nil), payload...),
	}
}

// WithChannel returns a copy of p tagged with a channel identifier.
func (p Packet) WithChannel(ch string) Packet {
	p.Channel = ch
	return p
}

// Payload returns a copy of the raw payload bytes.
func (p Packet) Payload() []byte {
	return append([]byte(nil), p.payload...)
}

// PayloadHex returns the payload as lowercase hex.
func (p Packet) PayloadHex() string {
	return hex.EncodeToString(p.payload)
}

// Text decodes the payload as text with surrounding control characters and
// spaces removed.
func (p Packet) Text() string {
	return TrimControl(string(p.payload))
}

// TrimControl strips leading and trailing control characters and whitespace.
func TrimControl(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsControl(r) || unicode.IsSpace(r) || r == 0
	})
}
