package capture

import (
	"errors"
	"fmt"
)

const (
	errorCodeMalformed   = "CAPTURE_MALFORMED_PACKET"
	errorCodeUnsupported = "CAPTURE_UNSUPPORTED_FORMAT"
	errorCodeOpen        = "CAPTURE_OPEN_FAILED"
)

var (
	// ErrMalformedPacket marks a single record that could not be decoded.
	ErrMalformedPacket = errors.New("malformed packet")
	// ErrUnsupportedFormat indicates an unknown --format value.
	ErrUnsupportedFormat = errors.New("unsupported capture format")
	// ErrOpen indicates the capture file could not be opened or has a bad header.
	ErrOpen = errors.New("cannot open capture")
)

// MalformedError describes a skipped record.
type MalformedError struct {
	Index  int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s at record %d: %s", ErrMalformedPacket, e.Index, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedPacket
}

// Malformed builds a MalformedError.
func Malformed(index int, format string, args ...any) error {
	return &MalformedError{Index: index, Reason: fmt.Sprintf(format, args...)}
}

// IsMalformed reports whether err marks a skippable record.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedPacket)
}

// NewUnsupportedFormatError formats an unknown format error.
func NewUnsupportedFormatError(format string) error {
	return fmt.Errorf("%w: %q (want wireshark, pcap or trafficlog)", ErrUnsupportedFormat, format)
}

// ErrorCode resolves an error to its capture error code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedPacket):
		return errorCodeMalformed
	case errors.Is(err, ErrUnsupportedFormat):
		return errorCodeUnsupported
	case errors.Is(err, ErrOpen):
		return errorCodeOpen
	default:
		return ""
	}
}

// ExitCode maps capture errors to CLI exit codes.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrUnsupportedFormat):
		return 2
	case errors.Is(err, ErrOpen):
		return 4
	default:
		return 1
	}
}

// Suggestions provides CLI hints for capture errors.
func Suggestions(err error) []string {
	switch ErrorCode(err) {
	case errorCodeUnsupported:
		return []string{"Supported formats: --format wireshark | pcap | trafficlog"}
	case errorCodeOpen:
		return []string{
			"Check the capture path exists and is readable",
			"Wireshark exports must be JSON with a top-level \"packets\" array",
		}
	default:
		return nil
	}
}
