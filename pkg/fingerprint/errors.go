package fingerprint

import (
	"errors"
	"fmt"
)

const (
	errorCodeUnknownDevice = "FINGERPRINT_UNKNOWN_DEVICE"
	errorCodeNoExchanges   = "FINGERPRINT_NO_EXCHANGES"
	errorCodeInternal      = "FINGERPRINT_INTERNAL"
)

var (
	// ErrUnknownDevice indicates a device id that has no fingerprint.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrNoExchanges indicates a capture produced no correlated exchanges.
	ErrNoExchanges = errors.New("no exchanges")
)

type errorCoder interface {
	error
	Code() string
}

type withCodeError struct {
	error
	code string
}

func (e *withCodeError) Code() string {
	return e.code
}

func (e *withCodeError) Unwrap() error {
	return e.error
}

// WithErrorCode annotates err with a fingerprint error code.
func WithErrorCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &withCodeError{error: err, code: code}
}

// NewUnknownDeviceError formats a missing device error.
func NewUnknownDeviceError(id string) error {
	return WithErrorCode(fmt.Errorf("%w: %q", ErrUnknownDevice, id), errorCodeUnknownDevice)
}

// NewNoExchangesError formats an empty capture error.
func NewNoExchangesError(source string) error {
	return WithErrorCode(fmt.Errorf("%w: %s yielded no command/response pairs", ErrNoExchanges, source), errorCodeNoExchanges)
}

// ErrorCode resolves an error to its fingerprint error code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var coded errorCoder
	if errors.As(err, &coded) {
		if code := coded.Code(); code != "" {
			return code
		}
	}

	switch {
	case errors.Is(err, ErrUnknownDevice):
		return errorCodeUnknownDevice
	case errors.Is(err, ErrNoExchanges):
		return errorCodeNoExchanges
	default:
		return errorCodeInternal
	}
}

// ExitCode maps fingerprint errors to CLI exit codes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, ErrUnknownDevice):
		return 2
	case errors.Is(err, ErrNoExchanges):
		return 3
	default:
		return 1
	}
}

// Suggestions provides CLI hints for fingerprint errors.
func Suggestions(err error) []string {
	if err == nil {
		return nil
	}

	switch ErrorCode(err) {
	case errorCodeUnknownDevice:
		return []string{
			"List devices in the capture:  elmscope analyze <file> --output json",
			"Device ids are MAC addresses or host:port as they appear in the capture",
		}
	case errorCodeNoExchanges:
		return []string{
			"Check the capture contains AT commands (payloads starting with \"AT\")",
			"Try a different format:       --format wireshark-json|pcap|jsonl",
		}
	default:
		return nil
	}
}
