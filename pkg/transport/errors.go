package transport

import (
	"errors"
	"fmt"
	"time"
)

const (
	errorCodeTransport   = "TRANSPORT_FAILURE"
	errorCodeTimeout     = "TRANSPORT_TIMEOUT"
	errorCodeBadTarget   = "TRANSPORT_BAD_TARGET"
	errorCodeUnreachable = "TRANSPORT_UNREACHABLE"
)

var (
	// ErrTransport indicates the link failed while sending or receiving.
	ErrTransport = errors.New("transport failure")
	// ErrTimeout indicates no complete response arrived in time.
	ErrTimeout = errors.New("response timeout")
	// ErrBadTarget indicates a target URL that cannot be dialled.
	ErrBadTarget = errors.New("invalid target")
	// ErrUnreachable indicates the preflight ping got no replies.
	ErrUnreachable = errors.New("target unreachable")
)

// WrapTransportError annotates a link failure.
func WrapTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
}

// NewTimeoutError formats a receive timeout. partial is the number of bytes
// that arrived without a prompt.
func NewTimeoutError(timeout time.Duration, partial int) error {
	if partial > 0 {
		return fmt.Errorf("%w after %s (%d bytes without prompt)", ErrTimeout, timeout, partial)
	}
	return fmt.Errorf("%w after %s", ErrTimeout, timeout)
}

// NewBadTargetError formats a target parse error.
func NewBadTargetError(target, reason string) error {
	return fmt.Errorf("%w %q: %s", ErrBadTarget, target, reason)
}

// ErrorCode resolves an error to its transport error code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return errorCodeTimeout
	case errors.Is(err, ErrBadTarget):
		return errorCodeBadTarget
	case errors.Is(err, ErrUnreachable):
		return errorCodeUnreachable
	case errors.Is(err, ErrTransport):
		return errorCodeTransport
	default:
		return ""
	}
}

// ExitCode maps transport errors to CLI exit codes.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrBadTarget):
		return 2
	case errors.Is(err, ErrUnreachable), errors.Is(err, ErrTransport):
		return 5
	case errors.Is(err, ErrTimeout):
		return 6
	default:
		return 1
	}
}

// Suggestions provides CLI hints for transport errors.
func Suggestions(err error) []string {
	switch ErrorCode(err) {
	case errorCodeBadTarget:
		return []string{
			"Targets: tcp://192.168.0.10:35000, serial:///dev/rfcomm0?baud=38400, emulator://",
		}
	case errorCodeUnreachable:
		return []string{
			"Join the adapter's WiFi network before probing",
			"Skip the check with --preflight-ping=false",
		}
	case errorCodeTimeout:
		return []string{"Raise --timeout; slow clones can take over a second for ATZ"}
	case errorCodeTransport:
		return []string{
			"Check the adapter is powered and not paired with another client",
			"Increase transport.dial_attempts in the config file",
		}
	default:
		return nil
	}
}
