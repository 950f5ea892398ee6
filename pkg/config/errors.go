package config

import (
	"errors"
	"fmt"
)

const errorCodeConfiguration = "CONFIG_INVALID"

// ErrConfiguration indicates configuration that cannot be used. It is raised
// before any capture is read or adapter dialled.
var ErrConfiguration = errors.New("invalid configuration")

// NewConfigurationError formats a configuration error.
func NewConfigurationError(reason string) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, reason)
}

// ErrorCode resolves an error to its config error code.
func ErrorCode(err error) string {
	if errors.Is(err, ErrConfiguration) {
		return errorCodeConfiguration
	}
	return ""
}

// ExitCode maps config errors to CLI exit codes.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrConfiguration):
		return 2
	default:
		return 1
	}
}

// Suggestions provides CLI hints for config errors.
func Suggestions(err error) []string {
	if !errors.Is(err, ErrConfiguration) {
		return nil
	}
	return []string{
		"Check the file passed with --config",
		"Environment overrides use the ELMSCOPE_ prefix, e.g. ELMSCOPE_PROBE_TIMEOUT=3s",
	}
}
