package heuristics

import (
	"errors"
	"fmt"
)

const errorCodeInvalidRules = "HEURISTICS_INVALID_RULES"

// ErrInvalidRules indicates a rule table that failed to parse or validate.
var ErrInvalidRules = errors.New("invalid heuristic rules")

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

// WithErrorCode annotates err with a heuristics error code.
func WithErrorCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &withCodeError{error: err, code: code}
}

// NewInvalidRulesError formats a rule table error.
func NewInvalidRulesError(reason string) error {
	return WithErrorCode(fmt.Errorf("%w: %s", ErrInvalidRules, reason), errorCodeInvalidRules)
}

// ErrorCode resolves an error to its heuristics error code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var coded *withCodeError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	if errors.Is(err, ErrInvalidRules) {
		return errorCodeInvalidRules
	}
	return ""
}

// ExitCode maps heuristics errors to CLI exit codes.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidRules):
		return 2
	default:
		return 1
	}
}

// Suggestions provides CLI hints for heuristics errors.
func Suggestions(err error) []string {
	if ErrorCode(err) != errorCodeInvalidRules {
		return nil
	}
	return []string{
		"Each rule needs id, kind, description and recommendation",
		"Kinds: authentication_commands, timing_validation, mac_validation, error_pattern",
		"Run without --rules to use the built-in table",
	}
}
