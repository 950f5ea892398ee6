// Copyright 2025 Elmscope Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probe

import (
	"errors"
	"fmt"
	"strings"
)

const (
	errorCodeInvalidCatalog = "PROBE_INVALID_CATALOG"
	errorCodeUnknownSuite   = "PROBE_UNKNOWN_SUITE"
)

var (
	// ErrInvalidCatalog indicates a suite catalog that failed to parse or validate.
	ErrInvalidCatalog = errors.New("invalid probe catalog")
	// ErrUnknownSuite indicates a --suite name missing from the catalog.
	ErrUnknownSuite = errors.New("unknown probe suite")
)

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

// WithErrorCode annotates err with a probe error code.
func WithErrorCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &withCodeError{error: err, code: code}
}

// NewInvalidCatalogError formats a catalog error.
func NewInvalidCatalogError(reason string) error {
	return WithErrorCode(fmt.Errorf("%w: %s", ErrInvalidCatalog, reason), errorCodeInvalidCatalog)
}

// NewUnknownSuiteError names the missing suite and the ones available.
func NewUnknownSuiteError(name string, available []string) error {
	return WithErrorCode(
		fmt.Errorf("%w %q (available: %s)", ErrUnknownSuite, name, strings.Join(available, ", ")),
		errorCodeUnknownSuite,
	)
}

// ErrorCode resolves an error to its probe error code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var coded *withCodeError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	switch {
	case errors.Is(err, ErrInvalidCatalog):
		return errorCodeInvalidCatalog
	case errors.Is(err, ErrUnknownSuite):
		return errorCodeUnknownSuite
	}
	return ""
}

// ExitCode maps probe errors to CLI exit codes.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidCatalog), errors.Is(err, ErrUnknownSuite):
		return 2
	default:
		return 1
	}
}

// Suggestions provides CLI hints for probe errors.
func Suggestions(err error) []string {
	switch ErrorCode(err) {
	case errorCodeInvalidCatalog:
		return []string{
			"Every step needs a command and an expectation kind",
			"Kinds: contains, equals, prefix, pid_format, not_error, error_expected, min_version, any",
		}
	case errorCodeUnknownSuite:
		return []string{"Run 'elmscope suites' to list the catalog"}
	default:
		return nil
	}
}
