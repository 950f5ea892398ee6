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

package report

import (
	"errors"
	"fmt"
)

const (
	errorCodeUnsupportedFormat = "REPORT_UNSUPPORTED_FORMAT"
	errorCodeWrite             = "REPORT_WRITE_FAILED"
	errorCodeLocked            = "REPORT_LOCKED"
)

var (
	// ErrUnsupportedFormat indicates a report format other than json or text.
	ErrUnsupportedFormat = errors.New("unsupported report format")
	// ErrWrite indicates the report could not be persisted.
	ErrWrite = errors.New("cannot write report")
	// ErrLocked indicates another process holds the report lock.
	ErrLocked = errors.New("report is locked")
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

// WithErrorCode annotates err with a report error code.
func WithErrorCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &withCodeError{error: err, code: code}
}

// NewUnsupportedFormatError names the rejected format.
func NewUnsupportedFormatError(format string) error {
	return WithErrorCode(fmt.Errorf("%w: %q", ErrUnsupportedFormat, format), errorCodeUnsupportedFormat)
}

func newWriteError(path string, err error) error {
	return WithErrorCode(fmt.Errorf("%w %s: %w", ErrWrite, path, err), errorCodeWrite)
}

// ErrorCode resolves an error to its report error code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var coded *withCodeError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return errorCodeUnsupportedFormat
	case errors.Is(err, ErrLocked):
		return errorCodeLocked
	case errors.Is(err, ErrWrite):
		return errorCodeWrite
	}
	return ""
}

// ExitCode maps report errors to CLI exit codes.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrUnsupportedFormat):
		return 2
	case errors.Is(err, ErrLocked), errors.Is(err, ErrWrite):
		return 4
	default:
		return 1
	}
}

// Suggestions provides CLI hints for report errors.
func Suggestions(err error) []string {
	switch ErrorCode(err) {
	case errorCodeUnsupportedFormat:
		return []string{"Use --report-format json or --report-format text"}
	case errorCodeLocked:
		return []string{"Another elmscope run is writing the same report; retry once it finishes"}
	case errorCodeWrite:
		return []string{"Check that --report-dir exists and is writable"}
	default:
		return nil
	}
}
