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

// Package report persists analysis and compatibility reports as JSON or as
// styled text.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/elmscope/elmscope/pkg/analysis"
	"github.com/elmscope/elmscope/pkg/scoring"
)

// Report formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Kind names what a report file holds.
type Kind string

const (
	KindAnalysis      Kind = "analysis"
	KindCompatibility Kind = "compatibility"
)

// LockTimeout bounds how long Save waits for a concurrent writer.
const LockTimeout = 5 * time.Second

// ValidateFormat rejects anything but json and text.
func ValidateFormat(format string) error {
	switch format {
	case FormatJSON, FormatText:
		return nil
	default:
		return NewUnsupportedFormatError(format)
	}
}

// FileName builds the default name, e.g. elmscope_analysis_20260102_030405.json.
func FileName(kind Kind, format string, ts time.Time) string {
	ext := "json"
	if format == FormatText {
		ext = "txt"
	}
	return fmt.Sprintf("elmscope_%s_%s.%s", kind, ts.UTC().Format("20060102_150405"), ext)
}

// DefaultPath joins dir and FileName.
func DefaultPath(dir string, kind Kind, format string, ts time.Time) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, FileName(kind, format, ts))
}

// WriteAnalysis renders rep to w in format.
func WriteAnalysis(w io.Writer, rep *analysis.Report, format string) error {
	switch format {
	case FormatJSON:
		return encodeJSON(w, rep)
	case FormatText:
		return RenderAnalysis(w, rep)
	default:
		return NewUnsupportedFormatError(format)
	}
}

// WriteCompatibility renders one report per target to w in format. JSON
// output is an array even for a single target.
func WriteCompatibility(w io.Writer, reps []scoring.CompatibilityReport, format string) error {
	switch format {
	case FormatJSON:
		if reps == nil {
			reps = []scoring.CompatibilityReport{}
		}
		return encodeJSON(w, reps)
	case FormatText:
		return RenderCompatibility(w, reps)
	default:
		return NewUnsupportedFormatError(format)
	}
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Save writes a report file. Writers of the same path are serialised with an
// advisory lock next to the file, and the content is renamed into place so
// readers never observe a partial report.
func Save(ctx context.Context, path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	lock := flock.New(filepath.Join(dir, "."+filepath.Base(path)+".lock"))

	lockCtx, cancel := context.WithTimeout(ctx, LockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		if err == nil {
			err = lockCtx.Err()
		}
		return WithErrorCode(fmt.Errorf("%w: %s: %w", ErrLocked, path, err), errorCodeLocked)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+"-*.tmp")
	if err != nil {
		return newWriteError(path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return newWriteError(path, err)
	}
	if err := tmp.Close(); err != nil {
		return newWriteError(path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return newWriteError(path, err)
	}
	committed = true
	return nil
}

// SaveAnalysis writes rep to path, or to a default name in dir when path is
// empty. It returns the path written.
func SaveAnalysis(ctx context.Context, path, dir, format string, rep *analysis.Report) (string, error) {
	if err := ValidateFormat(format); err != nil {
		return "", err
	}
	if path == "" {
		path = DefaultPath(dir, KindAnalysis, format, rep.AnalysisDate)
	}
	return path, Save(ctx, path, func(w io.Writer) error {
		return WriteAnalysis(w, rep, format)
	})
}

// SaveCompatibility writes reps to path, or to a default name in dir stamped
// with ts when path is empty.
func SaveCompatibility(ctx context.Context, path, dir, format string, reps []scoring.CompatibilityReport, ts time.Time) (string, error) {
	if err := ValidateFormat(format); err != nil {
		return "", err
	}
	if path == "" {
		path = DefaultPath(dir, KindCompatibility, format, ts)
	}
	return path, Save(ctx, path, func(w io.Writer) error {
		return WriteCompatibility(w, reps, format)
	})
}
