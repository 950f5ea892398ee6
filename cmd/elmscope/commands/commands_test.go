package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmscope/elmscope/pkg/analysis"
	"github.com/elmscope/elmscope/pkg/capture"
	"github.com/elmscope/elmscope/pkg/config"
	"github.com/elmscope/elmscope/pkg/report"
	"github.com/elmscope/elmscope/pkg/transport"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	var stdout, stderr bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--log-level", "error", "--no-color"}, args...))
	code := Execute(context.Background(), cmd, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeCapture(t *testing.T, dir string) string {
	t.Helper()
	var records []string
	for i, dev := range []string{"obd1", "obd2"} {
		base := float64(i * 10)
		latency := 0.02 + float64(i)*0.03
		records = append(records,
			fmt.Sprintf(`{"timestamp": %g, "source": "hu", "destination": %q, "type": "data", "data": "ATZ\r"}`, base, dev),
			fmt.Sprintf(`{"timestamp": %g, "source": %q, "destination": "hu", "type": "data", "data": "ELM327 v1.5\r\r>"}`, base+latency, dev),
			fmt.Sprintf(`{"timestamp": %g, "source": "hu", "destination": %q, "type": "data", "data": "ATE0\r"}`, base+1, dev),
			fmt.Sprintf(`{"timestamp": %g, "source": %q, "destination": "hu", "type": "data", "data": "OK\r\r>"}`, base+1+latency, dev),
		)
	}
	path := filepath.Join(dir, "capture.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"packets": [`+strings.Join(records, ",")+`]}`), 0o644))
	return path
}

func TestVersionCommand(t *testing.T) {
	code, stdout, _ := run(t, "version", "--short")
	assert.Equal(t, 0, code)
	assert.Equal(t, "dev\n", stdout)

	code, stdout, _ = run(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Version:      dev")
	assert.Contains(t, stdout, "OS/Arch:")

	code, stdout, _ = run(t, "--json", "version")
	assert.Equal(t, 0, code)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &v))
	assert.Equal(t, "dev", v["version"])
}

func TestSuitesCommand(t *testing.T) {
	code, stdout, _ := run(t, "suites")
	require.Equal(t, 0, code)
	for _, name := range []string{"basic", "timing", "security", "pid"} {
		assert.Contains(t, stdout, name)
	}
	assert.Contains(t, stdout, "suites,")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("suites: []\n"), 0o644))
	code, _, stderr := run(t, "suites", "--catalog", bad)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Failed to load suite catalog")
}

func TestAnalyzeAndCompare(t *testing.T) {
	dir := t.TempDir()
	capturePath := writeCapture(t, dir)
	reportPath := filepath.Join(dir, "analysis.json")

	code, stdout, stderr := run(t, "analyze", capturePath, "-o", reportPath,
		"--compare", "obd1,obd2")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "obd1")
	assert.Contains(t, stdout, "Analysed 8 packets, 4 exchanges")

	rep, err := analysis.LoadReport(reportPath)
	require.NoError(t, err)
	assert.Len(t, rep.Fingerprints, 2)
	require.Len(t, rep.Comparisons, 1)
	assert.InDelta(t, 30.0, rep.Comparisons[0].ResponseTimeDiff, 1e-6)

	code, stdout, _ = run(t, "--json", "compare", reportPath, "obd1", "obd2")
	require.Equal(t, 0, code)
	var c map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &c))
	assert.Equal(t, true, c["vocabulary_match"])
	assert.Equal(t, true, c["firmware_match"])

	code, _, stderr = run(t, "compare", reportPath, "obd1", "missing")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "missing")
}

func TestAnalyzeTextReport(t *testing.T) {
	dir := t.TempDir()
	capturePath := writeCapture(t, dir)

	code, _, stderr := run(t, "analyze", capturePath, "--report-format", "text", "--report-dir", dir)
	require.Equal(t, 0, code, stderr)

	matches, err := filepath.Glob(filepath.Join(dir, "elmscope_analysis_*.txt"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "obd2")
}

func TestProbeEmulator(t *testing.T) {
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "compat.json")
	logPath := filepath.Join(dir, "traffic.jsonl")

	code, stdout, stderr := run(t, "probe", "--target", "emulator://", "--quick",
		"--preflight-ping=false", "--target-id", "bench", "-o", reportPath, "--traffic-log", logPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "bench")
	assert.Contains(t, stdout, "READY")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var reps []map[string]any
	require.NoError(t, json.Unmarshal(data, &reps))
	require.Len(t, reps, 1)
	assert.Equal(t, "bench", reps[0]["target_id"])
	assert.Equal(t, true, reps[0]["ready"])

	code, stdout, _ = run(t, "stats", logPath)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Traffic Log Statistics")
	assert.Contains(t, stdout, "ATZ")
}

func TestProbeNotReady(t *testing.T) {
	dir := t.TempDir()
	code, stdout, _ := run(t, "probe", "--target", "emulator://", "--quick", "--threshold", "99",
		"--report-dir", dir)
	assert.Equal(t, exitNotReady, code)
	assert.Contains(t, stdout, "NOT READY")
}

func TestExitCodes(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"packets": []}`), 0o644))

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing capture", []string{"analyze", filepath.Join(dir, "nope.json"), "--report-dir", dir}, 4},
		{"no exchanges", []string{"analyze", empty, "--report-dir", dir}, 3},
		{"unknown capture format", []string{"analyze", empty, "--format", "csv"}, 2},
		{"odd compare ids", []string{"analyze", empty, "--compare", "a,b,c"}, 2},
		{"unsupported report format", []string{"analyze", empty, "--report-format", "xml"}, 2},
		{"no target", []string{"probe"}, 2},
		{"bad target", []string{"probe", "--target", "bluetooth://x"}, 2},
		{"unknown suite", []string{"probe", "--target", "emulator://", "--suite", "nope"}, 2},
		{"bad since", []string{"stats", empty, "--since", "yesterday"}, 2},
		{"missing log", []string{"stats", filepath.Join(dir, "nope.jsonl")}, 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, _, _ := run(t, tc.args...)
			assert.Equal(t, tc.want, code)
		})
	}
}

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"exit error", &ExitError{Code: 6, Err: errors.New("x")}, 6},
		{"canceled", fmt.Errorf("run: %w", context.Canceled), exitInterrupted},
		{"not ready", ErrNotReady, exitNotReady},
		{"config", config.NewConfigurationError("bad"), 2},
		{"transport", transport.WrapTransportError("dial", errors.New("refused")), 5},
		{"capture", fmt.Errorf("%w: gone", capture.ErrOpen), 4},
		{"report", report.NewUnsupportedFormatError("xml"), 2},
		{"foreign", errors.New("boom"), 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}
