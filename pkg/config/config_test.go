package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 80.0, cfg.Probe.PassThreshold)
	assert.Equal(t, 2*time.Second, cfg.Probe.Timeout)
	assert.True(t, cfg.Transport.PreflightPing)
}

func TestDefaultConfigAsMap_CoversDefaults(t *testing.T) {
	m := DefaultConfigAsMap()
	def := DefaultConfig()
	assert.Equal(t, def.Log.Level, m["log.level"])
	assert.Equal(t, def.Probe.Timeout, m["probe.timeout"])
	assert.Equal(t, def.Analysis.Format, m["analysis.format"])
	assert.Contains(t, m, "traffic_log.path")
}

func TestManager_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "elmscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
probe:
  timeout: 1500ms
  pass_threshold: 75
transport:
  kind: tcp
  address: 192.168.0.10:35000
`), 0o644))
	t.Setenv("ELMSCOPE_REPORT_FORMAT", "text")

	flags := pflag.NewFlagSet("probe", pflag.ContinueOnError)
	flags.Bool("quick", false, "")
	require.NoError(t, flags.Parse([]string{"--quick"}))

	m := NewManager()
	require.NoError(t, m.Load(flags, path, true))
	cfg := m.Get()

	assert.Equal(t, 1500*time.Millisecond, cfg.Probe.Timeout)
	assert.Equal(t, 75.0, cfg.Probe.PassThreshold)
	assert.True(t, cfg.Probe.Quick)
	assert.Equal(t, "text", cfg.Report.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 38400, cfg.Transport.BaudRate, "default kept")

	targets, err := cfg.ProbeTargets()
	require.NoError(t, err)
	assert.Equal(t, []string{"tcp://192.168.0.10:35000"}, targets)
}

func TestManager_Load_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown transport kind", "transport:\n  kind: bluetooth\n"},
		{"missing address", "transport:\n  kind: tcp\n"},
		{"bad log format", "log:\n  format: xml\n"},
		{"threshold above 100", "probe:\n  pass_threshold: 120\n"},
		{"bad analysis format", "analysis:\n  format: csv\n"},
		{"zero timeout", "probe:\n  timeout: 0s\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0o644))
			err := NewManager().Load(nil, path, false)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Equal(t, 2, ExitCode(err))
			assert.Equal(t, errorCodeConfiguration, ErrorCode(err))
			assert.NotEmpty(t, Suggestions(err))
		})
	}
}

func TestProbeTargets(t *testing.T) {
	cfg := DefaultConfig()
	_, err := cfg.ProbeTargets()
	assert.ErrorIs(t, err, ErrConfiguration, "no target anywhere")

	cfg.Transport.Kind = "serial"
	cfg.Transport.Address = "/dev/rfcomm0"
	targets, err := cfg.ProbeTargets()
	require.NoError(t, err)
	assert.Equal(t, []string{"serial:///dev/rfcomm0?baud=38400"}, targets)

	cfg.Transport.Kind = "emulator"
	targets, _ = cfg.ProbeTargets()
	assert.Equal(t, []string{"emulator://"}, targets)

	cfg.Probe.Targets = []string{"tcp://a:1", "emulator://"}
	targets, _ = cfg.ProbeTargets()
	assert.Equal(t, []string{"tcp://a:1", "emulator://"}, targets)

	cfg.Probe.Targets = nil
	cfg.Transport.Kind = "can"
	_, err = cfg.ProbeTargets()
	assert.ErrorIs(t, err, ErrConfiguration)
}
