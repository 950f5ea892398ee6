package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSource_Load(t *testing.T) {
	k := koanf.New(".")
	src := &DefaultSource{}
	assert.Equal(t, 10, src.Priority())
	assert.Equal(t, "defaults", src.Name())

	require.NoError(t, src.Load(k))
	assert.Equal(t, "info", k.String("log.level"))
	assert.Equal(t, "text", k.String("log.format"))
	assert.Equal(t, 2*time.Second, k.Duration("probe.timeout"))
	assert.Equal(t, 35000, k.Int("analysis.port"))
}

func TestFileSource_Load(t *testing.T) {
	k := koanf.New(".")
	require.NoError(t, (&FileSource{Path: ""}).Load(k), "empty path should skip silently")
	require.NoError(t, (&FileSource{Path: "/nonexistent/path/config.yaml"}).Load(k), "missing file should skip silently")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log:
  level: warn
  format: json
probe:
  timeout: 3s
  suites: [basic, pid]
traffic_log:
  path: /tmp/traffic.jsonl
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	src := &FileSource{Path: configPath}
	assert.Equal(t, 20, src.Priority())
	assert.Equal(t, "file:"+configPath, src.Name())
	require.NoError(t, src.Load(k))

	assert.Equal(t, "warn", k.String("log.level"))
	assert.Equal(t, "3s", k.String("probe.timeout"))
	assert.Equal(t, []string{"basic", "pid"}, k.Strings("probe.suites"))
	assert.Equal(t, "/tmp/traffic.jsonl", k.String("traffic_log.path"))
}

func TestFileSource_Load_BadYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log: [unclosed"), 0o644))
	assert.Error(t, (&FileSource{Path: configPath}).Load(koanf.New(".")))
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"ELMSCOPE_LOG_LEVEL":               "log.level",
		"ELMSCOPE_PROBE_PASS_THRESHOLD":    "probe.pass_threshold",
		"ELMSCOPE_TRAFFIC_LOG_PATH":        "traffic_log.path",
		"ELMSCOPE_TRANSPORT_DIAL_ATTEMPTS": "transport.dial_attempts",
		"ELMSCOPE_UNKNOWN":                 "unknown",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(EnvPrefix, in), in)
	}
}

func TestEnvSource_Load(t *testing.T) {
	t.Setenv("ELMSCOPE_LOG_LEVEL", "error")
	t.Setenv("ELMSCOPE_ANALYSIS_TIMING_THRESHOLD_MS", "12.5")

	k := koanf.New(".")
	src := &EnvSource{}
	assert.Equal(t, 30, src.Priority())
	assert.Equal(t, "env", src.Name())
	require.NoError(t, src.Load(k))

	assert.Equal(t, "error", k.String("log.level"))
	assert.Equal(t, 12.5, k.Float64("analysis.timing_threshold_ms"))
}

func TestFlagSource_Load(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Duration("timeout", 2*time.Second, "")
	flags.StringSlice("suite", nil, "")
	flags.Bool("quick", false, "")
	flags.String("output", "", "")
	flags.String("log.format", "text", "")
	require.NoError(t, flags.Parse([]string{"--timeout=5s", "--suite=basic,pid", "--output=x.json", "--log.format=json"}))

	k := koanf.New(".")
	require.NoError(t, (&DefaultSource{}).Load(k))

	src := &FlagSource{Flags: flags}
	assert.Equal(t, 40, src.Priority())
	require.NoError(t, src.Load(k))

	assert.Equal(t, 5*time.Second, k.Duration("probe.timeout"))
	assert.Equal(t, []string{"basic", "pid"}, k.Strings("probe.suites"))
	assert.False(t, k.Bool("probe.quick"), "unchanged flag keeps default")
	assert.False(t, k.Exists("output"), "unmapped flags are ignored")
	assert.Equal(t, "json", k.String("log.format"), "dotted flag maps to itself")
}

func TestFlagSource_Load_Debug(t *testing.T) {
	k := koanf.New(".")
	require.NoError(t, (&FlagSource{Debug: true}).Load(k))
	assert.Equal(t, "debug", k.String("log.level"))
}

func TestDefaultSources_Order(t *testing.T) {
	sources := DefaultSources("/tmp/config.yaml", nil, false)
	require.Len(t, sources, 4)
	names := []string{"defaults", "file:/tmp/config.yaml", "env", "flags"}
	for i, src := range sources {
		assert.Equal(t, names[i], src.Name())
		if i > 0 {
			assert.Greater(t, src.Priority(), sources[i-1].Priority())
		}
	}
}

type mockConfigSource struct {
	name     string
	priority int
	loadFunc func(k *koanf.Koanf) error
}

func (m *mockConfigSource) Name() string  { return m.name }
func (m *mockConfigSource) Priority() int { return m.priority }
func (m *mockConfigSource) Load(k *koanf.Koanf) error {
	if m.loadFunc != nil {
		return m.loadFunc(k)
	}
	return nil
}

func TestLoadWithSources_PriorityOrdering(t *testing.T) {
	t.Setenv("ELMSCOPE_LOG_LEVEL", "warn")

	manager := NewManager()
	sources := []ConfigSource{
		&EnvSource{},
		&mockConfigSource{name: "custom", priority: 25, loadFunc: func(k *koanf.Koanf) error {
			return k.Set("log.level", "debug")
		}},
		&DefaultSource{},
	}
	require.NoError(t, manager.LoadWithSources(sources))
	assert.Equal(t, "warn", manager.Get().Log.Level, "env (30) overrides custom (25) and defaults (10)")
}
