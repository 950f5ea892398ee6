// pkg/config/source.go
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ELMSCOPE_"

// ConfigSource represents a configuration source that can load values into koanf.
// Sources are loaded in priority order (lowest first), with higher priority sources
// overriding lower priority values.
//
// Built-in sources and their priorities:
//   - DefaultSource (10): Hardcoded default values
//   - FileSource (20): Config file (e.g., ~/.config/elmscope/config.yaml)
//   - EnvSource (30): Environment variables (ELMSCOPE_*)
//   - FlagSource (40): Command-line flags
type ConfigSource interface {
	// Name returns a human-readable name for this source (for logging/debugging)
	Name() string

	// Priority returns the load priority. Lower values are loaded first,
	// higher values override lower ones.
	Priority() int

	// Load loads configuration values into the provided koanf instance.
	Load(k *koanf.Koanf) error
}

// DefaultSource provides hardcoded default configuration values.
type DefaultSource struct{}

func (s *DefaultSource) Name() string  { return "defaults" }
func (s *DefaultSource) Priority() int { return 10 }

func (s *DefaultSource) Load(k *koanf.Koanf) error {
	if err := k.Load(confmap.Provider(DefaultConfigAsMap(), "."), nil); err != nil {
		return fmt.Errorf("error loading defaults: %w", err)
	}
	return nil
}

// FileSource loads configuration from a YAML file. A missing file is skipped.
type FileSource struct {
	Path string
}

func (s *FileSource) Name() string  { return "file:" + s.Path }
func (s *FileSource) Priority() int { return 20 }

func (s *FileSource) Load(k *koanf.Koanf) error {
	if s.Path == "" {
		return nil
	}

	if _, err := os.Stat(s.Path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error checking config file %s: %w", s.Path, err)
	}

	if err := k.Load(file.Provider(s.Path), yaml.Parser()); err != nil {
		return fmt.Errorf("error loading config file %s: %w", s.Path, err)
	}
	return nil
}

// sections are the top-level keys, longest first.
var sections = func() []string {
	s := []string{"log", "probe", "transport", "analysis", "report", "traffic_log"}
	sort.Slice(s, func(i, j int) bool { return len(s[i]) > len(s[j]) })
	return s
}()

// envKey maps ELMSCOPE_PROBE_PASS_THRESHOLD to probe.pass_threshold. Only the
// underscore after the section name becomes a dot.
func envKey(prefix, name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, prefix))
	for _, sec := range sections {
		if rest, ok := strings.CutPrefix(key, sec+"_"); ok {
			return sec + "." + rest
		}
	}
	return key
}

// EnvSource loads configuration from environment variables:
//
//	ELMSCOPE_LOG_LEVEL -> log.level
//	ELMSCOPE_TRAFFIC_LOG_PATH -> traffic_log.path
type EnvSource struct {
	Prefix string // default: "ELMSCOPE_"
}

func (s *EnvSource) Name() string  { return "env" }
func (s *EnvSource) Priority() int { return 30 }

func (s *EnvSource) Load(k *koanf.Koanf) error {
	prefix := s.Prefix
	if prefix == "" {
		prefix = EnvPrefix
	}

	if err := k.Load(env.Provider(prefix, ".", func(name string) string {
		return envKey(prefix, name)
	}), nil); err != nil {
		return fmt.Errorf("error loading environment variables: %w", err)
	}
	return nil
}

// DefaultFlagKeys maps CLI flag names to config keys. Flags whose name is
// already a dotted key map to themselves.
var DefaultFlagKeys = map[string]string{
	"log-level":        "log.level",
	"log-format":       "log.format",
	"target":           "probe.targets",
	"timeout":          "probe.timeout",
	"threshold":        "probe.pass_threshold",
	"suite":            "probe.suites",
	"quick":            "probe.quick",
	"catalog":          "probe.catalog_file",
	"target-id":        "probe.target_id",
	"baud":             "transport.baud_rate",
	"dial-attempts":    "transport.dial_attempts",
	"preflight-ping":   "transport.preflight_ping",
	"format":           "analysis.format",
	"rules":            "analysis.rules_file",
	"timing-threshold": "analysis.timing_threshold_ms",
	"port":             "analysis.port",
	"report-format":    "report.format",
	"report-dir":       "report.dir",
	"traffic-log":      "traffic_log.path",
}

// FlagSource loads configuration from command-line flags. Only flags the
// user changed override values already present.
type FlagSource struct {
	Flags *pflag.FlagSet
	Keys  map[string]string // default: DefaultFlagKeys
	Debug bool              // If true, set log.level to "debug"
}

func (s *FlagSource) Name() string  { return "flags" }
func (s *FlagSource) Priority() int { return 40 }

func (s *FlagSource) Load(k *koanf.Koanf) error {
	if s.Flags != nil {
		keys := s.Keys
		if keys == nil {
			keys = DefaultFlagKeys
		}
		cb := func(f *pflag.Flag) (string, interface{}) {
			key, ok := keys[f.Name]
			if !ok {
				if !strings.Contains(f.Name, ".") {
					return "", nil
				}
				key = f.Name
			}
			return key, posflag.FlagVal(s.Flags, f)
		}
		if err := k.Load(posflag.ProviderWithFlag(s.Flags, ".", k, cb), nil); err != nil {
			return fmt.Errorf("error loading command-line flags: %w", err)
		}
	}

	if s.Debug {
		_ = k.Set("log.level", "debug")
	}
	return nil
}

// DefaultSources returns the standard configuration sources.
// Order: defaults -> file -> env -> flags
func DefaultSources(configPath string, flags *pflag.FlagSet, debug bool) []ConfigSource {
	return []ConfigSource{
		&DefaultSource{},
		&FileSource{Path: configPath},
		&EnvSource{Prefix: EnvPrefix},
		&FlagSource{Flags: flags, Debug: debug},
	}
}
