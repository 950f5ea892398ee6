// pkg/config/config.go
package config

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var validate = validator.New()

// Manager handles loading and accessing application configuration.
type Manager struct {
	koanfInstance *koanf.Koanf
	currentConfig Config
	mu            sync.RWMutex
}

// NewManager creates a Manager with an empty koanf tree.
func NewManager() *Manager {
	return &Manager{koanfInstance: koanf.New(".")}
}

// DefaultConfig returns the baseline configuration used when no other
// source overrides a value.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Probe: ProbeConfig{
			Timeout:       2 * time.Second,
			PassThreshold: 80,
		},
		Transport: TransportConfig{
			BaudRate:      38400,
			DialAttempts:  3,
			DialDelay:     500 * time.Millisecond,
			PreflightPing: true,
		},
		Analysis: AnalysisConfig{
			Format:            "auto",
			TimingThresholdMs: 10,
			Port:              35000,
		},
		Report: ReportConfig{
			Dir:    ".",
			Format: "json",
		},
	}
}

// Load loads defaults, the YAML file, ELMSCOPE_ environment variables and
// flags, in that order.
func (m *Manager) Load(flags *pflag.FlagSet, configFilePath string, debug bool) error {
	return m.LoadWithSources(DefaultSources(configFilePath, flags, debug))
}

// LoadWithSources loads sources in ascending priority, unmarshals the merged
// tree and validates it. Any failure wraps ErrConfiguration.
func (m *Manager) LoadWithSources(sources []ConfigSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := append([]ConfigSource(nil), sources...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})

	for _, src := range ordered {
		if err := src.Load(m.koanfInstance); err != nil {
			return NewConfigurationError(fmt.Sprintf("source %s: %v", src.Name(), err))
		}
		log.Debug().Str("source", src.Name()).Int("priority", src.Priority()).Msg("config source loaded")
	}

	var newCfg Config
	if err := m.koanfInstance.UnmarshalWithConf("", &newCfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return NewConfigurationError(fmt.Sprintf("unmarshal: %v", err))
	}
	if err := newCfg.Validate(); err != nil {
		return err
	}
	m.currentConfig = newCfg
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentConfig
}

// Koanf exposes the merged tree for lookups by key.
func (m *Manager) Koanf() *koanf.Koanf {
	return m.koanfInstance
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return NewConfigurationError(err.Error())
	}
	if c.Transport.Kind != "" && c.Transport.Kind != "emulator" && c.Transport.Address == "" {
		return NewConfigurationError("transport.address is required for transport.kind " + c.Transport.Kind)
	}
	return nil
}

// ProbeTargets returns the configured target URLs. When none are listed it
// derives one from the transport section; with neither it fails with
// ErrConfiguration.
func (c Config) ProbeTargets() ([]string, error) {
	if len(c.Probe.Targets) > 0 {
		return append([]string(nil), c.Probe.Targets...), nil
	}
	switch c.Transport.Kind {
	case "tcp":
		return []string{"tcp://" + c.Transport.Address}, nil
	case "serial":
		q := url.Values{"baud": []string{strconv.Itoa(c.Transport.BaudRate)}}
		return []string{"serial://" + c.Transport.Address + "?" + q.Encode()}, nil
	case "emulator":
		return []string{"emulator://"}, nil
	case "":
		return nil, NewConfigurationError("no probe target: pass --target or set transport.kind")
	default:
		return nil, NewConfigurationError("unknown transport kind " + strconv.Quote(c.Transport.Kind))
	}
}

// DefaultConfigAsMap flattens DefaultConfig for koanf's confmap provider so
// every key is known before flags are applied.
func DefaultConfigAsMap() map[string]interface{} {
	def := DefaultConfig()
	return map[string]interface{}{
		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,

		"probe.targets":        def.Probe.Targets,
		"probe.timeout":        def.Probe.Timeout,
		"probe.pass_threshold": def.Probe.PassThreshold,
		"probe.suites":         def.Probe.Suites,
		"probe.quick":          def.Probe.Quick,
		"probe.catalog_file":   def.Probe.CatalogFile,
		"probe.target_id":      def.Probe.TargetID,

		"transport.kind":           def.Transport.Kind,
		"transport.address":        def.Transport.Address,
		"transport.baud_rate":      def.Transport.BaudRate,
		"transport.dial_attempts":  def.Transport.DialAttempts,
		"transport.dial_delay":     def.Transport.DialDelay,
		"transport.preflight_ping": def.Transport.PreflightPing,

		"analysis.format":              def.Analysis.Format,
		"analysis.rules_file":          def.Analysis.RulesFile,
		"analysis.timing_threshold_ms": def.Analysis.TimingThresholdMs,
		"analysis.port":                def.Analysis.Port,

		"report.dir":    def.Report.Dir,
		"report.format": def.Report.Format,

		"traffic_log.path": def.TrafficLog.Path,
	}
}
