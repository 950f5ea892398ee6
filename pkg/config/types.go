// pkg/config/types.go
package config

import "time"

// Config is the root configuration structure for elmscope.
type Config struct {
	Log        LogConfig        `description:"Logging configuration" koanf:"log"`
	Probe      ProbeConfig      `description:"Live probe configuration" koanf:"probe"`
	Transport  TransportConfig  `description:"Adapter link configuration" koanf:"transport"`
	Analysis   AnalysisConfig   `description:"Offline capture analysis" koanf:"analysis"`
	Report     ReportConfig     `description:"Report output" koanf:"report"`
	TrafficLog TrafficLogConfig `description:"Live traffic log" koanf:"traffic_log"`
}

// LogConfig holds logging related configuration.
type LogConfig struct {
	Level  string `description:"Log level: trace|debug|info|warn|error" koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `description:"Log format: json | text" koanf:"format" validate:"oneof=json text"`
}

// ProbeConfig drives 'elmscope probe'.
type ProbeConfig struct {
	Targets       []string      `description:"Adapters to probe (tcp://, serial://, emulator://)" koanf:"targets"`
	Timeout       time.Duration `description:"Per-command response timeout" koanf:"timeout" validate:"gt=0"`
	PassThreshold float64       `description:"Overall score a target needs to be ready" koanf:"pass_threshold" validate:"gt=0,lte=100"`
	Suites        []string      `description:"Suites to run (empty = all)" koanf:"suites"`
	Quick         bool          `description:"Run only quick suites" koanf:"quick"`
	CatalogFile   string        `description:"Suite catalog override (YAML)" koanf:"catalog_file"`
	TargetID      string        `description:"Label for the target in reports" koanf:"target_id"`
}

// TransportConfig describes how to reach the adapter when no target URL is given.
type TransportConfig struct {
	Kind          string        `description:"Link kind: tcp|serial|emulator" koanf:"kind" validate:"omitempty,oneof=tcp serial emulator"`
	Address       string        `description:"host:port or serial device path" koanf:"address"`
	BaudRate      int           `description:"Serial baud rate" koanf:"baud_rate" validate:"gt=0"`
	DialAttempts  uint          `description:"Dial attempts before giving up" koanf:"dial_attempts" validate:"gte=1,lte=20"`
	DialDelay     time.Duration `description:"Initial delay between dial attempts" koanf:"dial_delay" validate:"gte=0"`
	PreflightPing bool          `description:"Ping TCP adapters before dialling" koanf:"preflight_ping"`
}

// AnalysisConfig drives 'elmscope analyze'.
type AnalysisConfig struct {
	Format            string  `description:"Capture format: auto|wireshark|pcap|trafficlog" koanf:"format" validate:"oneof=auto wireshark pcap trafficlog"`
	RulesFile         string  `description:"Heuristic rule table override (YAML)" koanf:"rules_file"`
	TimingThresholdMs float64 `description:"Latency below which a response counts as suspiciously fast" koanf:"timing_threshold_ms" validate:"gte=0"`
	Port              int     `description:"Adapter TCP port in pcap captures" koanf:"port" validate:"gte=0,lte=65535"`
}

// ReportConfig controls where and how reports are written.
type ReportConfig struct {
	Dir    string `description:"Directory for generated reports" koanf:"dir"`
	Format string `description:"Report format: json | text" koanf:"format" validate:"oneof=json text"`
}

// TrafficLogConfig enables the JSONL log of live traffic.
type TrafficLogConfig struct {
	Path string `description:"Traffic log file (empty disables)" koanf:"path"`
}
