// Package paths resolves per-user locations for elmscope files.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// ConfigFileName is the file looked up in ConfigDir when --config is unset.
const ConfigFileName = "config.yaml"

// ConfigDir returns the config directory for elmscope.
// Order: XDG_CONFIG_HOME/elmscope, platform-specific fallback.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "elmscope")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("AppData"); appData != "" {
			return filepath.Join(appData, "elmscope")
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "elmscope")
}

// DefaultConfigFile returns the per-user config file, or "" when no home
// directory can be resolved. The file need not exist.
func DefaultConfigFile() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, ConfigFileName)
}
