package paths

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDir(t *testing.T) {
	t.Run("XDGOverride", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-config")
		assert.Equal(t, filepath.Join("/tmp/xdg-config", "elmscope"), ConfigDir())
		assert.Equal(t, filepath.Join("/tmp/xdg-config", "elmscope", "config.yaml"), DefaultConfigFile())
	})

	t.Run("PlatformDefault", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("HOME fallback is unix only")
		}
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", "/home/tester")
		assert.Equal(t, filepath.Join("/home/tester", ".config", "elmscope"), ConfigDir())
	})
}
