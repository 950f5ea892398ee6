package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withVersion(t *testing.T, v string) {
	t.Helper()
	old := Version
	Version = v
	t.Cleanup(func() { Version = old })
}

func TestInfo(t *testing.T) {
	info := Info()
	assert.Contains(t, info, "elmscope")
	assert.Contains(t, info, Version)
	assert.Contains(t, info, Commit)
	assert.Contains(t, info, BuildDate)
}

func TestGet(t *testing.T) {
	v := Get()
	assert.Equal(t, Version, v.Version)
	assert.Equal(t, Commit, v.Commit)
	assert.Equal(t, runtime.Version(), v.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, v.Platform)
}

func TestSemver(t *testing.T) {
	tests := []struct {
		version string
		parsed  bool
		release bool
	}{
		{"dev", false, false},
		{"v1.2.3", true, true},
		{"1.0.0-rc.1", true, false},
	}
	for _, tc := range tests {
		t.Run(tc.version, func(t *testing.T) {
			withVersion(t, tc.version)
			v, ok := Semver()
			assert.Equal(t, tc.parsed, ok)
			if tc.parsed {
				require.NotNil(t, v)
			}
			assert.Equal(t, tc.release, IsRelease())
		})
	}
}
