// Package version provides version metadata for the application.
package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// These variables are typically injected at build time using -ldflags
var (
	// Version holds the current version of elmscope.
	Version = "dev"
	// Commit holds the commit elmscope was built from.
	Commit = "none"
	// BuildDate holds the build date of elmscope.
	BuildDate = "unknown"
)

// Struct returns version information in a structured format.
type Struct struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("elmscope %s (commit: %s, date: %s)", Version, Commit, BuildDate)
}

// Get returns version information as a Struct.
func Get() Struct {
	return Struct{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Semver parses Version. Development builds report false.
func Semver() (*semver.Version, bool) {
	v, err := semver.NewVersion(Version)
	if err != nil {
		return nil, false
	}
	return v, true
}

// IsRelease reports whether this is a tagged build without a prerelease suffix.
func IsRelease() bool {
	v, ok := Semver()
	return ok && v.Prerelease() == ""
}
