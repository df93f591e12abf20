// Package version provides the skillpilot CLI's version string.
package version

import (
	_ "embed"
	"fmt"
	"runtime/debug"
	"strings"
)

var (
	//go:embed VERSION
	baseVersion string

	// buildNumber is filled in at build time via
	// "-X github.com/qfliuyang/skillpilot/version.buildNumber=${CI_BUILD_NUMBER}"
	buildNumber = "x"
)

// Version returns the release version, e.g. "0.1.0".
func Version() string {
	return strings.TrimSpace(baseVersion)
}

// BuildNumber returns the CI build number that produced this binary, or
// "x" for a locally built binary.
func BuildNumber() string {
	return buildNumber
}

func commitInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "x"
	}
	dirty := ".dirty"
	var commit string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
		case "vcs.modified":
			if setting.Value == "false" {
				dirty = ""
			}
		}
	}
	if commit == "" {
		return "x"
	}
	return commit + dirty
}

// FullVersion includes the build number and commit hash alongside the
// release version.
func FullVersion() string {
	return fmt.Sprintf("%s+%s.%s", Version(), BuildNumber(), commitInfo())
}
