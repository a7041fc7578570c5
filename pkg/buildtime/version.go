// Package buildtime tells which build of anawrap is running.
package buildtime

import (
	"runtime/debug"
)

// Set with -ldflags "-X github.com/opst/anawrap/pkg/buildtime.version=..."
var (
	version  = ""
	revision = ""
)

// VERSION is the version given at build time, or the module version.
func VERSION() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// GIT_REVISION is the commit this binary is built from, if known.
func GIT_REVISION() string {
	if revision != "" {
		return revision
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return "unknown"
}

func VersionString() string {
	return VERSION() + " (commit: " + GIT_REVISION() + ")"
}
