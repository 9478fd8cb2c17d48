// Package version holds build information for ctxlink.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Overridden at build time:
// go build -ldflags "-X ctxlink/internal/version.Version=0.3.0 -X ctxlink/internal/version.Commit=abc123"
var (
	Version   = "0.1.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// readBuildInfo is replaced in tests
var readBuildInfo = debug.ReadBuildInfo

// revision returns Commit, or the VCS revision embedded by the go tool
// when no commit was injected.
func revision() string {
	if Commit != "unknown" {
		return Commit
	}
	info, ok := readBuildInfo()
	if !ok {
		return Commit
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return s.Value
		}
	}
	return Commit
}

// Info returns the version with a short commit, e.g. "0.1.0 (1a2b3c4)"
func Info() string {
	if c := revision(); c != "unknown" && len(c) > 7 {
		return Version + " (" + c[:7] + ")"
	}
	return Version
}

// Full returns multi-line version information
func Full() string {
	return fmt.Sprintf("ctxlink version %s\nCommit: %s\nBuilt: %s\nGo: %s %s/%s",
		Version, revision(), BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
