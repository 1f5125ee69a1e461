// Package version reports the build version of cidl.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func init() {
	// Fall back to module info for "go install ...@version" builds.
	if Version != "dev" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	fromBuildInfo(info)
}

func fromBuildInfo(info *debug.BuildInfo) {
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			Commit = setting.Value
			if len(Commit) > 7 {
				Commit = Commit[:7]
			}
		case "vcs.time":
			Date = setting.Value
		}
	}
}

// Info returns formatted version information
func Info() string {
	return fmt.Sprintf("cidl %s (commit: %s, built: %s) %s",
		Version, Commit, Date, runtime.Version())
}

// Short returns just the version string
func Short() string {
	return Version
}
