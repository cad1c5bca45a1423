// Package version exposes build metadata injected at link time.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/NERVsystems/overpassmap/pkg/version.BuildVersion=..."
var (
	BuildVersion = "dev"
	BuildCommit  = ""
	BuildDate    = ""
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if BuildCommit == "" {
				BuildCommit = s.Value
			}
		case "vcs.time":
			if BuildDate == "" {
				BuildDate = s.Value
			}
		}
	}
}

// String returns a one-line description of the build.
func String() string {
	s := "overpassmap " + BuildVersion
	if BuildCommit != "" {
		commit := BuildCommit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		s += fmt.Sprintf(" (%s)", commit)
	}
	return s + " " + runtime.Version()
}

// Info returns the build metadata as a flat map.
func Info() map[string]string {
	return map[string]string{
		"version":    BuildVersion,
		"go_version": runtime.Version(),
		"commit":     BuildCommit,
		"build_date": BuildDate,
	}
}
