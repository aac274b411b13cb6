// Package version reports the build version of the rshell binary.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/rshell"

// buildVersion is set via -ldflags "-X pkt.systems/rshell/internal/version.buildVersion=...".
var buildVersion = ""

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Info is the version summary printed by `rshell version` and sent in Meta.
type Info struct {
	Version   string `json:"version"`
	Module    string `json:"module"`
	Revision  string `json:"revision,omitempty"`
	GoVersion string `json:"go_version"`
}

// Current returns the best available version string (without dirty suffix).
func Current() string {
	return current(false)
}

// CurrentWithDirty returns the best available version string, keeping the
// +dirty suffix of modified checkouts.
func CurrentWithDirty() string {
	return current(true)
}

// Module returns the main module path from build info when available.
func Module() string {
	if info, ok := readBuildInfo(); ok {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			return path
		}
	}
	return defaultModule
}

// Describe collects Info for the running binary.
func Describe() Info {
	out := Info{Version: CurrentWithDirty(), Module: Module(), GoVersion: runtime.Version()}
	if info, ok := readBuildInfo(); ok {
		out.Revision = setting(info, "vcs.revision")
	}
	return out
}

func current(includeDirty bool) string {
	if strings.TrimSpace(buildVersion) != "" {
		return normalize(buildVersion, includeDirty)
	}
	if info, ok := readBuildInfo(); ok {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return normalize(v, includeDirty)
		}
		if v := pseudoVersion(info, includeDirty); v != "" {
			return v
		}
	}
	return "v0.0.0-unknown"
}

func normalize(v string, includeDirty bool) string {
	value := strings.TrimSpace(v)
	if includeDirty {
		return value
	}
	return strings.TrimSuffix(value, "+dirty")
}

func setting(info *debug.BuildInfo, key string) string {
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

// pseudoVersion builds a Go style pseudo version from vcs settings.
func pseudoVersion(info *debug.BuildInfo, includeDirty bool) string {
	if info == nil {
		return ""
	}
	revision := setting(info, "vcs.revision")
	stamp := setting(info, "vcs.time")
	if revision == "" || stamp == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return ""
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	ver := "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + revision
	if includeDirty && setting(info, "vcs.modified") == "true" {
		ver += "+dirty"
	}
	return ver
}
