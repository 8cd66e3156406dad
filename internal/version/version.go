// Package version reports the kitelink build version.
package version

import (
	"runtime/debug"
	"strings"
	"time"
)

const (
	defaultModule = "pkt.systems/kitelink"
	unknown       = "v0.0.0-unknown"
)

// buildVersion is set via -ldflags "-X pkt.systems/kitelink/internal/version.buildVersion=...".
var buildVersion = ""

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Current returns the best available version string without a dirty suffix.
// It is reported to analytics as the plugin version.
func Current() string {
	return resolve(false)
}

// CurrentWithDirty is Current with the dirty suffix kept.
func CurrentWithDirty() string {
	return resolve(true)
}

// UserAgent is sent on requests to the daemon and the analytics endpoint.
func UserAgent() string {
	return "kitelink/" + Current()
}

// Module returns the module path from build info when available.
func Module() string {
	if info, ok := readBuildInfo(); ok {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			return path
		}
	}
	return defaultModule
}

func resolve(includeDirty bool) string {
	v := strings.TrimSpace(buildVersion)
	if v == "" {
		info, ok := readBuildInfo()
		if !ok {
			return unknown
		}
		v = strings.TrimSpace(info.Main.Version)
		if v == "" || v == "(devel)" {
			v = pseudoVersion(info)
		}
	}
	if v == "" {
		return unknown
	}
	if !includeDirty {
		v = strings.TrimSuffix(v, "+dirty")
	}
	return v
}

// pseudoVersion derives a Go-style pseudo version from VCS build settings.
func pseudoVersion(info *debug.BuildInfo) string {
	if info == nil {
		return ""
	}
	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	revision, stamp := settings["vcs.revision"], settings["vcs.time"]
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
	v := "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + revision
	if settings["vcs.modified"] == "true" {
		v += "+dirty"
	}
	return v
}
