package version

import (
	"runtime/debug"
	"strings"
)

// These variables are intended to be populated at build time via -ldflags.
// For example:
//   -X github.com/tis24dev/cpanelsave/internal/version.Version=v0.9.0
//   -X github.com/tis24dev/cpanelsave/internal/version.Commit=abcdef123
//   -X github.com/tis24dev/cpanelsave/internal/version.Date=2025-01-01T12:34:56Z
var (
	// Version holds the semantic version of the binary.
	// Defaults to a development placeholder when not set by the build system.
	Version = "0.0.0-dev"

	// Commit holds the VCS commit hash used to build the binary (optional).
	Commit = ""

	// Date holds the build timestamp (optional).
	Date = ""
)

var readBuildInfo = debug.ReadBuildInfo

// String returns the effective version string used across the application.
// Preference order:
//   1. Value injected into Version via ldflags.
//   2. Main module version from the embedded build info (if available and not "(devel)").
//   3. Fallback development placeholder.
//
// The returned version is normalized by stripping any leading "v" prefix.
func String() string {
	v := strings.TrimSpace(Version)

	if v == "" {
		if info, ok := readBuildInfo(); ok && info != nil {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				v = mv
			}
		}
	}

	if v == "" {
		v = "0.0.0-dev"
	}

	// Normalize common "vX.Y.Z" tag format.
	v = strings.TrimPrefix(v, "v")

	return v
}


// Full returns String followed by the commit and build date when known,
// e.g. "1.2.0 (commit abc1234, built 2025-01-01T12:34:56Z)".
func Full() string {
	var extra []string
	if c := strings.TrimSpace(Commit); c != "" {
		if len(c) > 7 {
			c = c[:7]
		}
		extra = append(extra, "commit "+c)
	}
	if d := strings.TrimSpace(Date); d != "" {
		extra = append(extra, "built "+d)
	}
	if len(extra) == 0 {
		return String()
	}
	return String() + " (" + strings.Join(extra, ", ") + ")"
}
