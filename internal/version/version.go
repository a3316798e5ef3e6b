// Package version reports the tlifarm build.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version is the current version of tlifarm.
const Version = "0.4.1"

// GitRef is set with -ldflags -X for dev builds. When unset, the VCS
// revision stamped by the Go toolchain is used.
var GitRef = ""

// ReleaseBuild is set with -ldflags -X. A release build shows only the
// semantic version.
var ReleaseBuild = "false"

// DisplayVersion returns v<semver> for releases and v<semver>-<ref>
// otherwise.
func DisplayVersion() string {
	if isReleaseBuild() {
		return "v" + Version
	}
	return "v" + Version + "-" + ref()
}

// Long returns the version line printed by `tlifarm version`.
func Long() string {
	return fmt.Sprintf("tlifarm %s (%s, %s/%s)", DisplayVersion(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func isReleaseBuild() bool {
	switch strings.ToLower(strings.TrimSpace(ReleaseBuild)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func ref() string {
	if r := strings.TrimSpace(GitRef); r != "" {
		return r
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				return s.Value[:7]
			}
		}
	}
	return "dev"
}
