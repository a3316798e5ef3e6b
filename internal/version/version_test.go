package version

import (
	"regexp"
	"runtime"
	"strings"
	"testing"
)

func TestVersionIsSemver(t *testing.T) {
	semverRe := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	if !semverRe.MatchString(Version) {
		t.Errorf("Version %q is not a valid semver string", Version)
	}
}

func withBuild(t *testing.T, ref, release string) {
	t.Helper()
	oldGitRef, oldRelease := GitRef, ReleaseBuild
	t.Cleanup(func() {
		GitRef = oldGitRef
		ReleaseBuild = oldRelease
	})
	GitRef = ref
	ReleaseBuild = release
}

func TestDisplayVersion(t *testing.T) {
	tests := []struct {
		ref, release, want string
	}{
		{"abc1234", "false", "v" + Version + "-abc1234"},
		{" abc1234 ", "no", "v" + Version + "-abc1234"},
		{"abc1234", "true", "v" + Version},
		{"abc1234", "YES", "v" + Version},
	}
	for _, tt := range tests {
		withBuild(t, tt.ref, tt.release)
		if got := DisplayVersion(); got != tt.want {
			t.Errorf("ref=%q release=%q: DisplayVersion() = %q, want %q", tt.ref, tt.release, got, tt.want)
		}
	}
}

func TestDisplayVersion_NoRef(t *testing.T) {
	withBuild(t, "", "false")
	got := DisplayVersion()
	if !strings.HasPrefix(got, "v"+Version+"-") || strings.HasSuffix(got, "-") {
		t.Fatalf("DisplayVersion() = %q", got)
	}
}

func TestLong(t *testing.T) {
	withBuild(t, "abc1234", "false")
	got := Long()
	if !strings.HasPrefix(got, "tlifarm v"+Version+"-abc1234") || !strings.Contains(got, runtime.GOOS) {
		t.Fatalf("Long() = %q", got)
	}
}
