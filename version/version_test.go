package version

import (
	"runtime"
	"testing"
)

// setBuild overrides the ldflags variables for the duration of a test.
func setBuild(t *testing.T, v, commit, built string) {
	t.Helper()
	origVersion, origCommit, origBuildTime := Version, GitCommit, BuildTime
	t.Cleanup(func() {
		Version, GitCommit, BuildTime = origVersion, origCommit, origBuildTime
	})
	Version, GitCommit, BuildTime = v, commit, built
}

func TestVersionNotEmpty(t *testing.T) {
	// May be overridden by ldflags in CI.
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestFull(t *testing.T) {
	tests := []struct {
		name    string
		version string
		commit  string
		built   string
		want    string
	}{
		{"version only", "1.0.0", "", "", "1.0.0"},
		{"with commit", "1.0.0", "abc1234", "", "1.0.0-abc1234"},
		{"with build time", "1.0.0", "", "2026-01-29T12:00:00Z", "1.0.0 (2026-01-29T12:00:00Z)"},
		{"complete", "1.0.0", "abc1234", "2026-01-29T12:00:00Z", "1.0.0-abc1234 (2026-01-29T12:00:00Z)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBuild(t, tt.version, tt.commit, tt.built)
			if got := Full(); got != tt.want {
				t.Errorf("Full() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGet(t *testing.T) {
	setBuild(t, "2.1.0", "deadbee", "")

	info := Get()
	if info.Version != "2.1.0" || info.GitCommit != "deadbee" {
		t.Errorf("Get() = %+v", info)
	}
	if info.BuildTime != "" {
		t.Errorf("BuildTime = %q, want empty", info.BuildTime)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
}
