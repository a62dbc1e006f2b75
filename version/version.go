// Package version holds build-time version information for dbcp.
//
// The values are set at build time using ldflags:
//
//	go build -ldflags "-X github.com/go-i2p/dbcp/version.Version=1.0.0 \
//	  -X github.com/go-i2p/dbcp/version.GitCommit=$(git rev-parse --short HEAD) \
//	  -X github.com/go-i2p/dbcp/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Development builds report "dev".
package version

import "runtime"

// Version is the release version.
var Version = "dev"

// GitCommit is the short commit hash the binary was built from.
var GitCommit = ""

// BuildTime is when the binary was built, in RFC 3339.
var BuildTime = ""

// Full returns the version with commit and build time when known.
func Full() string {
	v := Version
	if GitCommit != "" {
		v += "-" + GitCommit
	}
	if BuildTime != "" {
		v += " (" + BuildTime + ")"
	}
	return v
}

// Info is the version as reported by the -version flag and /health.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

// Get returns the current build's Info.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}
