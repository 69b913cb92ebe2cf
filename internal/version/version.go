// Package version provides build-time version information for airwav.
//
// Version, Commit, Date, Branch, and TreeState are injected at build time
// via ldflags:
//
//	go build -ldflags "-X github.com/airwav/airwav/internal/version.Version=x.y.z \
//	                   -X github.com/airwav/airwav/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/airwav/airwav/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ) \
//	                   -X github.com/airwav/airwav/internal/version.Branch=$(git rev-parse --abbrev-ref HEAD) \
//	                   -X github.com/airwav/airwav/internal/version.TreeState=clean"
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version following SemVer 2.0.0.
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"

	// Branch is the git branch the build was made from.
	Branch = "unknown"

	// TreeState is "clean" or "dirty" depending on uncommitted changes.
	TreeState = "unknown"
)

// GoVersion is the Go runtime version.
var GoVersion = runtime.Version()

// ApplicationName is the canonical name of this application.
const ApplicationName = "airwav"

// Info contains structured version information.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	CommitSHA string `json:"commit_sha" yaml:"commit_sha"`
	Date      string `json:"date" yaml:"date"`
	Branch    string `json:"branch" yaml:"branch"`
	TreeState string `json:"tree_state" yaml:"tree_state"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
	OS        string `json:"os" yaml:"os"`
	Arch      string `json:"arch" yaml:"arch"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		CommitSHA: shortSHA(),
		Date:      Date,
		Branch:    Branch,
		TreeState: TreeState,
		GoVersion: GoVersion,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// shortSHA returns the first 8 characters of the commit SHA.
func shortSHA() string {
	if Commit != "unknown" && len(Commit) >= 8 {
		return Commit[:8]
	}
	return Commit
}

// displayCommit returns the short SHA with a dirty-tree marker appended.
func displayCommit() string {
	sha := shortSHA()
	if TreeState == "dirty" {
		sha += "*"
	}
	return sha
}

// String returns a human-readable version string.
func String() string {
	info := GetInfo()
	if Commit != "unknown" && len(Commit) >= 8 {
		var b strings.Builder
		fmt.Fprintf(&b, "%s version %s (commit: %s, built: %s",
			ApplicationName, info.Version, displayCommit(), info.Date)
		if Branch != "unknown" && Branch != "" {
			fmt.Fprintf(&b, ", branch: %s", Branch)
		}
		fmt.Fprintf(&b, ", %s, %s)", info.GoVersion, info.Platform)
		return b.String()
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short returns a short version string suitable for CLI --version output.
// The application name is omitted because Cobra prepends it.
func Short() string {
	if Commit != "unknown" && len(Commit) >= 8 {
		return fmt.Sprintf("%s (%s)", Version, displayCommit())
	}
	return Version
}

// JSON returns the version information as an indented JSON document.
func JSON() string {
	data, err := json.MarshalIndent(GetInfo(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// UserAgent returns a User-Agent string for HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", ApplicationName, Version)
}

// IsSnapshot returns true if this is a snapshot/prerelease build.
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}

// IsRelease returns true if this is a tagged release build.
func IsRelease() bool {
	return !IsSnapshot() && Version != "dev"
}
