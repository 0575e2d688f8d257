// Package version holds the CLI version string. Release builds set it via:
// go build -ldflags "-X gptcommit/cli/internal/version.Version=v1.0.0"
package version

// Version is the gptcommit version. Set at build time for releases.
var Version = "dev"

// Commit is the short git commit hash of the build, set via ldflags for dev builds.
var Commit = ""

// String returns the version for --version: "dev (abc1234)" for dev builds
// with Commit set, otherwise Version.
func String() string {
	if Version != "dev" || Commit == "" {
		return Version
	}
	return Version + " (" + Commit + ")"
}
