// Package version holds build information injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version (set by build flags)
	Version = "dev"

	// GitCommit is the git commit hash (set by build flags)
	GitCommit = "unknown"

	// BuildDate is the build timestamp (set by build flags)
	BuildDate = "unknown"

	// GoVersion is the Go version used to build
	GoVersion = runtime.Version()
)

// Producer identifies this build in generated artifacts.
func Producer() string {
	if GitCommit == "unknown" {
		return "zoltan " + Version
	}
	return fmt.Sprintf("zoltan %s (%s)", Version, GitCommit)
}
