// Package version carries build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/pysugar/go-sonar/internal/version.Version=v0.1.0"
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String formats the build metadata for --version output.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime)
}
