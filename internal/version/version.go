// Package version carries build metadata stamped in with -ldflags -X.
package version

import "fmt"

// Set at link time, e.g.
//
//	-X github.com/banshee-data/coverage.report/internal/version.Version=v0.3.0
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// Banner renders the version block printed by `coverage --version`.
func Banner(name string) string {
	return fmt.Sprintf("%s %s\ncommit: %s\nbuilt: %s\n", name, Version, GitSHA, BuildTime)
}
