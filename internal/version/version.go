// Package version holds build identification set via -ldflags at release
// time.
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)
