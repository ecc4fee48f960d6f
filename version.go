package ember

import "fmt"

// Version constants for this package, independent of any on-disk format
// version recorded in a datafile's meta-pages.
const (
	Major = 0
	Minor = 1
	Patch = 0
)

// BuildInfo describes how this binary of the engine was built. Exposed
// mainly so a host application can log it alongside its own version on
// startup.
type BuildInfo struct {
	Target   string
	Compiler string
}

// Version returns a short human-readable version string.
func Version() string {
	return fmt.Sprintf("ember v%d.%d.%d", Major, Minor, Patch)
}

// GetBuildInfo returns build information for diagnostics.
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Target:   "pure-go",
		Compiler: "gc",
	}
}
