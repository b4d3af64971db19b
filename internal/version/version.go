// Package version carries build metadata injected via ldflags.
package version

var (
	// Version is the semantic version or "dev" for local builds.
	Version = "dev"
	// Commit is the short git hash.
	Commit = "none"
	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the full version line.
func String() string {
	return Version + " (" + Commit + ", " + Date + ")"
}
