// Package version carries build metadata for the agilesolo binary,
// printed by the version command and stamped via -ldflags.
package version

var (
	// Version is the semantic version of the agilesolo binary.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)
