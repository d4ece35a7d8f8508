// Package version carries build metadata injected via -ldflags.
package version

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns a compact human-readable version line.
func String() string {
	out := "caravel " + Version
	if Commit != "none" || Date != "unknown" {
		out += " (" + Commit + ", " + Date + ")"
	}
	return out
}
