// Package version holds build-time version info injected via ldflags.
//
// Set at compile time:
//
//	go build -ldflags "-X github.com/NicolasHaas/gomsg/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/gomsg/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/gomsg/pkg/version.date=2026-01-01"
package version

var (
	tag    = ""
	commit = "unknown"
	date   = "unknown"
)

// String returns the tag, the commit, or "dev" for local builds.
func String() string {
	switch {
	case tag != "":
		return tag
	case commit != "unknown":
		return commit
	default:
		return "dev"
	}
}

// Full returns "tag (commit) built date" or a sensible fallback.
func Full() string {
	switch {
	case tag != "":
		return tag + " (" + commit + ") built " + date
	case commit != "unknown":
		return commit + " built " + date
	default:
		return "dev"
	}
}
