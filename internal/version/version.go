package version

// Version is set via build-time ldflags:
// go build -ldflags "-X github.com/YickelFuboo/OpenDeepWiki/internal/version.Version=v1.2.0".
var Version = "unknown"

// Build metadata, also ldflags-set.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)
