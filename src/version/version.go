package version

// Flag contains extra info about the version. It is helpful for tracking
// versions while developing. It is empty on release builds.
const Flag = ""

var (
	// Version is The full version string
	Version = "0.1.0"

	// GitCommit is set with --ldflags "-X github.com/mosaicnetworks/ursula/src/version.GitCommit=$(git rev-parse HEAD)"
	GitCommit string
)

func init() {
	Version = fullVersion(Version, Flag, GitCommit)
}

func fullVersion(version, flag, commit string) string {
	if flag != "" {
		version += "-" + flag
	}

	if len(commit) >= 8 {
		version += "-" + commit[:8]
	}

	return version
}
