package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Protocol is the discovery/framing protocol revision carried in every
// transport frame. Peers announcing a different revision are ignored.
const Protocol = 1

// String formats the build identity for logs and the calibctl version command.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
