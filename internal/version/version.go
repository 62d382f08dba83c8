package version

// Version is the current version of the discushy CLI.
// This value can be overridden at build time using:
//   go build -ldflags="-X 'github.com/BioHazard786/discushy/internal/version.Version=v1.0.0'"
var Version = "dev"

// UserAgent identifies the client towards the hub and the assistant backend.
func UserAgent() string {
	return "discushy-cli/" + Version
}
