package version

// Version is the current version of Pairline.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/BioHazard786/Pairline/internal/version.Version=v1.0.0'"
var Version = "dev"
