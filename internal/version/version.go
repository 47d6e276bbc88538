// Package version carries build-time identification for the relaykit-echo
// binary. It has no bearing on the wire protocol version in wire.Version,
// a fixed value stamped on every frame independently of how the binary
// was built.
package version

// Version and Commit are set at build time via:
//
//	go build -ldflags "-X .../internal/version.Version=0.1.0 -X .../internal/version.Commit=abc123"
var (
	Version = "dev"
	Commit  = "dev"
)
