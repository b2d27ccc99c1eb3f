// Package version reports the build of the iceflow binaries.
//
// Values are stamped at link time, falling back to the VCS data the Go
// toolchain embeds:
//
//	go build -ldflags "-X github.com/kbukum/iceflow/version.Version=1.2.0" ./cmd/...
package version
