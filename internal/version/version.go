// Package version reports the build version of the tools
package version

import "fmt"

// set by the linker:
// -ldflags "-X github.com/effective-security/xcryptodev/internal/version.Commit=..."
var (
	Commit = "0"
	Build  = "dev"
)

// Info describes the build
type Info struct {
	Build  string
	Commit string
}

// Current returns the version of the build
func Current() Info {
	return Info{
		Build:  Build,
		Commit: Commit,
	}
}

// String returns "build-commit"
func (v Info) String() string {
	return fmt.Sprintf("%s-%s", v.Build, v.Commit)
}
