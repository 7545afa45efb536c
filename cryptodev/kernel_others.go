//go:build !linux

package cryptodev

import (
	"runtime"

	"github.com/cockroachdb/errors"
)

// errUnimplemented is returned on platforms without cryptodev support
var errUnimplemented = errors.Newf("cryptodev: /dev/crypto is not implemented on %s/%s",
	runtime.GOOS, runtime.GOARCH)

func openKernel(_ string) (Facility, error) {
	return nil, errUnimplemented
}
