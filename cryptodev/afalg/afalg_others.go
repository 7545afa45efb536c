//go:build !linux

package afalg

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
)

// Load is the cryptodev.Loader for the facility
func Load(_ string) (cryptodev.Facility, error) {
	return nil, errors.New("afalg: not implemented on this platform")
}
