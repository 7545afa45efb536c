// Package cryptodev provides a session based hashing client for kernel
// crypto facilities such as the cryptodev-linux /dev/crypto device.
//
// The client exposes the small verb set of the facility:
//   - Open a Device (open the facility, mark it close-on-exec)
//   - OpenSession on the device for one digest or HMAC algorithm
//   - Hash an input buffer into a caller supplied digest buffer
//   - Close the session, then Close the device
//
// A Device may also be backed by any other Facility: facilities are
// registered by scheme with Register, and Open resolves paths of the form
// "<scheme>:<location>" through that registry. See the afalg, p11dev and
// softdev subpackages.
//
// The client is not safe for concurrent use. Sessions must be closed
// before the device they were created on.
package cryptodev
