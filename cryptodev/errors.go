package cryptodev

import "github.com/cockroachdb/errors"

// Error taxonomy of the client. Errors returned by the client are marked
// with one of these, test with errors.Is.
var (
	// ErrDeviceUnavailable is returned when the facility cannot be opened
	ErrDeviceUnavailable = errors.New("cryptodev: device unavailable")
	// ErrSessionCreationFailed is returned when the facility rejects a session
	ErrSessionCreationFailed = errors.New("cryptodev: session creation failed")
	// ErrAlignmentViolation is returned when a buffer does not satisfy the alignment mask
	ErrAlignmentViolation = errors.New("cryptodev: buffer is not aligned")
	// ErrOperationFailed is returned when a hash request is rejected
	ErrOperationFailed = errors.New("cryptodev: operation failed")
	// ErrSessionCloseFailed is returned when the facility fails to release a session.
	// It is not fatal: the session is closed regardless.
	ErrSessionCloseFailed = errors.New("cryptodev: session close failed")
	// ErrCloseFailed is returned when the device cannot be released
	ErrCloseFailed = errors.New("cryptodev: close failed")
)

// Lifecycle and argument errors, each marked with one of the taxonomy errors above
var (
	ErrDeviceClosed         = errors.New("cryptodev: device is closed")
	ErrSessionClosed        = errors.New("cryptodev: session is closed")
	ErrSessionsActive       = errors.New("cryptodev: sessions are still open")
	ErrShortBuffer          = errors.New("cryptodev: digest buffer is too small")
	ErrInvalidKey           = errors.New("cryptodev: invalid key")
	ErrUnsupportedAlgorithm = errors.New("cryptodev: unsupported algorithm")
)
