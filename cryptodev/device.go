package cryptodev

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/metricskey"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcryptodev", "cryptodev")

// DefaultPath is the location of the cryptodev-linux device
const DefaultPath = "/dev/crypto"

// Device is an open channel to a crypto facility
type Device struct {
	path     string
	f        Facility
	sessions map[uint32]*Session
	closed   bool
}

// Open opens the crypto facility at path.
//
// Absolute paths, and the empty path meaning DefaultPath, are opened as
// a cryptodev device: read-write and marked close-on-exec.
// Paths of the form "<scheme>:<location>" are opened by the Loader
// registered for the scheme.
func Open(path string) (*Device, error) {
	if path == "" {
		path = DefaultPath
	}

	var f Facility
	var err error
	if scheme, location, ok := splitScheme(path); ok {
		loader, registered := getLoader(scheme)
		if !registered {
			return nil, errors.Mark(errors.Errorf("facility not registered: %s", scheme), ErrDeviceUnavailable)
		}
		f, err = loader(location)
	} else {
		f, err = openKernel(path)
	}
	if err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "open %s", path), ErrDeviceUnavailable)
	}

	logger.KV(xlog.DEBUG, "status", "opened", "device", path)
	return NewDevice(path, f), nil
}

// NewDevice returns Device for an open facility
func NewDevice(path string, f Facility) *Device {
	return &Device{
		path:     path,
		f:        f,
		sessions: make(map[uint32]*Session),
	}
}

// Path returns the location the device was opened from
func (d *Device) Path() string {
	return d.path
}

// ActiveSessions returns the number of sessions that are not closed yet
func (d *Device) ActiveSessions() int {
	return len(d.sessions)
}

// OpenSession creates a session for the algorithm.
// Keyed algorithms require a key, unkeyed ones must not be given one.
func (d *Device) OpenSession(alg Algorithm, key []byte) (*Session, error) {
	if d.closed {
		return nil, errors.Mark(ErrDeviceClosed, ErrSessionCreationFailed)
	}
	if !alg.Supported() {
		return nil, errors.Mark(errors.WithMessagef(ErrUnsupportedAlgorithm, "id=%d", uint32(alg)), ErrSessionCreationFailed)
	}
	if alg.Keyed() && len(key) == 0 {
		return nil, errors.Mark(errors.WithMessagef(ErrInvalidKey, "%s requires a key", alg), ErrSessionCreationFailed)
	}
	if !alg.Keyed() && len(key) > 0 {
		return nil, errors.Mark(errors.WithMessagef(ErrInvalidKey, "%s does not use a key", alg), ErrSessionCreationFailed)
	}

	defer metricskey.PerfSessionOperation.MeasureSince(time.Now(), alg.String(), "open")

	info, err := d.f.NewSession(&SessionRequest{
		Algorithm: alg,
		Key:       key,
	})
	if err != nil {
		return nil, errors.Mark(errors.WithMessagef(err, "create %s session", alg), ErrSessionCreationFailed)
	}

	s := &Session{
		dev:  d,
		alg:  alg,
		info: *info,
	}
	d.sessions[info.ID] = s

	logger.KV(xlog.DEBUG,
		"status", "session_opened",
		"session", info.ID,
		"alg", alg.String(),
		"driver", info.Driver,
		"alignmask", info.Alignmask)

	return s, nil
}

// Close releases the device.
// All sessions created on the device must be closed first.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	if n := len(d.sessions); n > 0 {
		return errors.Mark(errors.WithMessagef(ErrSessionsActive, "%d session(s)", n), ErrCloseFailed)
	}

	d.closed = true
	if err := d.f.Close(); err != nil {
		return errors.Mark(errors.WithMessagef(err, "close %s", d.path), ErrCloseFailed)
	}
	logger.KV(xlog.DEBUG, "status", "closed", "device", d.path)
	return nil
}

func (d *Device) release(s *Session) {
	delete(d.sessions, s.info.ID)
}
