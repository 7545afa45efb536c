package cryptodev_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xcryptodev/cryptodev/softdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const abcSHA256 = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

func newSoftDevice(opts ...softdev.Option) (*cryptodev.Device, *softdev.Facility) {
	f := softdev.New(opts...)
	return cryptodev.NewDevice("soft:", f), f
}

func TestOpen(t *testing.T) {
	d, err := cryptodev.Open("soft:")
	require.NoError(t, err)
	assert.Equal(t, "soft:", d.Path())
	require.NoError(t, d.Close())
	// second close is no-op
	require.NoError(t, d.Close())

	d, err = cryptodev.Open("soft:alignmask=15")
	require.NoError(t, err)
	s, err := d.OpenSession(cryptodev.SHA256, nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(15), s.Alignmask())
	require.NoError(t, s.Close())
	require.NoError(t, d.Close())

	for _, path := range []string{
		"unknown:location",
		"soft:alignmask=zz",
		"soft:alignmask=12",
		"soft:color=red",
		"/dev/cryptodev-does-not-exist",
	} {
		_, err = cryptodev.Open(path)
		require.Error(t, err, path)
		assert.True(t, errors.Is(err, cryptodev.ErrDeviceUnavailable), "%s: %v", path, err)
	}
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, cryptodev.Registered(), softdev.Scheme)

	err := cryptodev.Register(softdev.Scheme, softdev.Load)
	assert.EqualError(t, err, "already registered: soft")

	_, err = cryptodev.Unregister("none")
	assert.EqualError(t, err, "not registered: none")

	require.NoError(t, cryptodev.Register("test", softdev.Load))
	d, err := cryptodev.Open("test:")
	require.NoError(t, err)
	require.NoError(t, d.Close())

	loader, err := cryptodev.Unregister("test")
	require.NoError(t, err)
	assert.NotNil(t, loader)
	assert.NotContains(t, cryptodev.Registered(), "test")
}

func TestHashKnownAnswer(t *testing.T) {
	d, _ := newSoftDevice()

	s, err := d.OpenSession(cryptodev.PlainDigest, nil)
	require.NoError(t, err)
	assert.Equal(t, cryptodev.SHA256, s.Algorithm())
	assert.Equal(t, 32, s.DigestSize())
	assert.Equal(t, "sha256", s.Info().Name)
	assert.Equal(t, "sha256-softdev", s.Info().Driver)
	assert.False(t, s.Info().Hardware)

	out := make([]byte, 32)
	require.NoError(t, s.Hash([]byte("abc"), out))
	assert.Equal(t, abcSHA256, hex.EncodeToString(out))

	require.NoError(t, s.Close())
	require.NoError(t, d.Close())
}

func TestHashDeterministic(t *testing.T) {
	d, _ := newSoftDevice()
	s, err := d.OpenSession(cryptodev.SHA256, nil)
	require.NoError(t, err)
	defer d.Close()
	defer s.Close()

	inputs := [][]byte{
		nil,
		[]byte("a"),
		bytes.Repeat([]byte("The quick brown fox jumps over the lazy dog"), 3),
		bytes.Repeat([]byte{0xff}, 4096),
	}
	for _, in := range inputs {
		first, err := s.Sum(in)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			again, err := s.Sum(in)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
		exp := sha256.Sum256(in)
		assert.Equal(t, exp[:], first)
	}
}

func TestHashWritesDigestSizeOnly(t *testing.T) {
	d, _ := newSoftDevice()
	s, err := d.OpenSession(cryptodev.SHA256, nil)
	require.NoError(t, err)
	defer d.Close()
	defer s.Close()

	out := bytes.Repeat([]byte{0xaa}, 48)
	require.NoError(t, s.Hash([]byte("abc"), out))
	assert.Equal(t, abcSHA256, hex.EncodeToString(out[:32]))
	assert.Equal(t, bytes.Repeat([]byte{0xaa}, 16), out[32:])

	err = s.Hash([]byte("abc"), make([]byte, 31))
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrShortBuffer))
	assert.True(t, errors.Is(err, cryptodev.ErrOperationFailed))
}

func TestHashAlignment(t *testing.T) {
	d, f := newSoftDevice(softdev.WithAlignmask(15))
	s, err := d.OpenSession(cryptodev.SHA256, nil)
	require.NoError(t, err)
	defer d.Close()
	defer s.Close()

	in := cryptodev.AlignedBuffer(65, 15)
	copy(in, "abc")
	out := cryptodev.AlignedBuffer(33, 15)

	require.NoError(t, s.Hash(in[:3], out[:32]))
	assert.Equal(t, abcSHA256, hex.EncodeToString(out[:32]))
	assert.Equal(t, uint64(1), f.Stats().OpsPerformed)

	// unaligned input
	err = s.Hash(in[1:4], out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrAlignmentViolation))
	assert.Contains(t, err.Error(), "input")

	// unaligned digest
	err = s.Hash(in[:3], out[1:])
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrAlignmentViolation))
	assert.Contains(t, err.Error(), "digest")

	// the facility was not invoked
	assert.Equal(t, uint64(1), f.Stats().OpsPerformed)
	assert.Equal(t, uint64(0), f.Stats().OpsErrors)

	// Sum allocates aligned digest
	digest, err := s.Sum(in[:3])
	require.NoError(t, err)
	assert.True(t, cryptodev.IsAligned(digest, 15))
	assert.Equal(t, abcSHA256, hex.EncodeToString(digest))
}

func TestKeyedMAC(t *testing.T) {
	d, _ := newSoftDevice()
	defer d.Close()

	key := []byte("Jefe")
	alg := cryptodev.AlgorithmFor(key)
	require.Equal(t, cryptodev.KeyedMAC, alg)

	s, err := d.OpenSession(alg, key)
	require.NoError(t, err)
	defer s.Close()

	mac, err := s.Sum([]byte("what do ya want for nothing?"))
	require.NoError(t, err)
	assert.Equal(t, "effcdf6ae5eb2fa2d27416d5f184df9c259a7c79", hex.EncodeToString(mac))

	// the key is copied by the facility
	key[0] = 'X'
	mac, err = s.Sum([]byte("what do ya want for nothing?"))
	require.NoError(t, err)
	assert.Equal(t, "effcdf6ae5eb2fa2d27416d5f184df9c259a7c79", hex.EncodeToString(mac))
}

func TestOpenSessionErrors(t *testing.T) {
	d, f := newSoftDevice()

	_, err := d.OpenSession(cryptodev.HMACSHA256, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrInvalidKey))
	assert.True(t, errors.Is(err, cryptodev.ErrSessionCreationFailed))

	_, err = d.OpenSession(cryptodev.SHA256, []byte("key"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrInvalidKey))

	_, err = d.OpenSession(cryptodev.Algorithm(42), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrUnsupportedAlgorithm))
	assert.True(t, errors.Is(err, cryptodev.ErrSessionCreationFailed))

	rejected := errors.New("resource exhausted")
	f.SetFault(softdev.VerbNewSession, rejected)
	_, err = d.OpenSession(cryptodev.SHA256, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrSessionCreationFailed))
	assert.True(t, errors.Is(err, rejected))
	f.SetFault(softdev.VerbNewSession, nil)

	assert.Equal(t, 0, d.ActiveSessions())
	require.NoError(t, d.Close())

	_, err = d.OpenSession(cryptodev.SHA256, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrDeviceClosed))
	assert.True(t, errors.Is(err, cryptodev.ErrSessionCreationFailed))
}

func TestHashWithoutSession(t *testing.T) {
	d, f := newSoftDevice()
	defer d.Close()

	f.SetFault(softdev.VerbNewSession, errors.New("rejected"))
	s, err := d.OpenSession(cryptodev.SHA256, nil)
	require.Error(t, err)
	require.Nil(t, s)

	out := make([]byte, 32)
	err = s.Hash([]byte("abc"), out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrOperationFailed))
	assert.Equal(t, make([]byte, 32), out)

	_, err = s.Sum([]byte("abc"))
	assert.True(t, errors.Is(err, cryptodev.ErrOperationFailed))
	assert.NoError(t, s.Close())

	var zero cryptodev.Session
	err = zero.Hash([]byte("abc"), out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrOperationFailed))
	assert.NoError(t, zero.Close())

	assert.Equal(t, softdev.Stats{}, f.Stats())
}

func TestHashOperationFailed(t *testing.T) {
	d, f := newSoftDevice()
	s, err := d.OpenSession(cryptodev.SHA1, nil)
	require.NoError(t, err)

	rejected := errors.New("EINVAL")
	f.SetFault(softdev.VerbCrypt, rejected)
	err = s.Hash([]byte("abc"), make([]byte, 20))
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrOperationFailed))
	assert.True(t, errors.Is(err, rejected))
	assert.Equal(t, uint64(1), f.Stats().OpsErrors)
	f.SetFault(softdev.VerbCrypt, nil)

	require.NoError(t, s.Close())
	require.NoError(t, d.Close())
}

func TestSessionLifecycle(t *testing.T) {
	d, f := newSoftDevice()

	s, err := d.OpenSession(cryptodev.SHA256, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, d.ActiveSessions())
	assert.False(t, s.Closed())

	// teardown order: the session must be closed before the device
	err = d.Close()
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrSessionsActive))
	assert.True(t, errors.Is(err, cryptodev.ErrCloseFailed))
	assert.False(t, f.Closed())

	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
	assert.Equal(t, 0, d.ActiveSessions())
	assert.Equal(t, 0, f.OpenSessions())
	// second close is no-op
	require.NoError(t, s.Close())
	assert.Equal(t, uint64(1), f.Stats().SessionsFreed)

	out := make([]byte, 32)
	err = s.Hash([]byte("abc"), out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrSessionClosed))
	assert.True(t, errors.Is(err, cryptodev.ErrOperationFailed))
	assert.Equal(t, make([]byte, 32), out)

	_, err = s.Sum([]byte("abc"))
	assert.True(t, errors.Is(err, cryptodev.ErrSessionClosed))

	require.NoError(t, d.Close())
	assert.True(t, f.Closed())
}

func TestSessionCloseFailed(t *testing.T) {
	d, f := newSoftDevice()
	s, err := d.OpenSession(cryptodev.SHA256, nil)
	require.NoError(t, err)

	f.SetFault(softdev.VerbFreeSession, errors.New("EBUSY"))
	err = s.Close()
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrSessionCloseFailed))

	// the session is closed regardless
	assert.True(t, s.Closed())
	assert.Equal(t, 0, d.ActiveSessions())
	require.NoError(t, d.Close())
}

func TestDeviceCloseFailed(t *testing.T) {
	d, f := newSoftDevice()

	f.SetFault(softdev.VerbClose, errors.New("EIO"))
	err := d.Close()
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptodev.ErrCloseFailed))

	// no reopening after close
	_, err = d.OpenSession(cryptodev.SHA256, nil)
	assert.True(t, errors.Is(err, cryptodev.ErrDeviceClosed))
}
