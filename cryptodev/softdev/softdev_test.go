package softdev

import (
	"encoding/hex"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	f, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint16(0), f.(*Facility).alignmask)

	f, err = Load("alignmask=0x3f")
	require.NoError(t, err)
	assert.Equal(t, uint16(63), f.(*Facility).alignmask)

	f, err = Load(" alignmask = 15 ,")
	require.NoError(t, err)
	assert.Equal(t, uint16(15), f.(*Facility).alignmask)

	_, err = Load("alignmask=70000")
	assert.Error(t, err)
	_, err = Load("alignmask=10")
	assert.EqualError(t, err, `alignmask must be 2^n-1: "10"`)
	_, err = Load("mode=fast")
	assert.EqualError(t, err, `unknown attribute: "mode"`)
}

func TestParseAttributes(t *testing.T) {
	assert.Empty(t, parseAttributes(""))
	assert.Equal(t, map[string]string{"a": "1", "b": ""}, parseAttributes("a=1, b"))
}

func TestSessions(t *testing.T) {
	f := New(WithAlignmask(3))

	info, err := f.NewSession(&cryptodev.SessionRequest{Algorithm: cryptodev.SHA1})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), info.ID)
	assert.Equal(t, uint16(3), info.Alignmask)
	assert.Equal(t, "sha1", info.Name)
	assert.Equal(t, "sha1-softdev", info.Driver)

	info2, err := f.NewSession(&cryptodev.SessionRequest{Algorithm: cryptodev.HMACSHA256, Key: []byte("Jefe")})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), info2.ID)
	assert.Equal(t, 2, f.OpenSessions())

	mac := cryptodev.AlignedBuffer(32, 3)
	src := cryptodev.AlignedBuffer(28, 3)
	copy(src, "what do ya want for nothing?")
	require.NoError(t, f.Crypt(&cryptodev.CryptRequest{Session: info2.ID, Src: src, MAC: mac}))
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", hex.EncodeToString(mac))

	// the session is reset between requests
	require.NoError(t, f.Crypt(&cryptodev.CryptRequest{Session: info2.ID, Src: src, MAC: mac}))
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", hex.EncodeToString(mac))

	err = f.Crypt(&cryptodev.CryptRequest{Session: 99, Src: src, MAC: mac})
	assert.EqualError(t, err, "softdev: unknown session: 99")
	err = f.Crypt(&cryptodev.CryptRequest{Session: info.ID, Src: src, MAC: mac[:19]})
	assert.EqualError(t, err, "softdev: digest buffer too small: 19")
	err = f.Crypt(&cryptodev.CryptRequest{Session: info.ID, Src: src[1:], MAC: mac})
	assert.EqualError(t, err, "softdev: buffer is not aligned")

	assert.Equal(t, Stats{SessionsCreated: 2, OpsPerformed: 2, OpsErrors: 3}, f.Stats())

	require.NoError(t, f.FreeSession(info.ID))
	assert.EqualError(t, f.FreeSession(info.ID), "softdev: unknown session: 1")
	assert.Equal(t, 1, f.OpenSessions())

	require.NoError(t, f.Close())
	assert.True(t, f.Closed())
	assert.Equal(t, 0, f.OpenSessions())
	assert.EqualError(t, f.Close(), "softdev: facility is closed")
	_, err = f.NewSession(&cryptodev.SessionRequest{Algorithm: cryptodev.SHA1})
	assert.EqualError(t, err, "softdev: facility is closed")
}

func TestNewSessionErrors(t *testing.T) {
	f := New()

	_, err := f.NewSession(&cryptodev.SessionRequest{Algorithm: cryptodev.Algorithm(1)})
	assert.EqualError(t, err, "softdev: algorithm not supported: unknown(1)")

	_, err = f.NewSession(&cryptodev.SessionRequest{Algorithm: cryptodev.HMACMD5})
	assert.EqualError(t, err, "softdev: hmac(md5) requires a key")

	fault := errors.New("ENOMEM")
	f.SetFault(VerbNewSession, fault)
	_, err = f.NewSession(&cryptodev.SessionRequest{Algorithm: cryptodev.MD5})
	assert.Equal(t, fault, err)
	f.SetFault(VerbNewSession, nil)

	info, err := f.NewSession(&cryptodev.SessionRequest{Algorithm: cryptodev.RIPEMD160})
	require.NoError(t, err)
	assert.Equal(t, "ripemd160-softdev", info.Driver)
}
