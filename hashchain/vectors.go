package hashchain

import (
	"bytes"
	"encoding/hex"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xcryptodev/cryptodev"
)

// Vector is a known-answer test vector
type Vector struct {
	Algorithm cryptodev.Algorithm
	Key       []byte
	Input     []byte
	// Digest is hex encoded
	Digest string
}

// KnownAnswers are published vectors: FIPS 180 "abc" messages,
// RFC 1321 / 2202 / 4231 and the RIPEMD-160 reference.
var KnownAnswers = []Vector{
	{cryptodev.MD5, nil, []byte("abc"), "900150983cd24fb0d6963f7d28e17f72"},
	{cryptodev.SHA1, nil, []byte("abc"), "a9993e364706816aba3e25717850c26c9cd0d89d"},
	{cryptodev.SHA1, nil, []byte("The quick brown fox jumps over the lazy dog"), "2fd4e1c67a2d28fced849ee1bb76e7391b93eb12"},
	{cryptodev.RIPEMD160, nil, []byte("abc"), "8eb208f7e05d987a9b044a8e98c6b087f15a0bfc"},
	{cryptodev.SHA224, nil, []byte("abc"), "23097d223405d8228642a477bda255b32aadbce4bda0b3f7e36c9da7"},
	{cryptodev.SHA256, nil, []byte("abc"), "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	{cryptodev.SHA384, nil, []byte("abc"), "cb00753f45a35e8bb5a03d699ac65007272c32ab0eded1631a8b605a43ff5bed8086072ba1e7cc2358baeca134c825a7"},
	{cryptodev.SHA512, nil, []byte("abc"), "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f"},
	{cryptodev.HMACMD5, []byte("Jefe"), []byte("what do ya want for nothing?"), "750c783e6ab0b503eaa86e310a5db738"},
	{cryptodev.HMACSHA1, []byte("Jefe"), []byte("what do ya want for nothing?"), "effcdf6ae5eb2fa2d27416d5f184df9c259a7c79"},
	{cryptodev.HMACSHA256, []byte("Jefe"), []byte("what do ya want for nothing?"), "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"},
}

// VectorsFor returns the known answers for the algorithm
func VectorsFor(alg cryptodev.Algorithm) []Vector {
	var list []Vector
	for _, v := range KnownAnswers {
		if v.Algorithm == alg {
			list = append(list, v)
		}
	}
	return list
}

// Verify checks the session against the vector
func Verify(h Hasher, v Vector) error {
	if h.Algorithm() != v.Algorithm {
		return errors.Errorf("vector is for %s, session is %s", v.Algorithm, h.Algorithm())
	}
	exp, err := hex.DecodeString(v.Digest)
	if err != nil {
		return errors.WithStack(err)
	}

	mask := h.Alignmask()
	in := cryptodev.AlignedBuffer(len(v.Input), mask)
	copy(in, v.Input)
	out := cryptodev.AlignedBuffer(h.DigestSize(), mask)

	if err = h.Hash(in, out); err != nil {
		return err
	}
	if !bytes.Equal(exp, out) {
		return errors.Errorf("%s: digest mismatch: expected %s, got %x", v.Algorithm, v.Digest, out)
	}
	return nil
}
