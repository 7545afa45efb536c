package cryptodev

import (
	"crypto"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// Algorithm identifies a hash or MAC algorithm, using the
// cryptodev_crypto_op_t values of the cryptodev-linux API.
type Algorithm uint32

// Unkeyed digest algorithms
const (
	MD5       Algorithm = 13
	SHA1      Algorithm = 14
	RIPEMD160 Algorithm = 102
	SHA224    Algorithm = 103
	SHA256    Algorithm = 104
	SHA384    Algorithm = 105
	SHA512    Algorithm = 106
)

// Keyed MAC algorithms
const (
	HMACMD5    Algorithm = 6
	HMACSHA1   Algorithm = 7
	HMACSHA256 Algorithm = 18
	HMACSHA384 Algorithm = 19
	HMACSHA512 Algorithm = 20
	HMACSHA224 Algorithm = 107
)

const (
	// PlainDigest is the unkeyed digest used when no key is supplied
	PlainDigest = SHA256
	// KeyedMAC is the MAC used when a key is supplied
	KeyedMAC = HMACSHA1
)

type algorithmInfo struct {
	name  string
	hash  crypto.Hash
	keyed bool
}

var algorithms = map[Algorithm]algorithmInfo{
	MD5:        {"md5", crypto.MD5, false},
	SHA1:       {"sha1", crypto.SHA1, false},
	RIPEMD160:  {"ripemd160", crypto.RIPEMD160, false},
	SHA224:     {"sha224", crypto.SHA224, false},
	SHA256:     {"sha256", crypto.SHA256, false},
	SHA384:     {"sha384", crypto.SHA384, false},
	SHA512:     {"sha512", crypto.SHA512, false},
	HMACMD5:    {"hmac(md5)", crypto.MD5, true},
	HMACSHA1:   {"hmac(sha1)", crypto.SHA1, true},
	HMACSHA224: {"hmac(sha224)", crypto.SHA224, true},
	HMACSHA256: {"hmac(sha256)", crypto.SHA256, true},
	HMACSHA384: {"hmac(sha384)", crypto.SHA384, true},
	HMACSHA512: {"hmac(sha512)", crypto.SHA512, true},
}

// AlgorithmFor returns PlainDigest when key is empty, and KeyedMAC otherwise.
func AlgorithmFor(key []byte) Algorithm {
	if len(key) == 0 {
		return PlainDigest
	}
	return KeyedMAC
}

// Algorithms returns the supported algorithms ordered by ID
func Algorithms() []Algorithm {
	list := lo.Keys(algorithms)
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

// ParseAlgorithm returns the algorithm by its name.
// Both "hmac(sha256)" and "hmac-sha256" forms are accepted.
func ParseAlgorithm(name string) (Algorithm, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if strings.HasPrefix(n, "hmac-") {
		n = "hmac(" + strings.TrimPrefix(n, "hmac-") + ")"
	}
	alg, ok := lo.FindKeyBy(algorithms, func(_ Algorithm, info algorithmInfo) bool {
		return info.name == n
	})
	if !ok {
		return 0, errors.WithMessagef(ErrUnsupportedAlgorithm, "%q", name)
	}
	return alg, nil
}

// Supported returns true if the algorithm is known to the client
func (a Algorithm) Supported() bool {
	_, ok := algorithms[a]
	return ok
}

// String returns the algorithm name, as used by the kernel crypto API
func (a Algorithm) String() string {
	if info, ok := algorithms[a]; ok {
		return info.name
	}
	return "unknown(" + strconv.FormatUint(uint64(a), 10) + ")"
}

// Keyed returns true for MAC algorithms that require a key
func (a Algorithm) Keyed() bool {
	return algorithms[a].keyed
}

// Hash returns the underlying hash function
func (a Algorithm) Hash() crypto.Hash {
	return algorithms[a].hash
}

// DigestSize returns the size of the digest in bytes, or 0 if the
// algorithm is not supported.
func (a Algorithm) DigestSize() int {
	info, ok := algorithms[a]
	if !ok {
		return 0
	}
	return info.hash.Size()
}

