// Package afalg provides a crypto facility over the Linux kernel crypto API,
// using AF_ALG sockets. Each session is a bound transformation socket with
// one accepted operation socket.
package afalg

import (
	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xcryptodev/cryptodev", "afalg")

// Scheme is the device scheme of the facility, as in "afalg:"
const Scheme = "afalg"

// chunkSize is the largest single write to an operation socket
const chunkSize = 64 * 1024

// kernel algorithm names, as listed in /proc/crypto
var algNames = map[cryptodev.Algorithm]string{
	cryptodev.MD5:        "md5",
	cryptodev.SHA1:       "sha1",
	cryptodev.RIPEMD160:  "rmd160",
	cryptodev.SHA224:     "sha224",
	cryptodev.SHA256:     "sha256",
	cryptodev.SHA384:     "sha384",
	cryptodev.SHA512:     "sha512",
	cryptodev.HMACMD5:    "hmac(md5)",
	cryptodev.HMACSHA1:   "hmac(sha1)",
	cryptodev.HMACSHA224: "hmac(sha224)",
	cryptodev.HMACSHA256: "hmac(sha256)",
	cryptodev.HMACSHA384: "hmac(sha384)",
	cryptodev.HMACSHA512: "hmac(sha512)",
}

// KernelName returns the kernel crypto API name of the algorithm
func KernelName(alg cryptodev.Algorithm) (string, bool) {
	name, ok := algNames[alg]
	return name, ok
}

func init() {
	_ = cryptodev.Register(Scheme, Load)
}
