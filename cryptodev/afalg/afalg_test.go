package afalg

import (
	"testing"

	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/stretchr/testify/assert"
)

func TestKernelName(t *testing.T) {
	for _, alg := range cryptodev.Algorithms() {
		name, ok := KernelName(alg)
		assert.True(t, ok, alg.String())
		assert.NotEmpty(t, name)
	}
	name, _ := KernelName(cryptodev.RIPEMD160)
	assert.Equal(t, "rmd160", name)
	name, _ = KernelName(cryptodev.HMACSHA256)
	assert.Equal(t, "hmac(sha256)", name)

	_, ok := KernelName(cryptodev.Algorithm(1))
	assert.False(t, ok)
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, cryptodev.Registered(), Scheme)
}
