package p11dev_test

import (
	"os"
	"testing"

	"github.com/effective-security/xcryptodev/cryptodev"
	"github.com/effective-security/xcryptodev/hashchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/effective-security/xcryptodev/cryptodev/p11dev"
)

// SoftHSMConfig provides location for PKCS11 config
const SoftHSMConfig = "/tmp/cryptodev/softhsm_unittest.json"

func TestSoftHSM_KnownAnswers(t *testing.T) {
	if _, err := os.Stat(SoftHSMConfig); err != nil {
		t.Skipf("SoftHSM is not configured: %s", SoftHSMConfig)
	}

	dev, err := cryptodev.Open("pkcs11:" + SoftHSMConfig)
	require.NoError(t, err)
	defer dev.Close()

	for _, v := range hashchain.KnownAnswers {
		s, err := dev.OpenSession(v.Algorithm, v.Key)
		if err != nil {
			t.Logf("%s is not available: %v", v.Algorithm, err)
			continue
		}
		assert.NoError(t, hashchain.Verify(s, v))
		_ = s.Close()
	}
}
