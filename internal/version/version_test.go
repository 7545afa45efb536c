package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrent(t *testing.T) {
	v := Current()
	assert.Equal(t, Build, v.Build)
	assert.Equal(t, Commit, v.Commit)
	assert.Equal(t, "dev-0", v.String())
}
