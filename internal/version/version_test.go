package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	prev := Version
	defer func() { Version = prev }()

	Version = "1.2.3"
	assert.Equal(t, "aimtrack 1.2.3 (unknown, built unknown)", String())
}
