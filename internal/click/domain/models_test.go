package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashSignal(t *testing.T) {
	first := HashSignal("203.0.113.9")
	assert.Len(t, first, 64)
	assert.Equal(t, first, HashSignal(" 203.0.113.9 "))
	assert.NotEqual(t, first, HashSignal("203.0.113.10"))
	assert.Empty(t, HashSignal("  "))
}
