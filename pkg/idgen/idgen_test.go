package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobHashUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		h := JobHash()
		require.Len(t, h, 64)
		assert.False(t, seen[h], "duplicate hash %s", h)
		seen[h] = true
	}
}

func TestTwoWordTagMatchesPattern(t *testing.T) {
	for i := 0; i < 100; i++ {
		tag := TwoWordTag()
		assert.True(t, ValidTwoWord(tag), "tag %q should match pattern", tag)
	}
}

func TestValidTwoWord(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"wise penguin", true},
		{"swift raven", true},
		{"WISE PENGUIN", false},
		{"  ", false},
		{"", false},
		{"penguin", false},
		{"wise  penguin", false},
		{"wise penguin extra", false},
		{"wise-penguin", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidTwoWord(tt.in), "input %q", tt.in)
	}
}
