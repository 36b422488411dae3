package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCompatibility(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		v1, v2     Version
		compatible bool
	}{
		{"same version", NewVersion(1, 2, 3), NewVersion(1, 2, 3), true},
		{"higher peer minor", NewVersion(1, 2, 0), NewVersion(1, 5, 0), true},
		{"lower peer minor", NewVersion(1, 5, 0), NewVersion(1, 2, 0), false},
		{"different major", NewVersion(1, 0, 0), NewVersion(2, 0, 0), false},
		{"zero major same minor", NewVersion(0, 3, 0), NewVersion(0, 3, 9), true},
		{"zero major different minor", NewVersion(0, 3, 0), NewVersion(0, 4, 0), false},
		{"patch never matters", NewVersion(1, 1, 9), NewVersion(1, 1, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.compatible, tt.v1.IsCompatibleWith(tt.v2))
		})
	}
}

func TestParseVersion(t *testing.T) {
	t.Parallel()
	v, err := ParseVersion("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, NewVersion(1, 2, 3), v)
	assert.Equal(t, "1.2.3", v.String())

	_, err = ParseVersion("not-a-version")
	assert.Error(t, err)
}
