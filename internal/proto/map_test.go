package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStringParseRoundTrip(t *testing.T) {
	t.Parallel()
	maps := []Map{
		{},
		{"key": "value"},
		{"key": "value", "key2": "value2"},
		{"path": `C:\Users\example`, "msg": `say "hi" twice`},
		{"empty": ""},
	}
	for _, m := range maps {
		parsed, err := ParseMap(m.String())
		require.NoError(t, err, "input %q", m.String())
		assert.Equal(t, m, parsed)
	}
}

func TestParseMapUnquotedValues(t *testing.T) {
	t.Parallel()
	m, err := ParseMap(`mode=cleartext, retries=3`)
	require.NoError(t, err)
	assert.Equal(t, Map{"mode": "cleartext", "retries": "3"}, m)
}

func TestParseMapErrors(t *testing.T) {
	t.Parallel()
	for _, input := range []string{
		"novalue",
		"1key=value",
		`key="unterminated`,
	} {
		_, err := ParseMap(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestParseMapEmpty(t *testing.T) {
	t.Parallel()
	m, err := ParseMap("")
	require.NoError(t, err)
	assert.Empty(t, m)
}
