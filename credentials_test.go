package distant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsStringParseRoundTrip(t *testing.T) {
	t.Parallel()
	creds := Credentials{Host: "example.com", Port: 8080, Key: "s3cret"}
	assert.Equal(t, "distant://s3cret@example.com:8080", creds.String())

	parsed, err := ParseCredentials(creds.String())
	require.NoError(t, err)
	assert.Equal(t, creds, parsed)
}

func TestParseCredentialsStrict(t *testing.T) {
	t.Parallel()
	for _, input := range []string{
		"example.com:8080",                // missing scheme
		"distant://example.com:8080",      // missing key
		"distant://key@example.com",       // missing port
		"distant://key@:8080",             // missing host
		"https://key@example.com:8080",    // wrong scheme
		"distant://key@example.com:70000", // port out of range
	} {
		_, err := ParseCredentials(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestParseCredentialsLax(t *testing.T) {
	t.Parallel()
	parsed, err := ParseCredentialsLax("example.com:8080")
	require.NoError(t, err)
	assert.Equal(t, Credentials{Host: "example.com", Port: 8080}, parsed)

	parsed, err = ParseCredentialsLax("key@example.com:8080")
	require.NoError(t, err)
	assert.Equal(t, Credentials{Host: "example.com", Port: 8080, Key: "key"}, parsed)

	parsed, err = ParseCredentialsLax("distant://key@127.0.0.1:9)")
	assert.Error(t, err)
	_ = parsed

	parsed, err = ParseCredentialsLax("distant://key@127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, Credentials{Host: "127.0.0.1", Port: 9000, Key: "key"}, parsed)
}
