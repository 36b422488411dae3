package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reverseCodec flips the payload byte order; handy for observing composite
// application order.
type reverseCodec struct{}

func (reverseCodec) Encode(frame []byte) ([]byte, error) {
	out := make([]byte, len(frame))
	for i, b := range frame {
		out[len(frame)-1-i] = b
	}
	return out, nil
}

func (reverseCodec) Decode(frame []byte) ([]byte, error) {
	return reverseCodec{}.Encode(frame)
}

// prefixCodec prepends a marker byte on encode and strips it on decode.
type prefixCodec struct{ marker byte }

func (c prefixCodec) Encode(frame []byte) ([]byte, error) {
	return append([]byte{c.marker}, frame...), nil
}

func (c prefixCodec) Decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 || frame[0] != c.marker {
		return nil, ErrInvalidData
	}
	return frame[1:], nil
}

func TestIdentityCodecRoundTrip(t *testing.T) {
	t.Parallel()
	frame := []byte("hello")
	encoded, err := IdentityCodec{}.Encode(frame)
	require.NoError(t, err)
	decoded, err := IdentityCodec{}.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, frame, decoded)
}

func TestChainCodecAppliesLeftThenRight(t *testing.T) {
	t.Parallel()
	chain := NewChainCodec(prefixCodec{marker: 'L'}, prefixCodec{marker: 'R'})
	encoded, err := chain.Encode([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("RLx"), encoded)

	decoded, err := chain.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), decoded)
}

func TestChainCodecDecodeIsLeftInverseOfEncode(t *testing.T) {
	t.Parallel()
	chain := NewChainCodec(reverseCodec{}, prefixCodec{marker: 0xAB})
	for _, frame := range [][]byte{
		[]byte("a"),
		[]byte("some longer payload with bytes"),
		bytes.Repeat([]byte{0x00, 0xFF}, 500),
	} {
		encoded, err := chain.Encode(frame)
		require.NoError(t, err)
		decoded, err := chain.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, frame, decoded)
	}
}

func TestPredicateCodecRoutesByPredicate(t *testing.T) {
	t.Parallel()
	codec := PredicateCodec{
		Predicate: func(frame []byte) bool { return frame[0] == 'L' },
		Left:      prefixCodec{marker: 'L'},
		Right:     prefixCodec{marker: 'R'},
	}

	// The predicate inspects the first byte, which survives the prefix the
	// selected codec prepends, so decode recovers the same decision.
	encoded, err := codec.Encode([]byte("Lfoo"))
	require.NoError(t, err)
	assert.Equal(t, []byte("LLfoo"), encoded)
	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte("Lfoo"), decoded)

	encoded, err = codec.Encode([]byte("Rbar"))
	require.NoError(t, err)
	assert.Equal(t, []byte("RRbar"), encoded)
	decoded, err = codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte("Rbar"), decoded)
}

func TestEncryptionCodecRoundTrip(t *testing.T) {
	t.Parallel()
	key := bytes.Repeat([]byte{0x42}, 32)
	codec, err := NewEncryptionCodec(key)
	require.NoError(t, err)

	frame := []byte("secret payload")
	encoded, err := codec.Encode(frame)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "secret")

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, frame, decoded)
}

func TestEncryptionCodecRejectsTamperedFrame(t *testing.T) {
	t.Parallel()
	key := bytes.Repeat([]byte{0x42}, 32)
	codec, err := NewEncryptionCodec(key)
	require.NoError(t, err)

	encoded, err := codec.Encode([]byte("secret payload"))
	require.NoError(t, err)
	encoded[len(encoded)-1] ^= 0xFF

	_, err = codec.Decode(encoded)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestCompressionCodecRoundTrip(t *testing.T) {
	t.Parallel()
	codec := NewCompressionCodec()

	small := []byte("tiny")
	encoded, err := codec.Encode(small)
	require.NoError(t, err)
	assert.Equal(t, frameRaw, encoded[0])
	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, small, decoded)

	big := bytes.Repeat([]byte("abcdefgh"), 1024)
	encoded, err = codec.Encode(big)
	require.NoError(t, err)
	assert.Equal(t, frameCompressed, encoded[0])
	assert.Less(t, len(encoded), len(big))
	decoded, err = codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, big, decoded)
}

func TestCompressionCodecRejectsUnknownDiscriminant(t *testing.T) {
	t.Parallel()
	_, err := NewCompressionCodec().Decode([]byte{0x7F, 0x00})
	assert.ErrorIs(t, err, ErrInvalidData)
}
