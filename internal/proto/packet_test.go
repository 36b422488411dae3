package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chipsenkbeil/distant-go/internal/msgpack"
)

func TestRequestSinglePayloadRoundTrip(t *testing.T) {
	t.Parallel()
	req, err := NewRequest(FileWrite{Path: "/tmp/x", Data: []byte("abc")})
	require.NoError(t, err)
	assert.Len(t, req.ID, IDLen)

	encoded, err := msgpack.Marshal(req)
	require.NoError(t, err)
	var decoded Request
	require.NoError(t, msgpack.Unmarshal(encoded, &decoded))
	assert.Equal(t, req.ID, decoded.ID)

	payloads, batch, err := decoded.Payloads()
	require.NoError(t, err)
	assert.False(t, batch)
	require.Len(t, payloads, 1)

	write, ok := payloads[0].(*FileWrite)
	require.True(t, ok)
	assert.Equal(t, "/tmp/x", write.Path)
	assert.Equal(t, []byte("abc"), write.Data)
}

func TestRequestBatchPayloadRoundTrip(t *testing.T) {
	t.Parallel()
	req, err := NewBatchRequest(
		FileWrite{Path: "/tmp/x", Data: []byte("abc")},
		Exists{Path: "/tmp/x"},
	)
	require.NoError(t, err)

	encoded, err := msgpack.Marshal(req)
	require.NoError(t, err)
	var decoded Request
	require.NoError(t, msgpack.Unmarshal(encoded, &decoded))

	payloads, batch, err := decoded.Payloads()
	require.NoError(t, err)
	assert.True(t, batch)
	require.Len(t, payloads, 2)
	assert.IsType(t, &FileWrite{}, payloads[0])
	assert.IsType(t, &Exists{}, payloads[1])
}

func TestResponsePayloadRoundTrip(t *testing.T) {
	t.Parallel()
	code := int32(0)
	resp, err := NewResponse("origin-1234567890", ProcDone{ID: 42, Success: true, Code: &code})
	require.NoError(t, err)
	assert.Equal(t, "origin-1234567890", resp.OriginID)

	encoded, err := msgpack.Marshal(resp)
	require.NoError(t, err)
	var decoded Response
	require.NoError(t, msgpack.Unmarshal(encoded, &decoded))

	payload, err := decoded.Payload()
	require.NoError(t, err)
	done, ok := payload.(*ProcDone)
	require.True(t, ok)
	assert.Equal(t, ProcessID(42), done.ID)
	assert.True(t, done.Success)
	require.NotNil(t, done.Code)
	assert.Equal(t, int32(0), *done.Code)
}

func TestResponseErrorPayload(t *testing.T) {
	t.Parallel()
	resp, err := NewResponse("abc", *NewError(KindNotFound, "no such file"))
	require.NoError(t, err)

	payload, err := resp.Payload()
	require.NoError(t, err)
	wireErr, ok := payload.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, wireErr.Kind)
}

func TestDecodeUnknownRequestTypeFails(t *testing.T) {
	t.Parallel()
	raw, err := encodeTagged("launch_missiles", map[string]string{})
	require.NoError(t, err)
	req := Request{ID: NewID(), RawPayload: raw}
	_, _, err = req.Payloads()
	assert.Error(t, err)
}

func TestSearchMatchRoundTrip(t *testing.T) {
	t.Parallel()
	results := SearchResults{
		ID: 7,
		Matches: []SearchMatch{
			{Contents: &SearchContentsMatch{
				Path:           "a.txt",
				Lines:          "two needle",
				LineNumber:     2,
				AbsoluteOffset: 4,
				Submatches:     []SearchSubmatch{{Match: "needle", Start: 4, End: 10}},
			}},
			{Path: &SearchPathMatch{Path: "needle.txt"}},
		},
	}
	resp, err := NewResponse("origin", results)
	require.NoError(t, err)

	encoded, err := msgpack.Marshal(resp)
	require.NoError(t, err)
	var decoded Response
	require.NoError(t, msgpack.Unmarshal(encoded, &decoded))

	payload, err := decoded.Payload()
	require.NoError(t, err)
	got, ok := payload.(*SearchResults)
	require.True(t, ok)
	require.Len(t, got.Matches, 2)
	require.NotNil(t, got.Matches[0].Contents)
	assert.Equal(t, uint64(2), got.Matches[0].Contents.LineNumber)
	assert.Equal(t, uint64(4), got.Matches[0].Contents.AbsoluteOffset)
	require.NotNil(t, got.Matches[1].Path)
	assert.Equal(t, "needle.txt", got.Matches[1].Path.Path)
}

func TestValueRoundTrip(t *testing.T) {
	t.Parallel()
	for _, input := range []any{
		int64(42),
		"text",
		[]any{int64(1), int64(2)},
		map[string]any{"nested": "value"},
		true,
	} {
		v, err := NewValue(input)
		require.NoError(t, err)
		back, err := ValueFromSlice(v.ToVec())
		require.NoError(t, err)
		assert.True(t, v.Equal(back), "value %v", input)
	}

	_, err := ValueFromSlice([]byte{})
	assert.Error(t, err)
}

func TestSearchConditionToRegex(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `a\.b`, ConditionContainsValue("a.b").ToRegexString())
	assert.Equal(t, `^exact$`, ConditionEqualsValue("exact").ToRegexString())
	assert.Equal(t, `^pre`, ConditionStartsWithValue("pre").ToRegexString())
	assert.Equal(t, `suf$`, ConditionEndsWithValue("suf").ToRegexString())
	assert.Equal(t, `raw.*`, ConditionRegexValue("raw.*").ToRegexString())
	assert.Equal(t, `a|b$`,
		ConditionOrValue(ConditionContainsValue("a"), ConditionEndsWithValue("b")).ToRegexString())
}

func TestKindFromErr(t *testing.T) {
	t.Parallel()
	assert.Equal(t, KindUnknown, KindFromErr(nil))
	assert.Equal(t, KindOther, KindFromErr(assert.AnError))
}
