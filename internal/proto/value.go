package proto

import (
	"bytes"
	"fmt"

	"github.com/chipsenkbeil/distant-go/internal/msgpack"
)

// Value is an arbitrary msgpack value held in its encoded form, so untyped
// payloads can be stored and forwarded without knowing their shape.
type Value struct {
	raw []byte
}

// NewValue encodes v into a Value.
func NewValue(v any) (Value, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return Value{}, err
	}
	return Value{raw: raw}, nil
}

// ValueFromSlice validates that data holds exactly one msgpack value and
// wraps it.
func ValueFromSlice(data []byte) (Value, error) {
	var probe any
	if err := msgpack.Unmarshal(data, &probe); err != nil {
		return Value{}, fmt.Errorf("not a msgpack value: %w", err)
	}
	raw := make([]byte, len(data))
	copy(raw, data)
	return Value{raw: raw}, nil
}

// ToVec returns a copy of the encoded bytes.
func (v Value) ToVec() []byte {
	out := make([]byte, len(v.raw))
	copy(out, v.raw)
	return out
}

// Decode unmarshals the value into out.
func (v Value) Decode(out any) error {
	return msgpack.Unmarshal(v.raw, out)
}

func (v Value) IsZero() bool { return len(v.raw) == 0 }

func (v Value) Equal(other Value) bool {
	return bytes.Equal(v.raw, other.raw)
}
