// Package msgpack wraps the ugorji codec with the handle configuration shared
// by every wire type in this project. All frames on the wire carry msgpack
// payloads produced through this package so that both sides agree on struct
// encoding, raw-byte handling, and string interning behavior.
package msgpack

import (
	"bytes"
	"fmt"

	"github.com/ugorji/go/codec"
)

// Handle returns the msgpack handle used for all wire serialization.
//
// WriteExt is enabled so binary blobs stay binary rather than degrading to
// strings, and RawToString keeps decoded map keys usable as Go strings.
func Handle() *codec.MsgpackHandle {
	return handle
}

var handle = func() *codec.MsgpackHandle {
	h := new(codec.MsgpackHandle)
	h.WriteExt = true
	h.RawToString = true
	// Raw lets envelope types carry their payloads as pre-encoded bytes so
	// tagged unions can be decoded in two phases.
	h.Raw = true
	return h
}()

func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, handle).Encode(v); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return buf.Bytes(), nil
}

func Unmarshal(data []byte, v any) error {
	if err := codec.NewDecoderBytes(data, handle).Decode(v); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}

// MustMarshal is for values that cannot fail to encode (fixed shapes built by
// this codebase). It panics on error rather than returning one.
func MustMarshal(v any) []byte {
	data, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// IsArray reports whether the first byte of an encoded msgpack value
// designates an array. Used to tell batch payloads apart from single ones.
func IsArray(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	b := data[0]
	return (b >= 0x90 && b <= 0x9f) || b == 0xdc || b == 0xdd
}
