// Package wire implements the byte-level transport stack: length-prefixed
// frames, composable frame codecs (encryption, compression, identity), a
// framed transport with a replayable backup, and the handshake + key exchange
// that upgrades a raw transport to an encrypted one.
package wire

import (
	"errors"
	"fmt"
)

// ErrInvalidData is wrapped by decoders that receive a frame which does not
// conform to their format. Any such failure is fatal to the connection since
// it cannot be distinguished from tampering.
var ErrInvalidData = errors.New("invalid frame data")

// Codec transforms frames on their way to and from the wire. Encode is
// applied to outgoing frame payloads, Decode to incoming ones. Decode must be
// the left inverse of Encode.
type Codec interface {
	Encode(frame []byte) ([]byte, error)
	Decode(frame []byte) ([]byte, error)
}

// IdentityCodec passes frames through unchanged.
type IdentityCodec struct{}

func (IdentityCodec) Encode(frame []byte) ([]byte, error) { return frame, nil }
func (IdentityCodec) Decode(frame []byte) ([]byte, error) { return frame, nil }

// ChainCodec composes two codecs. Encoding applies left then right; decoding
// reverses.
type ChainCodec struct {
	Left  Codec
	Right Codec
}

func NewChainCodec(left, right Codec) ChainCodec {
	return ChainCodec{Left: left, Right: right}
}

func (c ChainCodec) Encode(frame []byte) ([]byte, error) {
	frame, err := c.Left.Encode(frame)
	if err != nil {
		return nil, err
	}
	return c.Right.Encode(frame)
}

func (c ChainCodec) Decode(frame []byte) ([]byte, error) {
	frame, err := c.Right.Decode(frame)
	if err != nil {
		return nil, err
	}
	return c.Left.Decode(frame)
}

// PredicateCodec routes each frame through Left when the predicate holds and
// through Right otherwise. The same predicate runs on both paths, so callers
// must ensure its decision is recoverable after encoding, usually by having
// the selected codec prepend a discriminant byte.
type PredicateCodec struct {
	Predicate func(frame []byte) bool
	Left      Codec
	Right     Codec
}

func (c PredicateCodec) Encode(frame []byte) ([]byte, error) {
	if c.Predicate(frame) {
		return c.Left.Encode(frame)
	}
	return c.Right.Encode(frame)
}

func (c PredicateCodec) Decode(frame []byte) ([]byte, error) {
	if c.Predicate(frame) {
		return c.Left.Decode(frame)
	}
	return c.Right.Decode(frame)
}

// CodecByName constructs a codec from a negotiated handshake choice. The key
// is only used by choices that include encryption.
func CodecByName(name string, key []byte) (Codec, error) {
	switch name {
	case ChoicePlain:
		return IdentityCodec{}, nil
	case ChoiceEncryption:
		return NewEncryptionCodec(key)
	case ChoiceCompressionEncryption:
		enc, err := NewEncryptionCodec(key)
		if err != nil {
			return nil, err
		}
		return NewChainCodec(NewCompressionCodec(), enc), nil
	default:
		return nil, fmt.Errorf("unknown codec choice %q", name)
	}
}
