package wire

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	frameRaw        byte = 0x00
	frameCompressed byte = 0x01

	// Frames below this size aren't worth compressing.
	compressionThreshold = 64
)

// CompressionCodec compresses frame payloads with zstd. Each encoded frame
// carries a one-byte discriminant so the decoder can tell compressed frames
// from ones passed through raw.
type CompressionCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewCompressionCodec() *CompressionCodec {
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	dec, _ := zstd.NewReader(nil)
	return &CompressionCodec{enc: enc, dec: dec}
}

func (c *CompressionCodec) Encode(frame []byte) ([]byte, error) {
	if len(frame) < compressionThreshold {
		return append([]byte{frameRaw}, frame...), nil
	}
	out := make([]byte, 1, len(frame)/2+1)
	out[0] = frameCompressed
	return c.enc.EncodeAll(frame, out), nil
}

func (c *CompressionCodec) Decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: missing compression discriminant", ErrInvalidData)
	}
	switch frame[0] {
	case frameRaw:
		return frame[1:], nil
	case frameCompressed:
		out, err := c.dec.DecodeAll(frame[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression discriminant 0x%x", ErrInvalidData, frame[0])
	}
}
