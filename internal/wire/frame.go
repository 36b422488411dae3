package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds a single frame payload. Anything larger is
// rejected before its bytes are consumed.
const DefaultMaxFrameSize = 16 << 20

var order = binary.BigEndian

// readFrame reads one length-prefixed frame from r. The prefix is an 8-byte
// big-endian length followed by exactly that many payload bytes. A clean EOF
// before the prefix returns (nil, io.EOF); EOF mid-frame returns
// io.ErrUnexpectedEOF.
func readFrame(r io.Reader, maxSize uint64) ([]byte, error) {
	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	n := order.Uint64(prefix[:])
	if n == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidData)
	}
	if n > maxSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit of %d", ErrInvalidData, n, maxSize)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// EncodeFrame returns the on-wire form of one frame: an 8-byte big-endian
// length prefix followed by the payload.
func EncodeFrame(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: refusing to encode empty frame", ErrInvalidData)
	}
	out := make([]byte, 8+len(frame))
	order.PutUint64(out[:8], uint64(len(frame)))
	copy(out[8:], frame)
	return out, nil
}

// writeFrame writes one length-prefixed frame to w.
func writeFrame(w io.Writer, frame []byte) error {
	if len(frame) == 0 {
		return fmt.Errorf("%w: refusing to write empty frame", ErrInvalidData)
	}
	var prefix [8]byte
	order.PutUint64(prefix[:], uint64(len(frame)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}
