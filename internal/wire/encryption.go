package wire

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptionCodec seals every frame with XChaCha20-Poly1305. A fresh random
// 24-byte nonce is prepended to each sealed payload.
type EncryptionCodec struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

func NewEncryptionCodec(key []byte) (*EncryptionCodec, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("encryption codec key: %w", err)
	}
	return &EncryptionCodec{aead: aead}, nil
}

func (c *EncryptionCodec) Encode(frame []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, frame, nil), nil
}

func (c *EncryptionCodec) Decode(frame []byte) ([]byte, error) {
	if len(frame) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: frame shorter than nonce", ErrInvalidData)
	}
	nonce, sealed := frame[:chacha20poly1305.NonceSizeX], frame[chacha20poly1305.NonceSizeX:]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return plain, nil
}
