package wire

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// ProtocolVersion is the handshake protocol revision. Both sides must agree
// exactly; payload-level compatibility is negotiated separately.
const ProtocolVersion = "1"

// Codec choices, in server preference order.
const (
	ChoiceCompressionEncryption = "zstd+xchacha20poly1305"
	ChoiceEncryption            = "xchacha20poly1305"
	ChoicePlain                 = "plain"
)

// DefaultCodecChoices is what a client offers unless configured otherwise.
var DefaultCodecChoices = []string{ChoiceCompressionEncryption, ChoiceEncryption}

const (
	kdfLabelHandshake = "distant-go handshake key v1"
	kdfLabelReauth    = "distant-go reauth key v1"
)

type handshakeHello struct {
	Version string   `codec:"version"`
	Codecs  []string `codec:"codecs"`
}

type handshakeChoice struct {
	Codec string `codec:"codec"`
}

type keyExchangePayload struct {
	PublicKey []byte `codec:"public_key"`
}

func (t *FramedTransport) beginHandshake() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRaw {
		return errHandshakeDone
	}
	t.state = StateHandshaking
	return nil
}

func (t *FramedTransport) installCodec(choice string, key []byte) error {
	codec, err := CodecByName(choice, key)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.codec = codec
	if choice == ChoicePlain {
		t.state = StatePlain
	} else {
		t.state = StateEncrypted
	}
	return nil
}

// ClientHandshake negotiates a codec with the server, performs the key
// exchange, and flips the transport to its established state.
func (t *FramedTransport) ClientHandshake(choices ...string) error {
	if len(choices) == 0 {
		choices = DefaultCodecChoices
	}
	if err := t.beginHandshake(); err != nil {
		return err
	}
	t.isClient = true
	hello := handshakeHello{Version: ProtocolVersion, Codecs: choices}
	if err := t.writeFrameForUntracked(hello); err != nil {
		return err
	}
	var choice handshakeChoice
	if err := t.readFrameAsUntracked(&choice); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if !contains(choices, choice.Codec) {
		return t.fail(fmt.Errorf("%w: server chose unoffered codec %q", ErrInvalidData, choice.Codec))
	}
	var key []byte
	if choice.Codec != ChoicePlain {
		var err error
		key, err = t.exchangeKeysUntracked(true, kdfLabelHandshake)
		if err != nil {
			return err
		}
	}
	return t.installCodec(choice.Codec, key)
}

// ServerHandshake answers a client hello, choosing the first codec from the
// server's preference order that the client offered.
func (t *FramedTransport) ServerHandshake(preferences ...string) error {
	if len(preferences) == 0 {
		preferences = []string{ChoiceCompressionEncryption, ChoiceEncryption}
	}
	if err := t.beginHandshake(); err != nil {
		return err
	}
	var hello handshakeHello
	if err := t.readFrameAsUntracked(&hello); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if hello.Version != ProtocolVersion {
		return t.fail(fmt.Errorf("%w: unsupported handshake version %q", ErrInvalidData, hello.Version))
	}
	chosen := ""
	for _, pref := range preferences {
		if contains(hello.Codecs, pref) {
			chosen = pref
			break
		}
	}
	if chosen == "" {
		return t.fail(fmt.Errorf("%w: no mutually supported codec in %v", ErrInvalidData, hello.Codecs))
	}
	if err := t.writeFrameForUntracked(handshakeChoice{Codec: chosen}); err != nil {
		return err
	}
	var key []byte
	if chosen != ChoicePlain {
		var err error
		key, err = t.exchangeKeysUntracked(false, kdfLabelHandshake)
		if err != nil {
			return err
		}
	}
	return t.installCodec(chosen, key)
}

// ExchangeKeys derives a fresh 32-byte secret over the established transport.
// Used after the connect-type round trip to mint the reauth OTP for the next
// reconnect.
func (t *FramedTransport) ExchangeKeys(isClient bool) ([]byte, error) {
	return t.exchangeKeysUntracked(isClient, kdfLabelReauth)
}

// exchangeKeysUntracked performs an ephemeral X25519 exchange: the client
// sends its public key first and the server answers, both compute the shared
// point and stretch it through HKDF-SHA256 with the public keys (client
// first) as salt and a context-binding label as info. The strict send order
// keeps the exchange deadlock-free even over unbuffered streams.
func (t *FramedTransport) exchangeKeysUntracked(isClient bool, label string) ([]byte, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	var peer keyExchangePayload
	if isClient {
		if err := t.writeFrameForUntracked(keyExchangePayload{PublicKey: pub}); err != nil {
			return nil, err
		}
		if err := t.readFrameAsUntracked(&peer); err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	} else {
		if err := t.readFrameAsUntracked(&peer); err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if err := t.writeFrameForUntracked(keyExchangePayload{PublicKey: pub}); err != nil {
			return nil, err
		}
	}
	if len(peer.PublicKey) != curve25519.PointSize {
		return nil, t.fail(fmt.Errorf("%w: bad public key length %d", ErrInvalidData, len(peer.PublicKey)))
	}

	shared, err := curve25519.X25519(priv, peer.PublicKey)
	if err != nil {
		return nil, t.fail(fmt.Errorf("%w: %v", ErrInvalidData, err))
	}

	salt := make([]byte, 0, 2*curve25519.PointSize)
	if isClient {
		salt = append(append(salt, pub...), peer.PublicKey...)
	} else {
		salt = append(append(salt, peer.PublicKey...), pub...)
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(label)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
