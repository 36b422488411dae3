// Package authn implements the authentication exchange that runs after the
// transport handshake: the server drives an ordered list of methods, the
// client answers through an AuthHandler capability set.
package authn

import (
	"fmt"

	"github.com/ugorji/go/codec"

	"github.com/chipsenkbeil/distant-go/internal/msgpack"
)

// Message type tags, shared by both directions.
const (
	typeInitialization         = "initialization"
	typeInitializationResponse = "initialization_response"
	typeStartMethod            = "start_method"
	typeChallenge              = "challenge"
	typeChallengeResponse      = "challenge_response"
	typeVerification           = "verification"
	typeVerificationResponse   = "verification_response"
	typeInfo                   = "info"
	typeError                  = "error"
	typeFinished               = "finished"
)

// Initialization offers the server's methods; the client answers with the
// subset it wants to attempt, in its preferred order.
type Initialization struct {
	Methods []string `codec:"methods"`
}

type InitializationResponse struct {
	Methods []string `codec:"methods"`
}

// StartMethod announces which method is about to run.
type StartMethod struct {
	Method string `codec:"method"`
}

// Challenge poses interactive questions (password, token, ...).
type Challenge struct {
	Questions []Question        `codec:"questions"`
	Options   map[string]string `codec:"options"`
}

// Question is a single prompt. Options carry method-specific hints such as
// whether the answer should be echoed.
type Question struct {
	Label   string            `codec:"label"`
	Text    string            `codec:"text"`
	Options map[string]string `codec:"options"`
}

type ChallengeResponse struct {
	Answers []string `codec:"answers"`
}

// Verification asks the client to acknowledge something out-of-band, such as
// a host key or fingerprint.
type Verification struct {
	Kind string `codec:"kind"`
	Text string `codec:"text"`
}

type VerificationResponse struct {
	Valid bool `codec:"valid"`
}

// Info is a one-way notice to the client.
type Info struct {
	Text string `codec:"text"`
}

// ErrorKind distinguishes recoverable notices from fatal failures.
type ErrorKind string

const (
	ErrorKindError ErrorKind = "error"
	ErrorKindFatal ErrorKind = "fatal"
)

// Error reports an authentication failure. Fatal ends the exchange with
// permission denied.
type Error struct {
	Kind ErrorKind `codec:"kind"`
	Text string    `codec:"text"`
}

// Finished is the terminal success message.
type Finished struct{}

// serverMessage is what the server sends; exactly one field is set.
type serverMessage struct {
	Initialization *Initialization
	StartMethod    *StartMethod
	Challenge      *Challenge
	Verification   *Verification
	Info           *Info
	Error          *Error
	Finished       *Finished
}

// clientMessage is what the client answers with; exactly one field is set.
type clientMessage struct {
	Initialization *InitializationResponse
	Challenge      *ChallengeResponse
	Verification   *VerificationResponse
}

type taggedMsg struct {
	Type string    `codec:"type"`
	Data codec.Raw `codec:"data,omitempty"`
}

func encodeTagged(typ string, v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(taggedMsg{Type: typ, Data: data})
}

func (m *serverMessage) CodecEncodeSelf(e *codec.Encoder) {
	var raw []byte
	var err error
	switch {
	case m.Initialization != nil:
		raw, err = encodeTagged(typeInitialization, m.Initialization)
	case m.StartMethod != nil:
		raw, err = encodeTagged(typeStartMethod, m.StartMethod)
	case m.Challenge != nil:
		raw, err = encodeTagged(typeChallenge, m.Challenge)
	case m.Verification != nil:
		raw, err = encodeTagged(typeVerification, m.Verification)
	case m.Info != nil:
		raw, err = encodeTagged(typeInfo, m.Info)
	case m.Error != nil:
		raw, err = encodeTagged(typeError, m.Error)
	case m.Finished != nil:
		raw, err = encodeTagged(typeFinished, m.Finished)
	default:
		err = fmt.Errorf("empty authentication message")
	}
	if err != nil {
		panic(err)
	}
	e.MustEncode(codec.Raw(raw))
}

func (m *serverMessage) CodecDecodeSelf(d *codec.Decoder) {
	var raw codec.Raw
	d.MustDecode(&raw)
	var tagged taggedMsg
	if err := msgpack.Unmarshal(raw, &tagged); err != nil {
		panic(err)
	}
	var err error
	switch tagged.Type {
	case typeInitialization:
		m.Initialization = new(Initialization)
		err = msgpack.Unmarshal(tagged.Data, m.Initialization)
	case typeStartMethod:
		m.StartMethod = new(StartMethod)
		err = msgpack.Unmarshal(tagged.Data, m.StartMethod)
	case typeChallenge:
		m.Challenge = new(Challenge)
		err = msgpack.Unmarshal(tagged.Data, m.Challenge)
	case typeVerification:
		m.Verification = new(Verification)
		err = msgpack.Unmarshal(tagged.Data, m.Verification)
	case typeInfo:
		m.Info = new(Info)
		err = msgpack.Unmarshal(tagged.Data, m.Info)
	case typeError:
		m.Error = new(Error)
		err = msgpack.Unmarshal(tagged.Data, m.Error)
	case typeFinished:
		m.Finished = new(Finished)
	default:
		err = fmt.Errorf("unknown authentication message type %q", tagged.Type)
	}
	if err != nil {
		panic(err)
	}
}

func (m *clientMessage) CodecEncodeSelf(e *codec.Encoder) {
	var raw []byte
	var err error
	switch {
	case m.Initialization != nil:
		raw, err = encodeTagged(typeInitializationResponse, m.Initialization)
	case m.Challenge != nil:
		raw, err = encodeTagged(typeChallengeResponse, m.Challenge)
	case m.Verification != nil:
		raw, err = encodeTagged(typeVerificationResponse, m.Verification)
	default:
		err = fmt.Errorf("empty authentication response")
	}
	if err != nil {
		panic(err)
	}
	e.MustEncode(codec.Raw(raw))
}

func (m *clientMessage) CodecDecodeSelf(d *codec.Decoder) {
	var raw codec.Raw
	d.MustDecode(&raw)
	var tagged taggedMsg
	if err := msgpack.Unmarshal(raw, &tagged); err != nil {
		panic(err)
	}
	var err error
	switch tagged.Type {
	case typeInitializationResponse:
		m.Initialization = new(InitializationResponse)
		err = msgpack.Unmarshal(tagged.Data, m.Initialization)
	case typeChallengeResponse:
		m.Challenge = new(ChallengeResponse)
		err = msgpack.Unmarshal(tagged.Data, m.Challenge)
	case typeVerificationResponse:
		m.Verification = new(VerificationResponse)
		err = msgpack.Unmarshal(tagged.Data, m.Verification)
	default:
		err = fmt.Errorf("unknown authentication response type %q", tagged.Type)
	}
	if err != nil {
		panic(err)
	}
}
