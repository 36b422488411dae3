package authn

import (
	"crypto/subtle"
	"fmt"
	"io"

	log "github.com/inconshreveable/log15"

	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/wire"
)

// MethodAuthenticator is what a method uses to interact with the client
// while it runs.
type MethodAuthenticator interface {
	Challenge(challenge Challenge) (ChallengeResponse, error)
	Verify(verification Verification) (VerificationResponse, error)
	Info(text string) error
	Error(kind ErrorKind, text string) error
}

// Method is one way of authenticating a client.
type Method interface {
	// ID is the wire name of the method.
	ID() string

	// Authenticate runs the method against one client. A nil return means
	// the client passed.
	Authenticate(auth MethodAuthenticator) error
}

// Verifier owns an ordered list of methods and drives the server side of the
// exchange.
type Verifier struct {
	methods []Method
	log.Logger
}

func NewVerifier(logger log.Logger, methods ...Method) *Verifier {
	if len(methods) == 0 {
		methods = []Method{NoneMethod{}}
	}
	return &Verifier{methods: methods, Logger: logger}
}

// MethodIDs lists the methods offered, in order.
func (v *Verifier) MethodIDs() []string {
	ids := make([]string, 0, len(v.methods))
	for _, m := range v.methods {
		ids = append(ids, m.ID())
	}
	return ids
}

// Verify sends Initialization, runs each client-selected method in the
// verifier's order, and emits Finished on the first success, returning the
// winning method id. If every method fails the client receives a fatal error
// and Verify returns permission denied.
func (v *Verifier) Verify(t *wire.FramedTransport) (string, error) {
	auth := &transportAuthenticator{t: t}

	offered := v.MethodIDs()
	if err := t.WriteFrameFor(&serverMessage{Initialization: &Initialization{Methods: offered}}); err != nil {
		return "", err
	}
	var init clientMessage
	if err := t.ReadFrameAs(&init); err != nil {
		if err == io.EOF {
			return "", proto.NewError(proto.KindUnexpectedEOF, "client closed during authentication")
		}
		return "", err
	}
	if init.Initialization == nil {
		return "", proto.NewError(proto.KindInvalidData, "expected initialization response")
	}

	selected := make(map[string]bool, len(init.Initialization.Methods))
	for _, id := range init.Initialization.Methods {
		selected[id] = true
	}

	for _, method := range v.methods {
		if !selected[method.ID()] {
			continue
		}
		v.Debug("running authentication method", "method", method.ID())
		if err := t.WriteFrameFor(&serverMessage{StartMethod: &StartMethod{Method: method.ID()}}); err != nil {
			return "", err
		}
		if err := method.Authenticate(auth); err != nil {
			v.Debug("authentication method failed", "method", method.ID(), "err", err)
			if sendErr := auth.Error(ErrorKindError, err.Error()); sendErr != nil {
				return "", sendErr
			}
			continue
		}
		if err := t.WriteFrameFor(&serverMessage{Finished: &Finished{}}); err != nil {
			return "", err
		}
		v.Info("client authenticated", "method", method.ID())
		return method.ID(), nil
	}

	_ = auth.Error(ErrorKindFatal, "all authentication methods failed")
	return "", proto.NewError(proto.KindPermissionDenied, "all authentication methods failed")
}

type transportAuthenticator struct {
	t *wire.FramedTransport
}

func (a *transportAuthenticator) Challenge(challenge Challenge) (ChallengeResponse, error) {
	if err := a.t.WriteFrameFor(&serverMessage{Challenge: &challenge}); err != nil {
		return ChallengeResponse{}, err
	}
	var reply clientMessage
	if err := a.t.ReadFrameAs(&reply); err != nil {
		return ChallengeResponse{}, err
	}
	if reply.Challenge == nil {
		return ChallengeResponse{}, proto.NewError(proto.KindInvalidData, "expected challenge response")
	}
	return *reply.Challenge, nil
}

func (a *transportAuthenticator) Verify(verification Verification) (VerificationResponse, error) {
	if err := a.t.WriteFrameFor(&serverMessage{Verification: &verification}); err != nil {
		return VerificationResponse{}, err
	}
	var reply clientMessage
	if err := a.t.ReadFrameAs(&reply); err != nil {
		return VerificationResponse{}, err
	}
	if reply.Verification == nil {
		return VerificationResponse{}, proto.NewError(proto.KindInvalidData, "expected verification response")
	}
	return *reply.Verification, nil
}

func (a *transportAuthenticator) Info(text string) error {
	return a.t.WriteFrameFor(&serverMessage{Info: &Info{Text: text}})
}

func (a *transportAuthenticator) Error(kind ErrorKind, text string) error {
	return a.t.WriteFrameFor(&serverMessage{Error: &Error{Kind: kind, Text: text}})
}

// NoneMethod accepts every client.
type NoneMethod struct{}

func (NoneMethod) ID() string { return "none" }

func (NoneMethod) Authenticate(MethodAuthenticator) error { return nil }

// StaticKeyMethod challenges the client for a single key and compares it in
// constant time against the configured value.
type StaticKeyMethod struct {
	Key string
}

func (StaticKeyMethod) ID() string { return "static_key" }

func (m StaticKeyMethod) Authenticate(auth MethodAuthenticator) error {
	resp, err := auth.Challenge(Challenge{
		Questions: []Question{{Label: "key", Text: "key", Options: map[string]string{"echo": "false"}}},
	})
	if err != nil {
		return err
	}
	if len(resp.Answers) != 1 {
		return fmt.Errorf("expected 1 answer, got %d", len(resp.Answers))
	}
	if subtle.ConstantTimeCompare([]byte(resp.Answers[0]), []byte(m.Key)) != 1 {
		return fmt.Errorf("key mismatch")
	}
	return nil
}
