package authn

import (
	"fmt"
	"io"

	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/wire"
)

// Authenticate runs the client side of the exchange: it reads server
// messages off the transport, dispatches them to the handler, and writes the
// handler's answers back until the server reports Finished or a fatal error.
func Authenticate(t *wire.FramedTransport, handler AuthHandler) error {
	for {
		var msg serverMessage
		if err := t.ReadFrameAs(&msg); err != nil {
			if err == io.EOF {
				return proto.NewError(proto.KindUnexpectedEOF, "authentication ended early")
			}
			return err
		}

		switch {
		case msg.Initialization != nil:
			methods, err := handler.OnInitialization(*msg.Initialization)
			if err != nil {
				return err
			}
			reply := clientMessage{Initialization: &InitializationResponse{Methods: methods}}
			if err := t.WriteFrameFor(&reply); err != nil {
				return err
			}

		case msg.StartMethod != nil:
			handler.OnStartMethod(msg.StartMethod.Method)

		case msg.Challenge != nil:
			answers, err := handler.OnChallenge(*msg.Challenge)
			if err != nil {
				return err
			}
			reply := clientMessage{Challenge: &ChallengeResponse{Answers: answers}}
			if err := t.WriteFrameFor(&reply); err != nil {
				return err
			}

		case msg.Verification != nil:
			valid, err := handler.OnVerification(*msg.Verification)
			if err != nil {
				return err
			}
			reply := clientMessage{Verification: &VerificationResponse{Valid: valid}}
			if err := t.WriteFrameFor(&reply); err != nil {
				return err
			}

		case msg.Info != nil:
			handler.OnInfo(msg.Info.Text)

		case msg.Error != nil:
			handler.OnError(msg.Error.Kind, msg.Error.Text)
			if msg.Error.Kind == ErrorKindFatal {
				return proto.NewError(proto.KindPermissionDenied, msg.Error.Text)
			}

		case msg.Finished != nil:
			handler.OnFinished()
			return nil

		default:
			return fmt.Errorf("unexpected authentication message")
		}
	}
}
