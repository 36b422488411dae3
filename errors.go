package distant

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/chipsenkbeil/distant-go/internal/proto"
)

// ErrorKind is the wire-stable failure category carried by server errors.
type ErrorKind = proto.ErrorKind

// Error kinds commonly observed by clients.
const (
	KindNotFound         = proto.KindNotFound
	KindPermissionDenied = proto.KindPermissionDenied
	KindBrokenPipe       = proto.KindBrokenPipe
	KindAlreadyExists    = proto.KindAlreadyExists
	KindInvalidInput     = proto.KindInvalidInput
	KindInvalidData      = proto.KindInvalidData
	KindTimedOut         = proto.KindTimedOut
	KindUnsupported      = proto.KindUnsupported
	KindOther            = proto.KindOther
)

// RemoteError is a typed failure reported by the server for one operation.
type RemoteError = proto.Error

// IsKind reports whether err carries the given wire error kind.
func IsKind(err error, kind ErrorKind) bool {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Kind == kind
	}
	return false
}

type ErrContext interface {
	message() string
}

type Error[C ErrContext] struct {
	Inner   error
	Context C
}

func (e Error[C]) Unwrap() error {
	return e.Inner
}

func (e Error[C]) Error() string {
	msg := e.Context.message()
	if e.Inner != nil {
		return fmt.Sprintf("%s: %v", msg, e.Inner.Error())
	}
	return msg
}

func (e Error[C]) Is(other error) bool {
	return reflect.TypeOf(e) == reflect.TypeOf(other)
}

type ErrConnectFailed = Error[ConnectContext]
type ConnectContext struct {
	Addr string
}

func (c ConnectContext) message() string {
	return fmt.Sprintf("failed to connect to server at %q", c.Addr)
}

type ErrAuthFailed = Error[AuthFailedContext]
type AuthFailedContext struct{}

func (c AuthFailedContext) message() string {
	return "authentication failed"
}

type ErrUnexpectedResponse = Error[UnexpectedResponseContext]
type UnexpectedResponseContext struct {
	Op  string
	Got string
}

func (c UnexpectedResponseContext) message() string {
	return fmt.Sprintf("%s returned unexpected %s response", c.Op, c.Got)
}
