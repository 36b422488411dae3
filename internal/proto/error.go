package proto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"syscall"
)

// ErrorKind is the wire-stable label describing a failure category. Every
// error that crosses the wire is reduced to one of these.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindPermissionDenied  ErrorKind = "permission_denied"
	KindConnectionRefused ErrorKind = "connection_refused"
	KindConnectionReset   ErrorKind = "connection_reset"
	KindConnectionAborted ErrorKind = "connection_aborted"
	KindNotConnected      ErrorKind = "not_connected"
	KindAddrInUse         ErrorKind = "addr_in_use"
	KindAddrNotAvailable  ErrorKind = "addr_not_available"
	KindBrokenPipe        ErrorKind = "broken_pipe"
	KindAlreadyExists     ErrorKind = "already_exists"
	KindWouldBlock        ErrorKind = "would_block"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindInvalidData       ErrorKind = "invalid_data"
	KindTimedOut          ErrorKind = "timed_out"
	KindWriteZero         ErrorKind = "write_zero"
	KindInterrupted       ErrorKind = "interrupted"
	KindOther             ErrorKind = "other"
	KindUnexpectedEOF     ErrorKind = "unexpected_eof"
	KindUnsupported       ErrorKind = "unsupported"
	KindOutOfMemory       ErrorKind = "out_of_memory"
	KindLoop              ErrorKind = "loop"
	KindTaskCancelled     ErrorKind = "task_cancelled"
	KindTaskPanicked      ErrorKind = "task_panicked"
	KindUnknown           ErrorKind = "unknown"
)

// Error is the general-purpose failure type sent across the wire.
type Error struct {
	Kind        ErrorKind `codec:"kind"`
	Description string    `codec:"description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// Is matches two wire errors by kind so callers can use errors.Is with a
// kind-only probe.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

func NewError(kind ErrorKind, description string) *Error {
	return &Error{Kind: kind, Description: description}
}

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Description: fmt.Sprintf(format, args...)}
}

// ErrorFromErr translates an arbitrary Go error into the wire taxonomy. A
// *proto.Error passes through unchanged.
func ErrorFromErr(err error) *Error {
	if err == nil {
		return nil
	}
	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr
	}
	return &Error{Kind: KindFromErr(err), Description: err.Error()}
}

// KindFromErr maps Go error values onto the wire taxonomy, checking sentinel
// errors, fs errors, and syscall errnos in that order.
func KindFromErr(err error) ErrorKind {
	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr.Kind
	}
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, io.ErrUnexpectedEOF):
		return KindUnexpectedEOF
	case errors.Is(err, io.EOF):
		return KindUnexpectedEOF
	case errors.Is(err, io.ErrShortWrite):
		return KindWriteZero
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	case errors.Is(err, fs.ErrExist):
		return KindAlreadyExists
	case errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimedOut
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimedOut
	case errors.Is(err, context.Canceled):
		return KindTaskCancelled
	case errors.Is(err, fs.ErrClosed):
		return KindBrokenPipe
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED:
			return KindConnectionRefused
		case syscall.ECONNRESET:
			return KindConnectionReset
		case syscall.ECONNABORTED:
			return KindConnectionAborted
		case syscall.ENOTCONN:
			return KindNotConnected
		case syscall.EADDRINUSE:
			return KindAddrInUse
		case syscall.EADDRNOTAVAIL:
			return KindAddrNotAvailable
		case syscall.EPIPE:
			return KindBrokenPipe
		case syscall.EAGAIN:
			return KindWouldBlock
		case syscall.EINVAL:
			return KindInvalidInput
		case syscall.EINTR:
			return KindInterrupted
		case syscall.ENOMEM:
			return KindOutOfMemory
		case syscall.ELOOP:
			return KindLoop
		case syscall.ETIMEDOUT:
			return KindTimedOut
		}
	}
	return KindOther
}
