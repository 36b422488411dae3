// Package log defines the logging interface accepted by the distant client,
// server, and manager. It carries no dependencies of its own so callers can
// satisfy it with whatever logging library they already use; adapters for
// common libraries live in subpackages.
package log

import (
	"context"
	"fmt"
)

type LogLevel = int

type ErrInvalidLogLevel struct {
	Level any
}

func (e ErrInvalidLogLevel) Error() string {
	return fmt.Sprintf("invalid log level: %v", e.Level)
}

const (
	LogLevelTrace = 6
	LogLevelDebug = 5
	LogLevelInfo  = 4
	LogLevelWarn  = 3
	LogLevelError = 2
	LogLevelNone  = 1
)

// Logger is the capability handed to the library. LogLevel is a type alias
// rather than a newtype so that implementations don't need to import this
// package to satisfy the interface.
type Logger interface {
	// Log a message at the given level with data key/value pairs. data may be nil.
	Log(context context.Context, level LogLevel, msg string, data map[string]interface{})
}

func StringFromLogLevel(lvl LogLevel) (string, error) {
	switch lvl {
	case LogLevelTrace:
		return "trace", nil
	case LogLevelDebug:
		return "debug", nil
	case LogLevelInfo:
		return "info", nil
	case LogLevelWarn:
		return "warn", nil
	case LogLevelError:
		return "error", nil
	case LogLevelNone:
		return "none", nil
	default:
		return "invalid", ErrInvalidLogLevel{lvl}
	}
}

func LogLevelFromString(s string) (LogLevel, error) {
	switch s {
	case "trace":
		return LogLevelTrace, nil
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none":
		return LogLevelNone, nil
	default:
		return 0, ErrInvalidLogLevel{s}
	}
}
