package distant

import (
	"context"
	"fmt"

	"github.com/inconshreveable/log15"

	"github.com/chipsenkbeil/distant-go/log"
)

type log15Handler struct {
	log.Logger
}

// The internals all use log15, so the public logging interface is converted
// to log15. If the provided Logger already implements the log15 interface,
// it is downcast and used directly; otherwise a new log15.Logger is
// constructed with the provided Logger as its Handler.
func toLog15(l log.Logger) log15.Logger {
	if l == nil {
		logger := log15.New()
		logger.SetHandler(log15.DiscardHandler())
		return logger
	}
	if logger, ok := l.(log15.Logger); ok {
		return logger
	}

	logger := log15.New()
	logger.SetHandler(&log15Handler{l})
	return logger
}

func (l *log15Handler) Log(r *log15.Record) error {
	lvl := log.LogLevelNone
	switch r.Lvl {
	case log15.LvlCrit:
		lvl = log.LogLevelError
	case log15.LvlError:
		lvl = log.LogLevelError
	case log15.LvlWarn:
		lvl = log.LogLevelWarn
	case log15.LvlInfo:
		lvl = log.LogLevelInfo
	case log15.LvlDebug:
		lvl = log.LogLevelDebug
	case log15.LvlDebug + 1:
		// Trace, if someone happens to hack it in.
		lvl = log.LogLevelTrace
	}

	data := make(map[string]interface{}, len(r.Ctx)/2)
	for i := 0; i < len(r.Ctx); i += 2 {
		var (
			k  string
			ok bool
			v  interface{}
		)
		// The default upstream log15 formatter chooses to treat non-strings
		// as errors. Sprint them instead.
		k, ok = r.Ctx[i].(string)
		if !ok {
			k = fmt.Sprint(r.Ctx[i])
		}
		// log15 guarantees an even number of context values, but just in
		// case.
		if len(r.Ctx) > i+1 {
			v = r.Ctx[i+1]
		} else {
			v = "MISSING_VALUE"
		}
		data[k] = v
	}

	l.Logger.Log(context.Background(), lvl, r.Msg, data)
	return nil
}
