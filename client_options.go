package distant

import (
	"time"

	"github.com/chipsenkbeil/distant-go/internal/authn"
	"github.com/chipsenkbeil/distant-go/log"
)

type connectConfig struct {
	logger         log.Logger
	handler        authn.AuthHandler
	requestTimeout time.Duration
	dialTimeout    time.Duration
	reconnect      bool
	backupCapacity int
	mailboxTTL     time.Duration
	heartbeat      time.Duration
}

func defaultConnectConfig() connectConfig {
	return connectConfig{
		requestTimeout: 15 * time.Second,
		dialTimeout:    10 * time.Second,
		reconnect:      true,
	}
}

// ConnectOption tunes Connect.
type ConnectOption func(*connectConfig)

// WithLogger routes library logging to the given logger.
func WithLogger(l log.Logger) ConnectOption {
	return func(c *connectConfig) { c.logger = l }
}

// WithKey authenticates using a static key, overriding any key embedded in
// the destination string.
func WithKey(key string) ConnectOption {
	return func(c *connectConfig) { c.handler = authn.NewStaticKeyHandler(key) }
}

// WithAuthHandler supplies a custom handler for the authentication exchange.
func WithAuthHandler(h authn.AuthHandler) ConnectOption {
	return func(c *connectConfig) { c.handler = h }
}

// WithRequestTimeout bounds every single-response operation. Zero disables
// the default timeout.
func WithRequestTimeout(d time.Duration) ConnectOption {
	return func(c *connectConfig) { c.requestTimeout = d }
}

// WithDialTimeout bounds the TCP dial.
func WithDialTimeout(d time.Duration) ConnectOption {
	return func(c *connectConfig) { c.dialTimeout = d }
}

// WithoutReconnect disables transparent reconnect-and-replay.
func WithoutReconnect() ConnectOption {
	return func(c *connectConfig) { c.reconnect = false }
}

// WithBackupCapacity overrides the replay window, in frames.
func WithBackupCapacity(frames int) ConnectOption {
	return func(c *connectConfig) { c.backupCapacity = frames }
}

// WithMailboxTTL overrides how long an idle mailbox survives.
func WithMailboxTTL(d time.Duration) ConnectOption {
	return func(c *connectConfig) { c.mailboxTTL = d }
}

// WithHeartbeat sends idle heartbeats at the given interval so half-open
// connections are noticed. Zero (the default) disables them.
func WithHeartbeat(d time.Duration) ConnectOption {
	return func(c *connectConfig) { c.heartbeat = d }
}

// PromptAuthHandler returns a handler that answers authentication questions
// interactively, in the style of an ssh client.
var PromptAuthHandler = authn.NewPromptHandler

// StaticKeyAuthHandler returns a handler that answers every challenge with
// the given key.
var StaticKeyAuthHandler = authn.NewStaticKeyHandler
