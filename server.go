package distant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	log15 "github.com/inconshreveable/log15"

	"github.com/chipsenkbeil/distant-go/internal/authn"
	"github.com/chipsenkbeil/distant-go/internal/host"
	"github.com/chipsenkbeil/distant-go/internal/server"
	"github.com/chipsenkbeil/distant-go/log"
)

// Version of this build, reported by the version operation.
const Version = "0.1.0"

type serverConfig struct {
	logger         log.Logger
	key            string
	methods        []authn.Method
	shutdown       server.Shutdown
	maxConnections int
	keychainTTL    time.Duration
	backupCapacity int
}

// ServerOption tunes NewServer.
type ServerOption func(*serverConfig) error

// WithServerLogger routes server logging to the given logger.
func WithServerLogger(l log.Logger) ServerOption {
	return func(c *serverConfig) error {
		c.logger = l
		return nil
	}
}

// WithServerKey requires clients to present this key. Without it a random
// key is generated; read it from Credentials.
func WithServerKey(key string) ServerOption {
	return func(c *serverConfig) error {
		c.key = key
		return nil
	}
}

// WithOpenAccess disables authentication entirely.
func WithOpenAccess() ServerOption {
	return func(c *serverConfig) error {
		c.methods = []authn.Method{authn.NoneMethod{}}
		return nil
	}
}

// WithShutdownPolicy sets "never", "after=SECS", or "lonely=SECS".
func WithShutdownPolicy(policy string) ServerOption {
	return func(c *serverConfig) error {
		parsed, err := server.ParseShutdown(policy)
		if err != nil {
			return err
		}
		c.shutdown = parsed
		return nil
	}
}

// WithMaxConnections caps concurrently served connections.
func WithMaxConnections(n int) ServerOption {
	return func(c *serverConfig) error {
		c.maxConnections = n
		return nil
	}
}

// WithKeychainTTL overrides how long dropped connections stay reclaimable
// by a reconnect.
func WithKeychainTTL(d time.Duration) ServerOption {
	return func(c *serverConfig) error {
		c.keychainTTL = d
		return nil
	}
}

// WithServerBackupCapacity overrides the per-connection replay window.
func WithServerBackupCapacity(frames int) ServerOption {
	return func(c *serverConfig) error {
		c.backupCapacity = frames
		return nil
	}
}

// Server exposes the local machine to distant clients.
type Server struct {
	inner  *server.Server
	key    string
	logger log15.Logger
}

// NewServer builds a server for the local machine.
func NewServer(opts ...ServerOption) (*Server, error) {
	var config serverConfig
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return nil, err
		}
	}

	key := config.key
	if key == "" && config.methods == nil {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		key = hex.EncodeToString(buf)
	}

	methods := config.methods
	if methods == nil {
		methods = []authn.Method{authn.StaticKeyMethod{Key: key}}
	}

	logger := toLog15(config.logger)
	verifier := authn.NewVerifier(logger, methods...)
	backend := host.New(logger, Version)

	inner := server.New(logger, backend, verifier, server.Config{
		Shutdown:       config.shutdown,
		MaxConnections: config.maxConnections,
		KeychainTTL:    config.keychainTTL,
		BackupCapacity: config.backupCapacity,
		ServerVersion:  Version,
	})
	return &Server{inner: inner, key: key, logger: logger}, nil
}

// Credentials renders the single-line connect string for the given
// listening address.
func (s *Server) Credentials(addr net.Addr) (Credentials, error) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return Credentials{}, err
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return Credentials{}, err
	}
	return Credentials{Host: host, Port: port, Key: s.key}, nil
}

// Serve accepts and serves connections from the listener until the context
// ends or the shutdown policy fires.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	return s.inner.Serve(ctx, listener)
}

// ListenAndServe binds a TCP address and serves it.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() {
	s.inner.Shutdown()
}
