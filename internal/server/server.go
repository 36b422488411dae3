// Package server accepts transports, establishes connections (handshake,
// connect-type, verification), and runs the per-connection request loop that
// dispatches typed operations onto an API backend.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"
	"golang.org/x/net/netutil"

	"github.com/chipsenkbeil/distant-go/internal/authn"
	"github.com/chipsenkbeil/distant-go/internal/conn"
	"github.com/chipsenkbeil/distant-go/internal/wire"
)

// Server accepts connections and serves an API backend over them.
type Server struct {
	api      API
	verifier *authn.Verifier
	keychain *conn.Keychain
	config   Config

	mu       sync.Mutex
	active   int
	lonely   *time.Timer
	shutdown chan struct{}
	once     sync.Once

	log.Logger
}

func New(logger log.Logger, api API, verifier *authn.Verifier, config Config) *Server {
	config.withDefaults()
	return &Server{
		api:      api,
		verifier: verifier,
		keychain: conn.NewKeychain(config.KeychainTTL),
		config:   config,
		shutdown: make(chan struct{}),
		Logger:   logger,
	}
}

// Keychain exposes the server's reconnect keychain; it is process-local and
// never persisted.
func (s *Server) Keychain() *conn.Keychain { return s.keychain }

// Shutdown asks the server to stop accepting and lets Serve return.
func (s *Server) Shutdown() {
	s.once.Do(func() { close(s.shutdown) })
}

// Serve accepts connections from the listener until Shutdown is triggered,
// the shutdown policy fires, or the context ends. Individual connection
// failures never stop the server.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.config.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.config.MaxConnections)
	}

	switch s.config.Shutdown.Kind {
	case ShutdownAfter:
		timer := time.AfterFunc(s.config.Shutdown.Duration, func() {
			s.Info("shutdown policy fired", "policy", s.config.Shutdown.String())
			s.Shutdown()
		})
		defer timer.Stop()
	case ShutdownLonely:
		s.armLonelyTimer()
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-s.shutdown:
		}
		listener.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		raw, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.Warn("accept failed", "err", err)
			continue
		}

		s.connectionStarted()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.connectionEnded()
			s.handle(raw)
		}()
	}
}

// handle upgrades one raw transport into an established connection and runs
// its request loop to completion.
func (s *Server) handle(raw net.Conn) {
	logger := s.New("peer", raw.RemoteAddr().String())

	transport := wire.NewFramedTransport(raw,
		wire.WithMaxFrameSize(s.config.MaxFrameSize),
		wire.WithBackupCapacity(s.config.BackupCapacity),
	)
	established, err := conn.Server(logger, transport, s.verifier, s.keychain)
	if err != nil {
		logger.Warn("failed to establish connection", "err", err)
		transport.Close()
		return
	}

	logger.Info("connection established", "connid", established.ID())
	newConnection(established.Logger, established, s.api, s.config).serve()
	logger.Info("connection ended", "connid", established.ID())
}

func (s *Server) connectionStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active++
	if s.lonely != nil {
		s.lonely.Stop()
		s.lonely = nil
	}
}

func (s *Server) connectionEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	if s.active == 0 && s.config.Shutdown.Kind == ShutdownLonely {
		s.armLonelyTimerLocked()
	}
}

func (s *Server) armLonelyTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLonelyTimerLocked()
}

func (s *Server) armLonelyTimerLocked() {
	if s.lonely != nil {
		s.lonely.Stop()
	}
	s.lonely = time.AfterFunc(s.config.Shutdown.Duration, func() {
		s.Info("shutdown policy fired", "policy", s.config.Shutdown.String())
		s.Shutdown()
	})
}
