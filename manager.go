package distant

import (
	"context"
	"io"
	"net"

	"github.com/chipsenkbeil/distant-go/internal/authn"
	"github.com/chipsenkbeil/distant-go/internal/client"
	"github.com/chipsenkbeil/distant-go/internal/conn"
	"github.com/chipsenkbeil/distant-go/internal/manager"
	"github.com/chipsenkbeil/distant-go/internal/wire"
	"github.com/chipsenkbeil/distant-go/log"
)

// Manager keeps long-lived connections to servers and lets local processes
// share them over a per-user endpoint (a Unix socket or Windows named pipe)
// as lightweight channels.
type Manager struct {
	inner  *manager.Manager
	config connectConfig
}

// NewManager builds a manager.
func NewManager(l log.Logger) *Manager {
	return &Manager{
		inner:  manager.New(toLog15(l)),
		config: defaultConnectConfig(),
	}
}

// Connect establishes an upstream connection owned by the manager and
// returns the id channels can target.
func (m *Manager) Connect(ctx context.Context, destination string, opts ...ConnectOption) (ConnectionID, error) {
	config := defaultConnectConfig()
	for _, opt := range opts {
		opt(&config)
	}
	creds, err := ParseCredentialsLax(destination)
	if err != nil {
		return 0, err
	}
	handler := config.handler
	if handler == nil {
		handler = authn.NewStaticKeyHandler(creds.Key)
	}

	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		d := net.Dialer{Timeout: config.dialTimeout}
		return d.DialContext(ctx, "tcp", creds.Addr())
	}
	raw, err := dial(ctx)
	if err != nil {
		return 0, ErrConnectFailed{Context: ConnectContext{Addr: creds.Addr()}, Inner: err}
	}
	transport := wire.NewFramedTransport(raw, wire.WithDialer(dial))
	established, err := conn.Client(m.inner.Logger, transport, handler)
	if err != nil {
		transport.Close()
		return 0, err
	}
	upstream := client.New(m.inner.Logger, established, client.Config{Reconnect: config.reconnect})
	return m.inner.Register(upstream), nil
}

// Disconnect closes one upstream connection and its channels.
func (m *Manager) Disconnect(id ConnectionID) {
	m.inner.Unregister(id)
}

// ListenAndServe binds the local endpoint (the default per-user location
// when path is empty) and serves local clients until Shutdown.
func (m *Manager) ListenAndServe(path string) error {
	listener, err := manager.ListenEndpoint(path)
	if err != nil {
		return err
	}
	return m.inner.Serve(listener)
}

// Serve serves local clients from an existing listener.
func (m *Manager) Serve(listener net.Listener) error {
	return m.inner.Serve(listener)
}

// Shutdown stops serving local clients.
func (m *Manager) Shutdown() {
	m.inner.Shutdown()
}
