package distant

import (
	"context"
	"io"
	"net"

	log15 "github.com/inconshreveable/log15"

	"github.com/chipsenkbeil/distant-go/internal/authn"
	"github.com/chipsenkbeil/distant-go/internal/client"
	"github.com/chipsenkbeil/distant-go/internal/conn"
	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/wire"
)

// Client is an established session against one server. All typed operations
// hang off it; see the fs, proc, watch, and search files.
type Client struct {
	inner  *client.Client
	config connectConfig
	logger log15.Logger
}

// Connect dials a server and establishes an authenticated, encrypted
// session. The destination accepts the strict credentials form
// distant://KEY@HOST:PORT or a bare HOST:PORT combined with WithKey.
func Connect(ctx context.Context, destination string, opts ...ConnectOption) (*Client, error) {
	config := defaultConnectConfig()
	for _, opt := range opts {
		opt(&config)
	}

	creds, err := ParseCredentialsLax(destination)
	if err != nil {
		return nil, ErrConnectFailed{Context: ConnectContext{Addr: destination}, Inner: err}
	}
	handler := config.handler
	if handler == nil {
		handler = authn.NewStaticKeyHandler(creds.Key)
	}

	logger := toLog15(config.logger)

	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		d := net.Dialer{Timeout: config.dialTimeout}
		return d.DialContext(ctx, "tcp", creds.Addr())
	}

	raw, err := dial(ctx)
	if err != nil {
		return nil, ErrConnectFailed{Context: ConnectContext{Addr: creds.Addr()}, Inner: err}
	}

	transportOpts := []wire.TransportOption{wire.WithDialer(dial)}
	if config.backupCapacity > 0 {
		transportOpts = append(transportOpts, wire.WithBackupCapacity(config.backupCapacity))
	}
	transport := wire.NewFramedTransport(raw, transportOpts...)

	established, err := conn.Client(logger, transport, handler)
	if err != nil {
		transport.Close()
		if IsKind(err, KindPermissionDenied) {
			return nil, ErrAuthFailed{Inner: err}
		}
		return nil, ErrConnectFailed{Context: ConnectContext{Addr: creds.Addr()}, Inner: err}
	}

	inner := client.New(logger, established, client.Config{
		Reconnect:         config.reconnect,
		MailboxTTL:        config.mailboxTTL,
		HeartbeatInterval: config.heartbeat,
	})
	return &Client{inner: inner, config: config, logger: logger}, nil
}

// ID reports the server-issued connection id; it changes on reconnect.
func (c *Client) ID() ConnectionID { return c.inner.ID() }

// Reconnect forces an immediate reconnect-and-replay.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.inner.Reconnect(ctx)
}

func (c *Client) Close() error {
	return c.inner.Close()
}

// opCtx applies the configured request timeout to single-response
// operations.
func (c *Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.config.requestTimeout)
}

// roundTrip issues one request and decodes its single response payload,
// translating a wire Error into a Go error.
func (c *Client) roundTrip(ctx context.Context, op string, payload proto.RequestPayload) (proto.ResponsePayload, error) {
	req, err := proto.NewRequest(payload)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	resp, err := c.inner.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := resp.Payload()
	if err != nil {
		return nil, err
	}
	if remote, ok := result.(*proto.Error); ok {
		return nil, remote
	}
	return result, nil
}

// expectOk consumes operations whose only success payload is Ok.
func (c *Client) expectOk(ctx context.Context, op string, payload proto.RequestPayload) error {
	result, err := c.roundTrip(ctx, op, payload)
	if err != nil {
		return err
	}
	if _, ok := result.(*proto.Ok); !ok {
		return ErrUnexpectedResponse{Context: UnexpectedResponseContext{Op: op, Got: payloadName(result)}}
	}
	return nil
}

func payloadName(p proto.ResponsePayload) string {
	switch p.(type) {
	case *proto.Ok:
		return "ok"
	case *proto.Blob:
		return "blob"
	case *proto.Text:
		return "text"
	case *proto.DirEntries:
		return "dir_entries"
	case *proto.Changed:
		return "changed"
	case *proto.ExistsResponse:
		return "exists"
	case *proto.Metadata:
		return "metadata"
	case *proto.SystemInfo:
		return "system_info"
	case *proto.VersionResponse:
		return "version"
	default:
		return "unknown"
	}
}

// SystemInfo fetches platform details of the server host.
func (c *Client) SystemInfo(ctx context.Context) (SystemInfo, error) {
	result, err := c.roundTrip(ctx, "system_info", proto.SystemInfoRequest{})
	if err != nil {
		return SystemInfo{}, err
	}
	info, ok := result.(*proto.SystemInfo)
	if !ok {
		return SystemInfo{}, ErrUnexpectedResponse{Context: UnexpectedResponseContext{Op: "system_info", Got: payloadName(result)}}
	}
	return *info, nil
}

// Version fetches the server build and protocol versions.
func (c *Client) Version(ctx context.Context) (VersionResponse, error) {
	result, err := c.roundTrip(ctx, "version", proto.VersionRequest{})
	if err != nil {
		return VersionResponse{}, err
	}
	version, ok := result.(*proto.VersionResponse)
	if !ok {
		return VersionResponse{}, ErrUnexpectedResponse{Context: UnexpectedResponseContext{Op: "version", Got: payloadName(result)}}
	}
	return *version, nil
}
