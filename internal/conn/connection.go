// Package conn turns raw transports into established connections: handshake,
// connect-type exchange, authentication, reauth key derivation, and the
// reconnect path that replays missed frames.
package conn

import (
	"context"
	"fmt"
	"io"
	"math/rand"

	log "github.com/inconshreveable/log15"
	"github.com/ugorji/go/codec"

	"github.com/chipsenkbeil/distant-go/internal/authn"
	"github.com/chipsenkbeil/distant-go/internal/msgpack"
	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/wire"
)

const (
	typeConnect   = "connect"
	typeReconnect = "reconnect"
)

// connectType is what a client declares right after the handshake: a fresh
// connection, or a reconnect carrying the previous id and the one-time key.
type connectType struct {
	ID  proto.ConnectionID
	OTP []byte

	reconnect bool
}

func (c *connectType) CodecEncodeSelf(e *codec.Encoder) {
	var raw []byte
	var err error
	if c.reconnect {
		raw, err = msgpack.Marshal(map[string]any{
			"type": typeReconnect,
			"data": map[string]any{"id": c.ID, "otp": c.OTP},
		})
	} else {
		raw, err = msgpack.Marshal(map[string]any{"type": typeConnect})
	}
	if err != nil {
		panic(err)
	}
	e.MustEncode(codec.Raw(raw))
}

func (c *connectType) CodecDecodeSelf(d *codec.Decoder) {
	var m struct {
		Type string `codec:"type"`
		Data struct {
			ID  proto.ConnectionID `codec:"id"`
			OTP []byte             `codec:"otp"`
		} `codec:"data"`
	}
	d.MustDecode(&m)
	switch m.Type {
	case typeConnect:
		c.reconnect = false
	case typeReconnect:
		c.reconnect = true
		c.ID = m.Data.ID
		c.OTP = m.Data.OTP
	default:
		panic(fmt.Errorf("unknown connect type %q", m.Type))
	}
}

type connectionIDFrame struct {
	ID proto.ConnectionID `codec:"id"`
}

// Connection is an established client- or server-side connection.
type Connection struct {
	id        proto.ConnectionID
	transport *wire.FramedTransport

	// Client side only: handler and one-time key for the next reconnect.
	handler   authn.AuthHandler
	reauthOTP []byte

	// Server side only: delivers the final backup to the keychain on close.
	backupTx chan<- *wire.Backup

	log.Logger
}

func (c *Connection) ID() proto.ConnectionID           { return c.id }
func (c *Connection) Transport() *wire.FramedTransport { return c.transport }

// Client establishes the client side of a connection: handshake, declare a
// fresh connection, receive the server-issued id, authenticate, and derive
// the reauth key for a future reconnect.
func Client(logger log.Logger, transport *wire.FramedTransport, handler authn.AuthHandler) (*Connection, error) {
	logger = logger.New("side", "client")

	logger.Debug("performing handshake")
	if err := transport.ClientHandshake(); err != nil {
		return nil, err
	}

	logger.Debug("declaring new connection")
	if err := transport.WriteFrameFor(&connectType{}); err != nil {
		return nil, err
	}
	var idFrame connectionIDFrame
	if err := transport.ReadFrameAs(&idFrame); err != nil {
		if err == io.EOF {
			return nil, proto.NewError(proto.KindUnexpectedEOF, "missing connection id frame")
		}
		return nil, err
	}
	logger = logger.New("connid", idFrame.ID)

	logger.Debug("performing authentication")
	if err := authn.Authenticate(transport, handler); err != nil {
		return nil, err
	}

	logger.Debug("deriving reauth key")
	otp, err := transport.ExchangeKeys(true)
	if err != nil {
		return nil, err
	}

	return &Connection{
		id:        idFrame.ID,
		transport: transport,
		handler:   handler,
		reauthOTP: otp,
		Logger:    logger,
	}, nil
}

// Reconnect re-establishes a dropped client connection: it redials, runs a
// fresh handshake, proves identity with the reauth key, adopts the new id,
// derives the next reauth key, and replays missed frames.
//
// The caller must hold the transport exclusively for the whole call: no
// other goroutine may read or write frames until Reconnect returns. A frame
// written mid-handshake would interleave with the hello/claim exchange and,
// with the backup frozen, would never be recorded for replay. The client
// package enforces this with its write gate.
func (c *Connection) Reconnect(ctx context.Context) error {
	if c.reauthOTP == nil {
		return proto.NewError(proto.KindUnsupported, "server connection cannot reconnect")
	}

	backup := c.transport.Backup()
	backup.Freeze()
	err := c.reconnectInner(ctx)
	backup.Unfreeze()
	if err != nil {
		return err
	}

	c.Debug("synchronizing frame state")
	return c.transport.Synchronize()
}

func (c *Connection) reconnectInner(ctx context.Context) error {
	c.Debug("re-establishing connection")
	if err := c.transport.Reconnect(ctx); err != nil {
		return err
	}
	if err := c.transport.ClientHandshake(); err != nil {
		return err
	}

	c.Debug("performing reauthentication")
	if err := c.transport.WriteFrameFor(&connectType{reconnect: true, ID: c.id, OTP: c.reauthOTP}); err != nil {
		return err
	}
	var idFrame connectionIDFrame
	if err := c.transport.ReadFrameAs(&idFrame); err != nil {
		if err == io.EOF {
			return proto.NewError(proto.KindPermissionDenied, "server rejected reconnect")
		}
		return err
	}
	c.Debug("adopting new connection id", "newid", idFrame.ID)
	c.id = idFrame.ID
	c.Logger = c.New("connid", idFrame.ID)

	otp, err := c.transport.ExchangeKeys(true)
	if err != nil {
		return err
	}
	c.reauthOTP = otp
	return nil
}

// Server establishes the server side of a connection. Fresh connections are
// verified by the verifier; reconnects are validated against the keychain and
// have their previous backup restored before synchronizing.
func Server(logger log.Logger, transport *wire.FramedTransport, verifier *authn.Verifier, keychain *Keychain) (*Connection, error) {
	id := rand.Uint32()
	logger = logger.New("side", "server", "connid", id)

	logger.Debug("performing handshake")
	if err := transport.ServerHandshake(); err != nil {
		return nil, err
	}

	logger.Debug("waiting for connection type")
	var ct connectType
	if err := transport.ReadFrameAs(&ct); err != nil {
		if err == io.EOF {
			return nil, proto.NewError(proto.KindUnexpectedEOF, "missing connection type frame")
		}
		return nil, err
	}

	// Buffered so the closing connection never blocks handing its backup to
	// a keychain entry nobody claims.
	backupTx := make(chan *wire.Backup, 1)

	if !ct.reconnect {
		logger.Debug("issuing connection id")
		if err := transport.WriteFrameFor(connectionIDFrame{ID: id}); err != nil {
			return nil, err
		}

		logger.Debug("verifying connection")
		if _, err := verifier.Verify(transport); err != nil {
			return nil, err
		}

		logger.Debug("deriving reauth key")
		otp, err := transport.ExchangeKeys(false)
		if err != nil {
			return nil, err
		}
		keychain.Insert(id, otp, backupTx)
	} else {
		logger.Debug("validating reconnect claim", "oldid", ct.ID)
		backupRx, result := keychain.RemoveIfHasKey(ct.ID, ct.OTP)
		switch result {
		case KeychainInvalidID, KeychainInvalidKey:
			// Close without revealing whether the id existed.
			transport.Close()
			return nil, proto.NewError(proto.KindPermissionDenied, "invalid reconnect credentials")
		}

		if err := transport.WriteFrameFor(connectionIDFrame{ID: id}); err != nil {
			return nil, err
		}

		otp, err := transport.ExchangeKeys(false)
		if err != nil {
			return nil, err
		}

		logger.Debug("restoring backup and synchronizing")
		select {
		case backup := <-backupRx:
			transport.SetBackup(backup)
		default:
			logger.Warn("missing backup for reconnect")
		}
		if err := transport.Synchronize(); err != nil {
			return nil, err
		}
		keychain.Insert(id, otp, backupTx)
	}

	return &Connection{
		id:        id,
		transport: transport,
		backupTx:  backupTx,
		Logger:    logger,
	}, nil
}

// Close tears down the connection. A server connection hands its backup to
// the keychain entry so a reconnecting client can claim and replay it.
func (c *Connection) Close() error {
	if c.backupTx != nil {
		select {
		case c.backupTx <- c.transport.Backup().Take():
		default:
		}
		c.backupTx = nil
	}
	return c.transport.Close()
}
