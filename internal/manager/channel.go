package manager

import (
	"context"
	"io"
	"sync"

	"github.com/hashicorp/yamux"
	log "github.com/inconshreveable/log15"

	"github.com/chipsenkbeil/distant-go/internal/client"
	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/wire"
)

// ManagerClient is the local-process side of a manager session. Channels it
// opens behave like ordinary framed transports, so the same client code runs
// over a direct or a proxied connection.
type ManagerClient struct {
	mux *yamux.Session
	ft  *wire.FramedTransport
	wmu sync.Mutex

	mu       sync.Mutex
	channels map[proto.ChannelID]*Channel
	opens    []chan openResult

	done     chan struct{}
	doneOnce sync.Once

	log.Logger
}

type openResult struct {
	id  proto.ChannelID
	err error
}

// Connect wraps a raw connection to the manager's local endpoint.
func Connect(logger log.Logger, raw io.ReadWriteCloser) (*ManagerClient, error) {
	mux, err := yamux.Client(raw, nil)
	if err != nil {
		return nil, err
	}
	stream, err := mux.OpenStream()
	if err != nil {
		mux.Close()
		return nil, err
	}
	mc := &ManagerClient{
		mux:      mux,
		ft:       wire.NewFramedTransport(stream),
		channels: make(map[proto.ChannelID]*Channel),
		done:     make(chan struct{}),
		Logger:   logger.New("obj", "mgrclient"),
	}
	go mc.reader()
	return mc, nil
}

func (mc *ManagerClient) send(req proto.ManagerRequest) error {
	mc.wmu.Lock()
	defer mc.wmu.Unlock()
	return mc.ft.WriteFrameFor(&req)
}

// OpenChannel asks the manager for a logical channel to the given upstream
// connection.
func (mc *ManagerClient) OpenChannel(ctx context.Context, connID proto.ConnectionID) (*Channel, error) {
	waiter := make(chan openResult, 1)
	mc.mu.Lock()
	mc.opens = append(mc.opens, waiter)
	mc.mu.Unlock()

	if err := mc.send(proto.ManagerRequest{OpenChannel: &proto.OpenChannel{ConnectionID: connID}}); err != nil {
		return nil, err
	}

	select {
	case result := <-waiter:
		if result.err != nil {
			return nil, result.err
		}
		ch := newChannel(mc, result.id)
		mc.mu.Lock()
		mc.channels[result.id] = ch
		mc.mu.Unlock()
		return ch, nil
	case <-ctx.Done():
		return nil, proto.ErrorFromErr(ctx.Err())
	case <-mc.done:
		return nil, proto.NewError(proto.KindBrokenPipe, "manager connection closed")
	}
}

// CloseChannel terminates one logical channel without affecting siblings.
func (mc *ManagerClient) CloseChannel(ch *Channel) error {
	mc.mu.Lock()
	delete(mc.channels, ch.id)
	mc.mu.Unlock()
	ch.shutdown()
	return mc.send(proto.ManagerRequest{ChannelClosed: &proto.ChannelClosed{ChannelID: ch.id}})
}

func (mc *ManagerClient) Close() error {
	mc.doneOnce.Do(func() {
		close(mc.done)
		mc.mu.Lock()
		for _, ch := range mc.channels {
			ch.shutdown()
		}
		mc.channels = make(map[proto.ChannelID]*Channel)
		mc.mu.Unlock()
		mc.ft.Close()
		mc.mux.Close()
	})
	return nil
}

func (mc *ManagerClient) reader() {
	defer mc.Close()
	for {
		var resp proto.ManagerResponse
		if err := mc.ft.ReadFrameAs(&resp); err != nil {
			return
		}
		switch {
		case resp.ChannelOpened != nil:
			mc.resolveOpen(openResult{id: resp.ChannelOpened.ChannelID})
		case resp.Error != nil:
			mc.resolveOpen(openResult{err: proto.NewError(proto.KindOther, resp.Error.Description)})
		case resp.Channel != nil:
			mc.mu.Lock()
			ch := mc.channels[resp.Channel.ChannelID]
			mc.mu.Unlock()
			if ch != nil {
				ch.push(resp.Channel.Data)
			}
		case resp.ChannelClosed != nil:
			mc.mu.Lock()
			ch := mc.channels[resp.ChannelClosed.ChannelID]
			delete(mc.channels, resp.ChannelClosed.ChannelID)
			mc.mu.Unlock()
			if ch != nil {
				ch.shutdown()
			}
		case resp.Killed != nil:
			return
		}
	}
}

func (mc *ManagerClient) resolveOpen(result openResult) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if len(mc.opens) == 0 {
		return
	}
	waiter := mc.opens[0]
	mc.opens = mc.opens[1:]
	waiter <- result
}

// Channel is a logical transport carried inside the manager session. It is
// an io.ReadWriteCloser over the channel's byte stream and can present
// itself as a framed transport.
type Channel struct {
	id proto.ChannelID
	mc *ManagerClient

	incoming chan []byte
	rbuf     []byte

	closed    chan struct{}
	closeOnce sync.Once

	transportOnce sync.Once
	transport     *wire.FramedTransport
}

func newChannel(mc *ManagerClient, id proto.ChannelID) *Channel {
	return &Channel{
		id:       id,
		mc:       mc,
		incoming: make(chan []byte, 256),
		closed:   make(chan struct{}),
	}
}

func (ch *Channel) push(data []byte) {
	select {
	case ch.incoming <- data:
	case <-ch.closed:
	}
}

func (ch *Channel) Read(p []byte) (int, error) {
	for len(ch.rbuf) == 0 {
		select {
		case data := <-ch.incoming:
			ch.rbuf = data
		case <-ch.closed:
			// Drain anything that raced with the close.
			select {
			case data := <-ch.incoming:
				ch.rbuf = data
			default:
				return 0, io.EOF
			}
		}
	}
	n := copy(p, ch.rbuf)
	ch.rbuf = ch.rbuf[n:]
	return n, nil
}

func (ch *Channel) Write(p []byte) (int, error) {
	select {
	case <-ch.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	data := make([]byte, len(p))
	copy(data, p)
	if err := ch.mc.send(proto.ManagerRequest{
		Channel: &proto.ChannelPayload{ChannelID: ch.id, Data: data},
	}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (ch *Channel) shutdown() {
	ch.closeOnce.Do(func() { close(ch.closed) })
}

// Close tells the manager to drop the channel.
func (ch *Channel) Close() error {
	return ch.mc.CloseChannel(ch)
}

// ID reports the channel id, which stands in for a connection id on links.
func (ch *Channel) ID() proto.ConnectionID { return ch.id }

// Transport presents the channel as a framed transport carrying
// request/response frames.
func (ch *Channel) Transport() *wire.FramedTransport {
	ch.transportOnce.Do(func() {
		ch.transport = wire.NewFramedTransport(ch)
	})
	return ch.transport
}

// Reconnect is unsupported on channels; the manager owns the physical
// connection's lifecycle.
func (ch *Channel) Reconnect(ctx context.Context) error {
	return proto.NewError(proto.KindUnsupported, "channels cannot reconnect")
}

var _ client.Link = (*Channel)(nil)
