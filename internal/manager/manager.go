// Package manager multiplexes many logical channels over established server
// connections. Local clients reach the manager over a per-user Unix socket or
// Windows named pipe; each yamux stream on that endpoint is one manager
// session speaking ManagerRequest/ManagerResponse frames.
package manager

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"sync"

	"github.com/hashicorp/yamux"
	log "github.com/inconshreveable/log15"

	"github.com/chipsenkbeil/distant-go/internal/client"
	"github.com/chipsenkbeil/distant-go/internal/msgpack"
	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/wire"
)

// Manager owns upstream connections and serves channel traffic for local
// clients.
type Manager struct {
	mu       sync.Mutex
	upstream map[proto.ConnectionID]*client.Client

	done     chan struct{}
	doneOnce sync.Once

	log.Logger
}

func New(logger log.Logger) *Manager {
	return &Manager{
		upstream: make(map[proto.ConnectionID]*client.Client),
		done:     make(chan struct{}),
		Logger:   logger,
	}
}

// Register adds an established upstream connection under its id.
func (m *Manager) Register(c *client.Client) proto.ConnectionID {
	id := c.ID()
	m.mu.Lock()
	m.upstream[id] = c
	m.mu.Unlock()
	return id
}

// Unregister drops an upstream connection, closing it.
func (m *Manager) Unregister(id proto.ConnectionID) {
	m.mu.Lock()
	c := m.upstream[id]
	delete(m.upstream, id)
	m.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

func (m *Manager) lookup(id proto.ConnectionID) *client.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upstream[id]
}

// Shutdown stops serving local clients.
func (m *Manager) Shutdown() {
	m.doneOnce.Do(func() { close(m.done) })
}

// Serve accepts local clients until Shutdown. Each accepted connection is a
// yamux session whose streams are independent manager sessions.
func (m *Manager) Serve(listener net.Listener) error {
	go func() {
		<-m.done
		listener.Close()
	}()
	for {
		raw, err := listener.Accept()
		if err != nil {
			select {
			case <-m.done:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			m.Warn("local accept failed", "err", err)
			continue
		}
		go m.serveLocal(raw)
	}
}

func (m *Manager) serveLocal(raw net.Conn) {
	defer raw.Close()
	mux, err := yamux.Server(raw, nil)
	if err != nil {
		m.Warn("failed to mux local connection", "err", err)
		return
	}
	for {
		stream, err := mux.AcceptStream()
		if err != nil {
			return
		}
		go newSession(m, stream).run()
	}
}

// session is one local client conversation.
type session struct {
	mgr *Manager
	ft  *wire.FramedTransport

	wmu sync.Mutex

	mu       sync.Mutex
	channels map[proto.ChannelID]*serverChannel

	log.Logger
}

func newSession(m *Manager, stream io.ReadWriteCloser) *session {
	return &session{
		mgr:      m,
		ft:       wire.NewFramedTransport(stream),
		channels: make(map[proto.ChannelID]*serverChannel),
		Logger:   m.New("obj", "mgrsess"),
	}
}

func (s *session) send(resp proto.ManagerResponse) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.ft.WriteFrameFor(&resp)
}

func (s *session) sendError(description string) {
	_ = s.send(proto.ManagerResponse{Error: &proto.ManagerError{Description: description}})
}

func (s *session) run() {
	defer s.teardown()
	for {
		var req proto.ManagerRequest
		if err := s.ft.ReadFrameAs(&req); err != nil {
			return
		}
		switch {
		case req.OpenChannel != nil:
			s.openChannel(req.OpenChannel.ConnectionID)
		case req.Channel != nil:
			s.channelData(req.Channel)
		case req.ChannelClosed != nil:
			s.closeChannel(req.ChannelClosed.ChannelID, true)
		default:
			s.sendError("unsupported manager request")
		}
	}
}

func (s *session) teardown() {
	s.mu.Lock()
	channels := make([]*serverChannel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.channels = make(map[proto.ChannelID]*serverChannel)
	s.mu.Unlock()
	for _, ch := range channels {
		ch.stop()
	}
	s.ft.Close()
}

func (s *session) openChannel(connID proto.ConnectionID) {
	upstream := s.mgr.lookup(connID)
	if upstream == nil {
		s.sendError("unknown connection id")
		return
	}
	ch := newServerChannel(s, rand.Uint32(), upstream)
	s.mu.Lock()
	s.channels[ch.id] = ch
	s.mu.Unlock()

	if err := s.send(proto.ManagerResponse{ChannelOpened: &proto.ChannelOpened{ChannelID: ch.id}}); err != nil {
		s.closeChannel(ch.id, false)
		return
	}
	s.Debug("channel opened", "channel", ch.id, "connid", connID)
}

func (s *session) channelData(payload *proto.ChannelPayload) {
	s.mu.Lock()
	ch := s.channels[payload.ChannelID]
	s.mu.Unlock()
	if ch == nil {
		s.sendError("unknown channel id")
		return
	}
	ch.feedBytes(payload.Data)
}

func (s *session) closeChannel(id proto.ChannelID, notify bool) {
	s.mu.Lock()
	ch := s.channels[id]
	delete(s.channels, id)
	s.mu.Unlock()
	if ch == nil {
		return
	}
	ch.stop()
	if notify {
		_ = s.send(proto.ManagerResponse{ChannelClosed: &proto.ChannelClosed{ChannelID: id}})
	}
}

// serverChannel reassembles the channel's byte stream back into request
// frames, forwards each to the upstream connection, and ferries the
// responses back to the local client.
type serverChannel struct {
	id       proto.ChannelID
	session  *session
	upstream *client.Client

	feed  *io.PipeWriter
	parse *wire.FramedTransport

	mu        sync.Mutex
	mailboxes []*client.Mailbox

	done     chan struct{}
	stopOnce sync.Once
}

// pipeEnd adapts an io.PipeReader into the read side of a transport.
type pipeEnd struct {
	*io.PipeReader
}

func (p pipeEnd) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }
func (p pipeEnd) Close() error              { return p.PipeReader.Close() }

func newServerChannel(s *session, id proto.ChannelID, upstream *client.Client) *serverChannel {
	pr, pw := io.Pipe()
	ch := &serverChannel{
		id:       id,
		session:  s,
		upstream: upstream,
		feed:     pw,
		parse:    wire.NewFramedTransport(pipeEnd{pr}),
		done:     make(chan struct{}),
	}
	go ch.pumpRequests()
	return ch
}

func (ch *serverChannel) feedBytes(data []byte) {
	if _, err := ch.feed.Write(data); err != nil {
		ch.session.Debug("channel feed failed", "channel", ch.id, "err", err)
	}
}

func (ch *serverChannel) stop() {
	ch.stopOnce.Do(func() {
		close(ch.done)
		ch.feed.Close()
		ch.parse.Close()
		ch.mu.Lock()
		boxes := ch.mailboxes
		ch.mailboxes = nil
		ch.mu.Unlock()
		for _, mb := range boxes {
			mb.Close()
		}
	})
}

// pumpRequests parses request frames off the channel byte stream and mails
// them upstream, spawning a response pump per request.
func (ch *serverChannel) pumpRequests() {
	for {
		frame, err := ch.parse.ReadFrame()
		if err != nil {
			return
		}
		var req proto.Request
		if err := msgpack.Unmarshal(frame, &req); err != nil {
			ch.session.Warn("skipping malformed channel request", "channel", ch.id, "err", err)
			continue
		}
		mailbox, err := ch.upstream.Mail(context.Background(), req)
		if err != nil {
			ch.session.Debug("failed to forward channel request", "channel", ch.id, "err", err)
			continue
		}
		ch.mu.Lock()
		ch.mailboxes = append(ch.mailboxes, mailbox)
		ch.mu.Unlock()
		go ch.pumpResponses(mailbox)
	}
}

func (ch *serverChannel) pumpResponses(mailbox *client.Mailbox) {
	for {
		resp, err := mailbox.Receive(context.Background())
		if err != nil {
			return
		}
		encoded, err := msgpack.Marshal(resp)
		if err != nil {
			continue
		}
		data, err := wire.EncodeFrame(encoded)
		if err != nil {
			continue
		}
		if err := ch.session.send(proto.ManagerResponse{
			Channel: &proto.ChannelPayload{ChannelID: ch.id, Data: data},
		}); err != nil {
			return
		}
	}
}
