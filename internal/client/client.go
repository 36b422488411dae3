package client

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/jpillora/backoff"

	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/wire"
)

// Config tunes the untyped client.
type Config struct {
	// MailboxCapacity bounds each mailbox's undelivered responses.
	MailboxCapacity int

	// MailboxTTL closes mailboxes idle past this duration.
	MailboxTTL time.Duration

	// PruneInterval is how often closed mailboxes are swept.
	PruneInterval time.Duration

	// OutboundCapacity bounds the writer queue.
	OutboundCapacity int

	// Reconnect enables transparent reconnect-and-replay when the
	// connection drops.
	Reconnect bool

	// ReconnectWait caps the backoff between reconnect attempts.
	ReconnectWait time.Duration

	// HeartbeatInterval paces idle heartbeats so half-open connections are
	// detected. Zero disables them.
	HeartbeatInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.MailboxCapacity <= 0 {
		c.MailboxCapacity = DefaultMailboxCapacity
	}
	if c.MailboxTTL <= 0 {
		c.MailboxTTL = DefaultMailboxTTL
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = DefaultPruneInterval
	}
	if c.OutboundCapacity <= 0 {
		c.OutboundCapacity = 256
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 30 * time.Second
	}
}

// Link is the connection surface the client multiplexes over: a direct
// Connection, or a logical channel carried by a manager.
type Link interface {
	ID() proto.ConnectionID
	Transport() *wire.FramedTransport
	Reconnect(ctx context.Context) error
	Close() error
}

// Client is the untyped request/response multiplexer. Two permanent tasks
// own the transport: a reader routing responses into mailboxes, and a writer
// draining the outbound queue.
//
// A reconnect must own the transport exclusively while it re-handshakes, the
// way the connection's establishment does. The writer takes writeGate shared
// per frame and a reconnect takes it exclusively for its whole duration, so
// no request or heartbeat frame can interleave with the handshake; frames
// queued meanwhile go out, and get recorded for replay, only once the new
// transport is established.
type Client struct {
	connection Link
	post       *postOffice
	outbound   chan proto.Request

	config Config

	reconnectMu  sync.Mutex   // serializes reconnect attempts
	writeGate    sync.RWMutex // excludes outbound writes during a reconnect
	generation   uint64       // bumped on each successful reconnect
	reconnecting int32

	closed    int32
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	log.Logger
}

// New wraps an established connection and starts the reader, writer, and
// prune tasks.
func New(logger log.Logger, connection Link, config Config) *Client {
	config.withDefaults()
	c := &Client{
		connection: connection,
		post:       newPostOffice(logger, config.MailboxCapacity, config.MailboxTTL),
		outbound:   make(chan proto.Request, config.OutboundCapacity),
		config:     config,
		done:       make(chan struct{}),
		Logger:     logger,
	}
	c.wg.Add(3)
	go c.reader()
	go c.writer()
	go c.pruner()
	if config.HeartbeatInterval > 0 {
		c.wg.Add(1)
		go c.heartbeat()
	}
	return c
}

// ID reports the current connection id; it changes across reconnects.
func (c *Client) ID() proto.ConnectionID { return c.connection.ID() }

// Fire enqueues a request without tracking a mailbox for its responses.
func (c *Client) Fire(ctx context.Context, req proto.Request) error {
	select {
	case c.outbound <- req:
		return nil
	case <-c.done:
		return proto.NewError(proto.KindBrokenPipe, "client closed")
	case <-ctx.Done():
		return proto.ErrorFromErr(ctx.Err())
	}
}

// Mail allocates a mailbox for the request's responses and enqueues the
// request. The caller owns the mailbox and must Close it when done.
func (c *Client) Mail(ctx context.Context, req proto.Request) (*Mailbox, error) {
	mailbox := c.post.register(req.ID)
	if err := c.Fire(ctx, req); err != nil {
		c.post.remove(req.ID)
		return nil, err
	}
	return mailbox, nil
}

// Send performs a single request/response round trip.
func (c *Client) Send(ctx context.Context, req proto.Request) (proto.Response, error) {
	mailbox, err := c.Mail(ctx, req)
	if err != nil {
		return proto.Response{}, err
	}
	defer c.post.remove(req.ID)
	return mailbox.Receive(ctx)
}

// SendTimeout is Send with a deadline. On elapse the in-flight mailbox is
// cancelled so any late response is dropped.
func (c *Client) SendTimeout(req proto.Request, d time.Duration) (proto.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return c.Send(ctx, req)
}

// Reconnect forces a reconnect-and-replay on the underlying connection.
func (c *Client) Reconnect(ctx context.Context) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	atomic.StoreInt32(&c.reconnecting, 1)
	defer atomic.StoreInt32(&c.reconnecting, 0)
	return c.doReconnect(ctx)
}

// doReconnect performs one reconnect attempt while holding the write gate so
// the writer cannot put a frame on the wire mid-handshake. Callers must hold
// reconnectMu.
func (c *Client) doReconnect(ctx context.Context) error {
	c.writeGate.Lock()
	defer c.writeGate.Unlock()
	err := c.connection.Reconnect(ctx)
	if err == nil {
		atomic.AddUint64(&c.generation, 1)
	}
	return err
}

func (c *Client) isReconnecting() bool {
	return atomic.LoadInt32(&c.reconnecting) == 1
}

// Close tears the client down: its tasks stop and every waiting mailbox is
// woken with a broken pipe. It does not wait for the tasks to unwind; use
// Wait for that.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		close(c.done)
		c.connection.Close()
		c.post.closeAll()
	})
	return nil
}

// Wait blocks until the reader, writer, and prune tasks, and the heartbeat
// task when enabled, have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// reader routes every inbound response to its mailbox. On a connection
// failure it either reconnects (replaying unacknowledged frames) or tears
// the client down.
func (c *Client) reader() {
	defer c.wg.Done()
	for {
		gen := atomic.LoadUint64(&c.generation)
		var resp proto.Response
		err := c.connection.Transport().ReadFrameAs(&resp)
		if err == nil {
			c.post.deliver(resp)
			continue
		}
		if c.isClosed() {
			return
		}
		if err == io.EOF {
			c.Debug("connection closed by peer")
		} else {
			c.Error("connection read failed", "err", err)
		}
		if !c.config.Reconnect || !c.recover(gen) {
			c.Close()
			return
		}
	}
}

// recover redials with exponential backoff until the connection is
// re-established or the client is closed. gen is the connection generation
// the failed read began on; if another reconnect already advanced it, the
// connection is fresh and reading simply resumes.
func (c *Client) recover(gen uint64) bool {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	if atomic.LoadUint64(&c.generation) != gen {
		return true
	}
	atomic.StoreInt32(&c.reconnecting, 1)
	defer atomic.StoreInt32(&c.reconnecting, 0)

	boff := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    c.config.ReconnectWait,
		Factor: 2,
	}
	for {
		if c.isClosed() {
			return false
		}
		err := c.doReconnect(context.Background())
		if err == nil {
			c.Info("connection re-established", "connid", c.connection.ID())
			return true
		}
		if proto.KindFromErr(err) == proto.KindPermissionDenied {
			c.Error("reconnect rejected", "err", err)
			return false
		}
		wait := boff.Duration()
		c.Debug("reconnect failed, backing off", "err", err, "wait", wait)
		select {
		case <-time.After(wait):
		case <-c.done:
			return false
		}
	}
}

// writer drains the outbound queue onto the transport. Each write holds the
// write gate shared, so a reconnect in flight pauses the writer and a queued
// frame only reaches the wire, and the replay backup, once the fresh
// transport is established. A frame whose write failed is held and retried:
// it was never recorded in the backup, so nothing else will redeliver it.
func (c *Client) writer() {
	defer c.wg.Done()
	for {
		select {
		case req := <-c.outbound:
			for {
				c.writeGate.RLock()
				err := c.connection.Transport().WriteFrameFor(req)
				c.writeGate.RUnlock()
				if err == nil {
					break
				}
				if c.isClosed() {
					return
				}
				c.Debug("outbound write failed, retrying after recovery", "err", err)
				select {
				case <-time.After(100 * time.Millisecond):
				case <-c.done:
					return
				}
			}
		case <-c.done:
			return
		}
	}
}

// heartbeat fires lightweight requests on an interval so a dead peer is
// noticed even when the caller is idle. Ticks are skipped while a reconnect
// is in flight; there is no peer to probe and nothing to gain from queueing
// heartbeats behind the recovery.
func (c *Client) heartbeat() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.isReconnecting() {
				continue
			}
			req, err := proto.NewRequest(proto.Heartbeat{})
			if err != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.config.HeartbeatInterval)
			_ = c.Fire(ctx, req)
			cancel()
		case <-c.done:
			return
		}
	}
}

// pruner sweeps closed and idle mailboxes.
func (c *Client) pruner() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.config.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.post.prune()
		case <-c.done:
			return
		}
	}
}
