// Package client implements the request/response multiplexer that rides on an
// established connection: one writer queue, a post office of mailboxes keyed
// by request id, and fire/mail/send operations on top.
package client

import (
	"context"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/chipsenkbeil/distant-go/internal/proto"
)

// DefaultMailboxCapacity bounds how many undelivered responses a mailbox
// holds before the reader loop blocks on it.
const DefaultMailboxCapacity = 10_000

// DefaultMailboxTTL closes mailboxes that have seen no delivery or receive
// for this long.
const DefaultMailboxTTL = 15 * time.Minute

// DefaultPruneInterval is how often closed and idle mailboxes are swept.
const DefaultPruneInterval = 60 * time.Second

// Mailbox is a bounded FIFO of responses for one request id. Closing it
// abandons interest; late responses are then dropped.
type Mailbox struct {
	originID string

	ch        chan proto.Response
	closed    chan struct{}
	closeOnce sync.Once

	lastActive atomicTime
}

func newMailbox(originID string, capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	m := &Mailbox{
		originID: originID,
		ch:       make(chan proto.Response, capacity),
		closed:   make(chan struct{}),
	}
	m.lastActive.Set(time.Now())
	return m
}

// OriginID is the request id this mailbox collects responses for.
func (m *Mailbox) OriginID() string { return m.originID }

// Receive blocks for the next response. It fails with a broken-pipe error
// once the mailbox has been closed and drained, or with the context's error.
func (m *Mailbox) Receive(ctx context.Context) (proto.Response, error) {
	m.lastActive.Set(time.Now())
	select {
	case resp := <-m.ch:
		return resp, nil
	default:
	}
	select {
	case resp := <-m.ch:
		return resp, nil
	case <-m.closed:
		// Drain anything that raced with the close.
		select {
		case resp := <-m.ch:
			return resp, nil
		default:
		}
		return proto.Response{}, proto.NewError(proto.KindBrokenPipe, "mailbox closed")
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return proto.Response{}, proto.NewError(proto.KindTimedOut, "timed out waiting for response")
		}
		return proto.Response{}, proto.NewError(proto.KindTaskCancelled, ctx.Err().Error())
	}
}

// deliver blocks until the mailbox accepts the response or is closed.
// Reports whether the response was accepted.
func (m *Mailbox) deliver(resp proto.Response) bool {
	m.lastActive.Set(time.Now())
	select {
	case <-m.closed:
		return false
	default:
	}
	select {
	case m.ch <- resp:
		return true
	case <-m.closed:
		return false
	}
}

// Close abandons the mailbox. Safe to call more than once.
func (m *Mailbox) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
}

func (m *Mailbox) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

type atomicTime struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomicTime) Set(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomicTime) Get() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}

// postOffice maps request ids to their mailboxes. The lock is held only for
// insert, remove, and lookup; delivery happens outside it.
type postOffice struct {
	mu       sync.Mutex
	boxes    map[string]*Mailbox
	capacity int
	ttl      time.Duration

	log.Logger
}

func newPostOffice(logger log.Logger, capacity int, ttl time.Duration) *postOffice {
	if ttl <= 0 {
		ttl = DefaultMailboxTTL
	}
	return &postOffice{
		boxes:    make(map[string]*Mailbox),
		capacity: capacity,
		ttl:      ttl,
		Logger:   logger,
	}
}

func (p *postOffice) register(originID string) *Mailbox {
	m := newMailbox(originID, p.capacity)
	p.mu.Lock()
	p.boxes[originID] = m
	p.mu.Unlock()
	return m
}

func (p *postOffice) lookup(originID string) (*Mailbox, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.boxes[originID]
	return m, ok
}

func (p *postOffice) remove(originID string) {
	p.mu.Lock()
	m, ok := p.boxes[originID]
	delete(p.boxes, originID)
	p.mu.Unlock()
	if ok {
		m.Close()
	}
}

// deliver routes a response to its mailbox. Unroutable responses are dropped
// quietly; they are expected when a caller abandons a request.
func (p *postOffice) deliver(resp proto.Response) {
	m, ok := p.lookup(resp.OriginID)
	if !ok || !m.deliver(resp) {
		p.Debug("dropping response with no mailbox", "origin_id", resp.OriginID)
	}
}

// prune removes closed mailboxes and closes ones idle past the TTL.
func (p *postOffice) prune() {
	cutoff := time.Now().Add(-p.ttl)
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, m := range p.boxes {
		if m.isClosed() {
			delete(p.boxes, id)
			continue
		}
		if m.lastActive.Get().Before(cutoff) {
			m.Close()
			delete(p.boxes, id)
		}
	}
}

// closeAll closes every mailbox, waking all waiters with a broken pipe.
func (p *postOffice) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, m := range p.boxes {
		m.Close()
		delete(p.boxes, id)
	}
}

func (p *postOffice) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.boxes)
}
