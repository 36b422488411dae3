package server

import (
	"sync"

	"github.com/chipsenkbeil/distant-go/internal/proto"
)

// ReplySender is the send-only capability handed to operation handlers.
// Implementations stamp responses with a fixed origin id.
type ReplySender interface {
	Send(payload proto.ResponsePayload) error
	IsClosed() bool
}

// Reply is a cheaply copyable handle that stamps outgoing responses with a
// fixed origin id and enqueues them on the connection's outbound queue. Send
// fails with a broken pipe only once the connection is gone.
type Reply struct {
	originID string
	out      chan<- proto.Response
	closed   <-chan struct{}
}

func NewReply(originID string, out chan<- proto.Response, closed <-chan struct{}) Reply {
	return Reply{originID: originID, out: out, closed: closed}
}

// OriginID is the request id this reply answers.
func (r Reply) OriginID() string { return r.originID }

// Send enqueues one response payload.
func (r Reply) Send(payload proto.ResponsePayload) error {
	resp, err := proto.NewResponse(r.originID, payload)
	if err != nil {
		return err
	}
	select {
	case <-r.closed:
		return proto.NewError(proto.KindBrokenPipe, "connection closed")
	default:
	}
	select {
	case r.out <- resp:
		return nil
	case <-r.closed:
		return proto.NewError(proto.KindBrokenPipe, "connection closed")
	}
}

// IsClosed reports whether the connection behind this reply is gone.
func (r Reply) IsClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

// Queued wraps the reply in a queue that holds responses until flushed.
func (r Reply) Queued() *QueuedReply {
	return &QueuedReply{inner: r, hold: true}
}

// QueuedReply queues responses while hold is set so that some status
// response can be guaranteed to reach the wire before later stream data.
type QueuedReply struct {
	mu    sync.Mutex
	inner Reply
	hold  bool
	queue []proto.ResponsePayload
}

// Hold changes the hold flag without flushing.
func (q *QueuedReply) Hold(hold bool) {
	q.mu.Lock()
	q.hold = hold
	q.mu.Unlock()
}

// Send appends to the queue while holding, otherwise passes straight
// through.
func (q *QueuedReply) Send(payload proto.ResponsePayload) error {
	q.mu.Lock()
	if q.hold {
		q.queue = append(q.queue, payload)
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()
	return q.inner.Send(payload)
}

// SendBefore prepends to the queue while holding, otherwise passes straight
// through.
func (q *QueuedReply) SendBefore(payload proto.ResponsePayload) error {
	q.mu.Lock()
	if q.hold {
		q.queue = append([]proto.ResponsePayload{payload}, q.queue...)
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()
	return q.inner.Send(payload)
}

// Flush drains the queue in order through the inner reply, failing fast on
// the first inner failure, then sets the hold flag to newHold.
func (q *QueuedReply) Flush(newHold bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.queue) > 0 {
		payload := q.queue[0]
		if err := q.inner.Send(payload); err != nil {
			return err
		}
		q.queue = q.queue[1:]
	}
	q.hold = newHold
	return nil
}

// IsClosed reports whether the underlying connection is gone.
func (q *QueuedReply) IsClosed() bool {
	return q.inner.IsClosed()
}
