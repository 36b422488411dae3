package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chipsenkbeil/distant-go/internal/proto"
)

func newTestReply(capacity int) (Reply, chan proto.Response, chan struct{}) {
	out := make(chan proto.Response, capacity)
	closed := make(chan struct{})
	return NewReply("origin-abcdef123456", out, closed), out, closed
}

func receivedTypes(t *testing.T, out chan proto.Response) []string {
	t.Helper()
	var types []string
	for {
		select {
		case resp := <-out:
			payload, err := resp.Payload()
			require.NoError(t, err)
			switch payload.(type) {
			case *proto.Ok:
				types = append(types, "ok")
			case *proto.Text:
				types = append(types, "text:"+payload.(*proto.Text).Data)
			default:
				types = append(types, "other")
			}
		default:
			return types
		}
	}
}

func TestReplyStampsOriginID(t *testing.T) {
	t.Parallel()
	reply, out, _ := newTestReply(4)
	require.NoError(t, reply.Send(proto.Ok{}))
	resp := <-out
	assert.Equal(t, "origin-abcdef123456", resp.OriginID)
	assert.NotEmpty(t, resp.ID)
}

func TestReplyFailsWhenConnectionGone(t *testing.T) {
	t.Parallel()
	reply, _, closed := newTestReply(4)
	close(closed)
	err := reply.Send(proto.Ok{})
	assert.ErrorIs(t, err, &proto.Error{Kind: proto.KindBrokenPipe})
	assert.True(t, reply.IsClosed())
}

func TestQueuedReplyHoldsAndFlushesInOrder(t *testing.T) {
	t.Parallel()
	reply, out, _ := newTestReply(8)
	queued := reply.Queued()

	require.NoError(t, queued.Send(proto.Text{Data: "s1"}))
	require.NoError(t, queued.Send(proto.Text{Data: "s2"}))
	require.NoError(t, queued.SendBefore(proto.Text{Data: "s0"}))
	assert.Empty(t, receivedTypes(t, out), "nothing reaches the wire while held")

	require.NoError(t, queued.Flush(false))
	assert.Equal(t, []string{"text:s0", "text:s1", "text:s2"}, receivedTypes(t, out))

	// Hold released: sends now pass straight through.
	require.NoError(t, queued.Send(proto.Text{Data: "s3"}))
	assert.Equal(t, []string{"text:s3"}, receivedTypes(t, out))
}

func TestQueuedReplyFlushCanKeepHolding(t *testing.T) {
	t.Parallel()
	reply, out, _ := newTestReply(8)
	queued := reply.Queued()

	require.NoError(t, queued.Send(proto.Text{Data: "a"}))
	require.NoError(t, queued.Flush(true))
	assert.Equal(t, []string{"text:a"}, receivedTypes(t, out))

	require.NoError(t, queued.Send(proto.Text{Data: "b"}))
	assert.Empty(t, receivedTypes(t, out), "still holding after flush(true)")
}

func TestQueuedReplyFlushFailsFast(t *testing.T) {
	t.Parallel()
	reply, _, closed := newTestReply(1)
	queued := reply.Queued()
	require.NoError(t, queued.Send(proto.Text{Data: "a"}))
	require.NoError(t, queued.Send(proto.Text{Data: "b"}))
	close(closed)

	err := queued.Flush(false)
	assert.ErrorIs(t, err, &proto.Error{Kind: proto.KindBrokenPipe})
}
