package host

import (
	"testing"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/stretchr/testify/require"

	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/server"
)

func discardLogger() log.Logger {
	logger := log.New()
	logger.SetHandler(log.DiscardHandler())
	return logger
}

// testCtx returns a host with one registered connection plus the channel its
// replies land on.
func testCtx(t *testing.T) (*Host, server.Ctx, chan proto.Response) {
	t.Helper()
	h := New(discardLogger(), "test")
	out := make(chan proto.Response, 1024)
	closed := make(chan struct{})
	t.Cleanup(func() {
		close(closed)
		h.OnDrop(1)
	})
	ctx := server.Ctx{
		ConnectionID: 1,
		Reply:        server.NewReply("origin-0123456789ab", out, closed),
		Logger:       discardLogger(),
	}
	h.OnAccept(ctx)
	return h, ctx, out
}

// collect pulls response payloads until the predicate says stop or the
// timeout elapses.
func collect(t *testing.T, out chan proto.Response, stop func(proto.ResponsePayload) bool, timeout time.Duration) []proto.ResponsePayload {
	t.Helper()
	var payloads []proto.ResponsePayload
	deadline := time.After(timeout)
	for {
		select {
		case resp := <-out:
			got, err := resp.Payload()
			require.NoError(t, err)
			payloads = append(payloads, got)
			if stop(got) {
				return payloads
			}
		case <-deadline:
			t.Fatalf("timed out; got %d payloads so far", len(payloads))
		}
	}
}
