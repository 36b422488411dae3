package client

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chipsenkbeil/distant-go/internal/authn"
	"github.com/chipsenkbeil/distant-go/internal/conn"
	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/testutil"
	"github.com/chipsenkbeil/distant-go/internal/wire"
)

func discardLogger() log.Logger {
	logger := log.New()
	logger.SetHandler(log.DiscardHandler())
	return logger
}

// startEchoServer answers every request payload with one Text response per
// configured repeat, then keeps reading.
func startEchoServer(t *testing.T, serverConn *conn.Connection, repeats int) {
	t.Helper()
	go func() {
		for {
			var req proto.Request
			if err := serverConn.Transport().ReadFrameAs(&req); err != nil {
				return
			}
			for i := 0; i < repeats; i++ {
				resp, err := proto.NewResponse(req.ID, proto.Text{Data: "echo"})
				if err != nil {
					return
				}
				if err := serverConn.Transport().WriteFrameFor(resp); err != nil {
					return
				}
			}
		}
	}()
}

func establishedPair(t *testing.T) (*conn.Connection, *conn.Connection) {
	t.Helper()
	c, s := testutil.NewDuplexPair()
	clientTransport := wire.NewFramedTransport(c)
	serverTransport := wire.NewFramedTransport(s)
	verifier := authn.NewVerifier(discardLogger(), authn.NoneMethod{})
	keychain := conn.NewKeychain(0)

	var wg sync.WaitGroup
	wg.Add(1)
	var serverConn *conn.Connection
	var serverErr error
	go func() {
		defer wg.Done()
		serverConn, serverErr = conn.Server(discardLogger(), serverTransport, verifier, keychain)
	}()
	clientConn, clientErr := conn.Client(discardLogger(), clientTransport, authn.NewStaticKeyHandler(""))
	wg.Wait()
	require.NoError(t, serverErr)
	require.NoError(t, clientErr)
	return clientConn, serverConn
}

func TestSendReceivesMatchingResponse(t *testing.T) {
	t.Parallel()
	clientConn, serverConn := establishedPair(t)
	startEchoServer(t, serverConn, 1)

	c := New(discardLogger(), clientConn, Config{})
	defer c.Close()

	req, err := proto.NewRequest(proto.Heartbeat{})
	require.NoError(t, err)
	resp, err := c.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.ID, resp.OriginID)
}

func TestMailStreamsResponsesInOrder(t *testing.T) {
	t.Parallel()
	clientConn, serverConn := establishedPair(t)
	startEchoServer(t, serverConn, 3)

	c := New(discardLogger(), clientConn, Config{})
	defer c.Close()

	req, err := proto.NewRequest(proto.Heartbeat{})
	require.NoError(t, err)
	mailbox, err := c.Mail(context.Background(), req)
	require.NoError(t, err)
	defer mailbox.Close()

	for i := 0; i < 3; i++ {
		resp, err := mailbox.Receive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, req.ID, resp.OriginID)
	}
}

func TestSendTimeoutCancelsMailbox(t *testing.T) {
	t.Parallel()
	clientConn, serverConn := establishedPair(t)
	// A server that never answers.
	go func() {
		for {
			var req proto.Request
			if err := serverConn.Transport().ReadFrameAs(&req); err != nil {
				return
			}
		}
	}()

	c := New(discardLogger(), clientConn, Config{})
	defer c.Close()

	req, err := proto.NewRequest(proto.Heartbeat{})
	require.NoError(t, err)
	_, err = c.SendTimeout(req, 50*time.Millisecond)
	assert.ErrorIs(t, err, &proto.Error{Kind: proto.KindTimedOut})
	assert.Equal(t, 0, c.post.len(), "timed-out mailbox must be removed")
}

func TestFireTracksNoMailbox(t *testing.T) {
	t.Parallel()
	clientConn, serverConn := establishedPair(t)
	startEchoServer(t, serverConn, 1)

	c := New(discardLogger(), clientConn, Config{})
	defer c.Close()

	req, err := proto.NewRequest(proto.Heartbeat{})
	require.NoError(t, err)
	require.NoError(t, c.Fire(context.Background(), req))

	// The response arrives with nowhere to go and is dropped quietly.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.post.len())
}

func TestDroppedMailboxPrunedWithinCycle(t *testing.T) {
	t.Parallel()
	clientConn, serverConn := establishedPair(t)
	startEchoServer(t, serverConn, 0)

	c := New(discardLogger(), clientConn, Config{PruneInterval: 20 * time.Millisecond})
	defer c.Close()

	req, err := proto.NewRequest(proto.Heartbeat{})
	require.NoError(t, err)
	mailbox, err := c.Mail(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, c.post.len())

	mailbox.Close()
	assert.Eventually(t, func() bool { return c.post.len() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestWriterGatedDuringReconnect(t *testing.T) {
	t.Parallel()
	clientConn, serverConn := establishedPair(t)

	received := make(chan string, 16)
	go func() {
		for {
			var req proto.Request
			if err := serverConn.Transport().ReadFrameAs(&req); err != nil {
				return
			}
			received <- req.ID
		}
	}()

	c := New(discardLogger(), clientConn, Config{})
	defer c.Close()

	// Simulate an in-flight reconnect: while the gate is held exclusively,
	// a fired request must not reach the wire.
	c.writeGate.Lock()
	req, err := proto.NewRequest(proto.Heartbeat{})
	require.NoError(t, err)
	require.NoError(t, c.Fire(context.Background(), req))

	select {
	case id := <-received:
		c.writeGate.Unlock()
		t.Fatalf("request %s written while reconnect gate was held", id)
	case <-time.After(100 * time.Millisecond):
	}
	c.writeGate.Unlock()

	select {
	case id := <-received:
		assert.Equal(t, req.ID, id)
	case <-time.After(time.Second):
		t.Fatal("request never delivered after gate release")
	}
}

func TestRequestsConcurrentWithReconnectSucceed(t *testing.T) {
	t.Parallel()
	verifier := authn.NewVerifier(discardLogger(), authn.NoneMethod{})
	keychain := conn.NewKeychain(0)

	// Each dial spins up a fresh server side that echoes one Ok per request.
	serverConns := make(chan *conn.Connection, 4)
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		cc, ss := testutil.NewDuplexPair()
		go func() {
			serverConn, err := conn.Server(discardLogger(), wire.NewFramedTransport(ss), verifier, keychain)
			if err != nil {
				return
			}
			serverConns <- serverConn
			for {
				var req proto.Request
				if err := serverConn.Transport().ReadFrameAs(&req); err != nil {
					return
				}
				resp, err := proto.NewResponse(req.ID, proto.Ok{})
				if err != nil {
					return
				}
				if err := serverConn.Transport().WriteFrameFor(resp); err != nil {
					return
				}
			}
		}()
		return cc, nil
	}

	first, err := dial(context.Background())
	require.NoError(t, err)
	clientConn, err := conn.Client(discardLogger(),
		wire.NewFramedTransport(first, wire.WithDialer(dial)),
		authn.NewStaticKeyHandler(""))
	require.NoError(t, err)
	server := <-serverConns
	oldID := clientConn.ID()

	c := New(discardLogger(), clientConn, Config{Reconnect: true})
	defer c.Close()

	// Kill the link, then immediately issue requests that race the
	// automatic reconnect. Every one must be answered on the new transport;
	// a request frame interleaved with the handshake would instead make the
	// reconnect fail and strand the frame unreplayed.
	require.NoError(t, server.Close())

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			req, err := proto.NewRequest(proto.Heartbeat{})
			if err != nil {
				errs <- err
				return
			}
			_, err = c.SendTimeout(req, 10*time.Second)
			errs <- err
		}()
	}
	for i := 0; i < 4; i++ {
		assert.NoError(t, <-errs)
	}
	assert.NotEqual(t, oldID, c.ID(), "reconnect must have produced a new connection id")
}

func TestCloseWakesWaiters(t *testing.T) {
	t.Parallel()
	clientConn, serverConn := establishedPair(t)
	go func() {
		for {
			var req proto.Request
			if err := serverConn.Transport().ReadFrameAs(&req); err != nil {
				return
			}
		}
	}()

	c := New(discardLogger(), clientConn, Config{})
	req, err := proto.NewRequest(proto.Heartbeat{})
	require.NoError(t, err)
	mailbox, err := c.Mail(context.Background(), req)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := mailbox.Receive(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, &proto.Error{Kind: proto.KindBrokenPipe})
	case <-time.After(time.Second):
		t.Fatal("receive did not unblock on close")
	}
}
