package wire

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chipsenkbeil/distant-go/internal/testutil"
)

func newTransportPair(t *testing.T) (*FramedTransport, *FramedTransport) {
	t.Helper()
	c, s := testutil.NewDuplexPair()
	return NewFramedTransport(c), NewFramedTransport(s)
}

func handshakePair(t *testing.T) (*FramedTransport, *FramedTransport) {
	t.Helper()
	client, server := newTransportPair(t)
	var wg sync.WaitGroup
	wg.Add(1)
	var serverErr error
	go func() {
		defer wg.Done()
		serverErr = server.ServerHandshake()
	}()
	require.NoError(t, client.ClientHandshake())
	wg.Wait()
	require.NoError(t, serverErr)
	return client, server
}

func TestFramedTransportPlainRoundTrip(t *testing.T) {
	t.Parallel()
	client, server := newTransportPair(t)

	require.NoError(t, client.WriteFrame([]byte("hello")))
	frame, err := server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), frame)

	require.NoError(t, server.WriteFrame([]byte("world")))
	frame, err = client.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), frame)
}

func TestFramedTransportRejectsEmptyFrame(t *testing.T) {
	t.Parallel()
	client, _ := newTransportPair(t)
	assert.ErrorIs(t, client.WriteFrame(nil), ErrInvalidData)
}

func TestFramedTransportRejectsOversizedFrame(t *testing.T) {
	t.Parallel()
	c, s := testutil.NewDuplexPair()
	client := NewFramedTransport(c)
	server := NewFramedTransport(s, WithMaxFrameSize(8))

	require.NoError(t, client.WriteFrame(bytes.Repeat([]byte{0x01}, 9)))
	_, err := server.ReadFrame()
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestFramedTransportCleanEOF(t *testing.T) {
	t.Parallel()
	client, server := newTransportPair(t)
	require.NoError(t, client.Close())
	_, err := server.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestHandshakeEstablishesEncryptedTransport(t *testing.T) {
	t.Parallel()
	client, server := handshakePair(t)
	assert.Equal(t, StateEncrypted, client.State())
	assert.Equal(t, StateEncrypted, server.State())

	require.NoError(t, client.WriteFrameFor(map[string]string{"op": "ping"}))
	var got map[string]string
	require.NoError(t, server.ReadFrameAs(&got))
	assert.Equal(t, "ping", got["op"])
}

func TestHandshakeTwiceFails(t *testing.T) {
	t.Parallel()
	client, _ := handshakePair(t)
	assert.Error(t, client.ClientHandshake())
}

func TestExchangeKeysDerivesMatchingSecrets(t *testing.T) {
	t.Parallel()
	client, server := handshakePair(t)

	var wg sync.WaitGroup
	wg.Add(1)
	var serverKey []byte
	var serverErr error
	go func() {
		defer wg.Done()
		serverKey, serverErr = server.ExchangeKeys(false)
	}()
	clientKey, err := client.ExchangeKeys(true)
	wg.Wait()
	require.NoError(t, err)
	require.NoError(t, serverErr)
	assert.Len(t, clientKey, 32)
	assert.Equal(t, clientKey, serverKey)
}

func TestSynchronizeReplaysMissingFrames(t *testing.T) {
	t.Parallel()
	client, server := handshakePair(t)

	// Three frames leave the client; the server only ever reads one.
	require.NoError(t, client.WriteFrame([]byte("one")))
	require.NoError(t, client.WriteFrame([]byte("two")))
	require.NoError(t, client.WriteFrame([]byte("three")))
	frame, err := server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), frame)

	// Drain the frames the server never consumed, simulating their loss in
	// flight, then synchronize.
	_, err = server.ReadFrame()
	require.NoError(t, err)
	_, err = server.ReadFrame()
	require.NoError(t, err)
	server.backup = NewBackup(0)
	server.backup.receivedCnt = 1

	var wg sync.WaitGroup
	wg.Add(1)
	var serverErr error
	go func() {
		defer wg.Done()
		serverErr = server.Synchronize()
	}()
	require.NoError(t, client.Synchronize())
	wg.Wait()
	require.NoError(t, serverErr)

	frame, err = server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), frame)
	frame, err = server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("three"), frame)
}

func TestSynchronizeFailsOnDataLoss(t *testing.T) {
	t.Parallel()
	c, s := testutil.NewDuplexPair()
	client := NewFramedTransport(c, WithBackupCapacity(2))
	server := NewFramedTransport(s)
	client.isClient = true

	for _, payload := range []string{"one", "two", "three"} {
		require.NoError(t, client.WriteFrame([]byte(payload)))
	}
	for i := 0; i < 3; i++ {
		_, err := server.ReadFrame()
		require.NoError(t, err)
	}
	// Peer claims to have seen nothing; the two-frame window cannot cover a
	// three-frame gap.
	server.backup = NewBackup(0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = server.Synchronize()
	}()
	err := client.Synchronize()
	wg.Wait()
	assert.ErrorIs(t, err, ErrDataLoss)
}
