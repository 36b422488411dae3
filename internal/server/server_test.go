package server

import (
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

// stubAPI answers exists with a fixed value and fails file reads with
// NotFound; text reads, searches and spawns are unsupported, and the other
// operations succeed without doing anything.
type stubAPI struct {
	mu       sync.Mutex
	accepted []proto.ConnectionID
	dropped  []proto.ConnectionID
}

func (s *stubAPI) OnAccept(ctx Ctx) {
	s.mu.Lock()
	s.accepted = append(s.accepted, ctx.ConnectionID)
	s.mu.Unlock()
}

func (s *stubAPI) OnDrop(id proto.ConnectionID) {
	s.mu.Lock()
	s.dropped = append(s.dropped, id)
	s.mu.Unlock()
}

func (s *stubAPI) Version(Ctx) (proto.VersionResponse, error) {
	return proto.VersionResponse{ServerVersion: "stub"}, nil
}
func (s *stubAPI) SystemInfo(Ctx) (proto.SystemInfo, error) {
	return proto.SystemInfo{}, nil
}
func (s *stubAPI) FileRead(Ctx, string) ([]byte, error) {
	return nil, proto.NewError(proto.KindNotFound, "stub has no files")
}
func (s *stubAPI) FileReadText(Ctx, string) (string, error) {
	return "", proto.NewError(proto.KindUnsupported, "stub")
}
func (s *stubAPI) FileWrite(Ctx, string, []byte) error  { return nil }
func (s *stubAPI) FileAppend(Ctx, string, []byte) error { return nil }
func (s *stubAPI) DirRead(Ctx, proto.DirRead) (proto.DirEntries, error) {
	return proto.DirEntries{}, nil
}
func (s *stubAPI) DirCreate(Ctx, string, bool) error { return nil }
func (s *stubAPI) Remove(Ctx, string, bool) error    { return nil }
func (s *stubAPI) Copy(Ctx, string, string) error    { return nil }
func (s *stubAPI) Rename(Ctx, string, string) error  { return nil }
func (s *stubAPI) Exists(Ctx, string) (bool, error)  { return true, nil }
func (s *stubAPI) Metadata(Ctx, proto.MetadataRequest) (proto.Metadata, error) {
	return proto.Metadata{}, nil
}
func (s *stubAPI) SetPermissions(Ctx, proto.SetPermissions) error { return nil }
func (s *stubAPI) Watch(Ctx, proto.Watch) error                   { return nil }
func (s *stubAPI) Unwatch(Ctx, string) error                      { return nil }
func (s *stubAPI) Search(Ctx, proto.SearchQuery) (proto.SearchID, error) {
	return 0, proto.NewError(proto.KindUnsupported, "stub")
}
func (s *stubAPI) CancelSearch(Ctx, proto.SearchID) error { return nil }
func (s *stubAPI) ProcSpawn(Ctx, proto.ProcSpawn) (proto.ProcessID, error) {
	return 0, proto.NewError(proto.KindUnsupported, "stub")
}
func (s *stubAPI) ProcKill(Ctx, proto.ProcessID) error           { return nil }
func (s *stubAPI) ProcStdin(Ctx, proto.ProcessID, []byte) error  { return nil }
func (s *stubAPI) ProcResizePty(Ctx, proto.ProcessID, proto.PtySize) error {
	return nil
}

// dispatcherPair establishes a connection served by the dispatcher against
// the stub API and returns the client side plus the stub.
func dispatcherPair(t *testing.T) (*conn.Connection, *stubAPI, func()) {
	t.Helper()
	c, s := testutil.NewDuplexPair()
	verifier := authn.NewVerifier(discardLogger(), authn.NoneMethod{})
	keychain := conn.NewKeychain(0)
	api := &stubAPI{}

	var wg sync.WaitGroup
	wg.Add(1)
	var serverConn *conn.Connection
	var serverErr error
	go func() {
		defer wg.Done()
		serverConn, serverErr = conn.Server(discardLogger(), wire.NewFramedTransport(s), verifier, keychain)
	}()
	clientConn, clientErr := conn.Client(discardLogger(), wire.NewFramedTransport(c), authn.NewStaticKeyHandler(""))
	wg.Wait()
	require.NoError(t, serverErr)
	require.NoError(t, clientErr)

	var config Config
	config.withDefaults()
	served := newConnection(discardLogger(), serverConn, api, config)
	go served.serve()

	return clientConn, api, func() { clientConn.Close() }
}

func sendAndReceive(t *testing.T, c *conn.Connection, payload proto.RequestPayload) proto.ResponsePayload {
	t.Helper()
	req, err := proto.NewRequest(payload)
	require.NoError(t, err)
	require.NoError(t, c.Transport().WriteFrameFor(req))

	var resp proto.Response
	require.NoError(t, c.Transport().ReadFrameAs(&resp))
	assert.Equal(t, req.ID, resp.OriginID)
	result, err := resp.Payload()
	require.NoError(t, err)
	return result
}

func TestDispatcherAnswersRequests(t *testing.T) {
	t.Parallel()
	clientConn, _, cleanup := dispatcherPair(t)
	defer cleanup()

	result := sendAndReceive(t, clientConn, proto.Exists{Path: "/whatever"})
	exists, ok := result.(*proto.ExistsResponse)
	require.True(t, ok)
	assert.True(t, exists.Value)
}

func TestDispatcherMapsHandlerErrors(t *testing.T) {
	t.Parallel()
	clientConn, _, cleanup := dispatcherPair(t)
	defer cleanup()

	result := sendAndReceive(t, clientConn, proto.FileRead{Path: "/whatever"})
	remote, ok := result.(*proto.Error)
	require.True(t, ok)
	assert.Equal(t, proto.KindNotFound, remote.Kind)
}

func TestDispatcherSkipsMalformedFrames(t *testing.T) {
	t.Parallel()
	clientConn, _, cleanup := dispatcherPair(t)
	defer cleanup()

	// Garbage that is not a request envelope is skipped, not fatal.
	require.NoError(t, clientConn.Transport().WriteFrame([]byte{0x01, 0x02, 0x03}))

	result := sendAndReceive(t, clientConn, proto.Heartbeat{})
	assert.IsType(t, &proto.Ok{}, result)
}

func TestDispatcherAnswersBatchWithOneResponsePerEntry(t *testing.T) {
	t.Parallel()
	clientConn, _, cleanup := dispatcherPair(t)
	defer cleanup()

	req, err := proto.NewBatchRequest(
		proto.Exists{Path: "/a"},
		proto.Heartbeat{},
	)
	require.NoError(t, err)
	require.NoError(t, clientConn.Transport().WriteFrameFor(req))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		var resp proto.Response
		require.NoError(t, clientConn.Transport().ReadFrameAs(&resp))
		assert.Equal(t, req.ID, resp.OriginID)
		payload, err := resp.Payload()
		require.NoError(t, err)
		switch payload.(type) {
		case *proto.ExistsResponse:
			seen["exists"] = true
		case *proto.Ok:
			seen["ok"] = true
		}
	}
	assert.True(t, seen["exists"] && seen["ok"])
}

func TestDispatcherCallsLifecycleHooks(t *testing.T) {
	t.Parallel()
	clientConn, api, cleanup := dispatcherPair(t)

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.accepted) == 1
	}, time.Second, 10*time.Millisecond)

	cleanup()
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.dropped) == 1
	}, time.Second, 10*time.Millisecond)
	_ = clientConn
}
