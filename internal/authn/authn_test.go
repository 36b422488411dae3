package authn

import (
	"strings"
	"sync"
	"testing"

	log "github.com/inconshreveable/log15"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/testutil"
	"github.com/chipsenkbeil/distant-go/internal/wire"
)

func discardLogger() log.Logger {
	logger := log.New()
	logger.SetHandler(log.DiscardHandler())
	return logger
}

func runExchange(t *testing.T, verifier *Verifier, handler AuthHandler) (method string, serverErr, clientErr error) {
	t.Helper()
	c, s := testutil.NewDuplexPair()
	client := wire.NewFramedTransport(c)
	server := wire.NewFramedTransport(s)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		method, serverErr = verifier.Verify(server)
	}()
	clientErr = Authenticate(client, handler)
	wg.Wait()
	return method, serverErr, clientErr
}

func TestNoneMethodAlwaysSucceeds(t *testing.T) {
	t.Parallel()
	verifier := NewVerifier(discardLogger(), NoneMethod{})
	method, serverErr, clientErr := runExchange(t, verifier, NewStaticKeyHandler("irrelevant"))
	require.NoError(t, serverErr)
	require.NoError(t, clientErr)
	assert.Equal(t, "none", method)
}

func TestStaticKeyMethodAcceptsCorrectKey(t *testing.T) {
	t.Parallel()
	verifier := NewVerifier(discardLogger(), StaticKeyMethod{Key: "s3cret"})
	method, serverErr, clientErr := runExchange(t, verifier, NewStaticKeyHandler("s3cret"))
	require.NoError(t, serverErr)
	require.NoError(t, clientErr)
	assert.Equal(t, "static_key", method)
}

func TestStaticKeyMethodRejectsWrongKey(t *testing.T) {
	t.Parallel()
	verifier := NewVerifier(discardLogger(), StaticKeyMethod{Key: "s3cret"})
	_, serverErr, clientErr := runExchange(t, verifier, NewStaticKeyHandler("wrong"))

	assert.ErrorIs(t, serverErr, &proto.Error{Kind: proto.KindPermissionDenied})
	assert.ErrorIs(t, clientErr, &proto.Error{Kind: proto.KindPermissionDenied})
}

func TestVerifierFallsThroughToNextMethod(t *testing.T) {
	t.Parallel()
	verifier := NewVerifier(discardLogger(), StaticKeyMethod{Key: "s3cret"}, NoneMethod{})
	method, serverErr, clientErr := runExchange(t, verifier, NewStaticKeyHandler("wrong"))
	require.NoError(t, serverErr)
	require.NoError(t, clientErr)
	assert.Equal(t, "none", method)
}

func TestPromptHandlerAnswersChallenge(t *testing.T) {
	t.Parallel()
	in := strings.NewReader("p4ss\n")
	var out strings.Builder
	handler := NewPromptHandler(in, &out)

	verifier := NewVerifier(discardLogger(), StaticKeyMethod{Key: "p4ss"})
	method, serverErr, clientErr := runExchange(t, verifier, handler)
	require.NoError(t, serverErr)
	require.NoError(t, clientErr)
	assert.Equal(t, "static_key", method)
	assert.Contains(t, out.String(), "key")
}

func TestPerMethodHandlerRoutesByMethod(t *testing.T) {
	t.Parallel()
	handler := NewPerMethodHandler(map[string]AuthHandler{
		"static_key": NewStaticKeyHandler("s3cret"),
	}, nil)

	verifier := NewVerifier(discardLogger(), StaticKeyMethod{Key: "s3cret"})
	method, serverErr, clientErr := runExchange(t, verifier, handler)
	require.NoError(t, serverErr)
	require.NoError(t, clientErr)
	assert.Equal(t, "static_key", method)
}
