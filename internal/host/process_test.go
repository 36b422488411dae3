//go:build unix

package host

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chipsenkbeil/distant-go/internal/proto"
)

func isProcDone(p proto.ResponsePayload) bool {
	_, ok := p.(*proto.ProcDone)
	return ok
}

func TestSpawnEchoStreamsOutputThenExit(t *testing.T) {
	t.Parallel()
	h, ctx, out := testCtx(t)

	id, err := h.ProcSpawn(ctx, proto.ProcSpawn{Cmd: "echo hello"})
	require.NoError(t, err)
	require.NotZero(t, id)

	payloads := collect(t, out, isProcDone, 5*time.Second)

	var stdout []byte
	var done *proto.ProcDone
	for _, p := range payloads {
		switch v := p.(type) {
		case *proto.ProcStdout:
			assert.Equal(t, id, v.ID)
			stdout = append(stdout, v.Data...)
		case *proto.ProcDone:
			done = v
		case *proto.ProcStderr:
			t.Fatalf("unexpected stderr: %q", v.Data)
		}
	}
	assert.Equal(t, "hello\n", string(stdout))
	require.NotNil(t, done)
	assert.Equal(t, id, done.ID)
	assert.True(t, done.Success)
	require.NotNil(t, done.Code)
	assert.Equal(t, int32(0), *done.Code)
}

func TestKillLongRunningProcess(t *testing.T) {
	t.Parallel()
	h, ctx, out := testCtx(t)

	id, err := h.ProcSpawn(ctx, proto.ProcSpawn{Cmd: "sleep 60"})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, h.ProcKill(ctx, id))

	payloads := collect(t, out, isProcDone, 5*time.Second)
	done := payloads[len(payloads)-1].(*proto.ProcDone)
	assert.False(t, done.Success)
	assert.Nil(t, done.Code)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSpawnReportsNonZeroExit(t *testing.T) {
	t.Parallel()
	h, ctx, out := testCtx(t)

	id, err := h.ProcSpawn(ctx, proto.ProcSpawn{Cmd: "sh -c 'exit 3'"})
	require.NoError(t, err)
	_ = id

	payloads := collect(t, out, isProcDone, 5*time.Second)
	done := payloads[len(payloads)-1].(*proto.ProcDone)
	assert.False(t, done.Success)
	require.NotNil(t, done.Code)
	assert.Equal(t, int32(3), *done.Code)
}

func TestStdinFeedsChild(t *testing.T) {
	t.Parallel()
	h, ctx, out := testCtx(t)

	id, err := h.ProcSpawn(ctx, proto.ProcSpawn{Cmd: "cat"})
	require.NoError(t, err)

	require.NoError(t, h.ProcStdin(ctx, id, []byte("ping\n")))

	payloads := collect(t, out, func(p proto.ResponsePayload) bool {
		stdout, ok := p.(*proto.ProcStdout)
		return ok && string(stdout.Data) == "ping\n"
	}, 5*time.Second)
	require.NotEmpty(t, payloads)

	require.NoError(t, h.ProcKill(ctx, id))
	collect(t, out, isProcDone, 5*time.Second)

	err = h.ProcStdin(ctx, id, []byte("late\n"))
	assert.Error(t, err, "stdin after exit must fail")
}

func TestSpawnFailsForMissingProgram(t *testing.T) {
	t.Parallel()
	h, ctx, _ := testCtx(t)
	_, err := h.ProcSpawn(ctx, proto.ProcSpawn{Cmd: "definitely-not-a-real-binary-xyz"})
	assert.Error(t, err)
}

func TestSpawnUsesExplicitEnvironment(t *testing.T) {
	t.Parallel()
	h, ctx, out := testCtx(t)

	_, err := h.ProcSpawn(ctx, proto.ProcSpawn{
		Cmd:         "sh -c 'echo $GREETING'",
		Environment: proto.Map{"GREETING": "salutations"},
	})
	require.NoError(t, err)

	payloads := collect(t, out, isProcDone, 5*time.Second)
	var stdout []byte
	for _, p := range payloads {
		if v, ok := p.(*proto.ProcStdout); ok {
			stdout = append(stdout, v.Data...)
		}
	}
	assert.Equal(t, "salutations\n", string(stdout))
}

func TestPtyProcessMergesOutput(t *testing.T) {
	t.Parallel()
	h, ctx, out := testCtx(t)

	id, err := h.ProcSpawn(ctx, proto.ProcSpawn{
		Cmd: "sh -c 'echo to-stdout; echo to-stderr 1>&2'",
		Pty: &proto.PtySize{Rows: 24, Cols: 80},
	})
	require.NoError(t, err)

	payloads := collect(t, out, isProcDone, 5*time.Second)
	var merged []byte
	for _, p := range payloads {
		switch v := p.(type) {
		case *proto.ProcStdout:
			merged = append(merged, v.Data...)
		case *proto.ProcStderr:
			t.Fatal("pty processes produce no stderr responses")
		}
	}
	assert.Contains(t, string(merged), "to-stdout")
	assert.Contains(t, string(merged), "to-stderr")

	assert.Error(t, h.ProcResizePty(ctx, id, proto.PtySize{Rows: 10, Cols: 10}),
		"resize after exit refers to a dead process")
}

func TestOnDropKillsConnectionProcesses(t *testing.T) {
	t.Parallel()
	h, ctx, out := testCtx(t)

	_, err := h.ProcSpawn(ctx, proto.ProcSpawn{Cmd: "sleep 60"})
	require.NoError(t, err)

	h.OnDrop(ctx.ConnectionID)
	payloads := collect(t, out, isProcDone, 5*time.Second)
	done := payloads[len(payloads)-1].(*proto.ProcDone)
	assert.False(t, done.Success)
}
