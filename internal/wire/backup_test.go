package wire

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupRecordsSentWithinWindow(t *testing.T) {
	t.Parallel()
	b := NewBackup(3)
	for i := 0; i < 5; i++ {
		b.PushSent([]byte(fmt.Sprintf("frame-%d", i)))
	}

	assert.Equal(t, uint64(5), b.SentCnt())

	frames, ok := b.TailSent(3)
	require.True(t, ok)
	assert.Equal(t, [][]byte{[]byte("frame-2"), []byte("frame-3"), []byte("frame-4")}, frames)

	_, ok = b.TailSent(4)
	assert.False(t, ok, "gap wider than the window is unreplayable")
}

func TestBackupFreezeStopsRecording(t *testing.T) {
	t.Parallel()
	b := NewBackup(10)
	b.PushSent([]byte("a"))
	b.Freeze()
	b.PushSent([]byte("b"))
	b.IncrReceived()
	b.Unfreeze()
	b.PushSent([]byte("c"))

	assert.Equal(t, uint64(2), b.SentCnt())
	assert.Equal(t, uint64(0), b.ReceivedCnt())

	frames, ok := b.TailSent(2)
	require.True(t, ok)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("c")}, frames)
}

func TestBackupTakeResetsState(t *testing.T) {
	t.Parallel()
	b := NewBackup(10)
	b.PushSent([]byte("a"))
	b.IncrReceived()

	taken := b.Take()
	assert.Equal(t, uint64(1), taken.SentCnt())
	assert.Equal(t, uint64(1), taken.ReceivedCnt())
	assert.Equal(t, uint64(0), b.SentCnt())
	assert.Equal(t, uint64(0), b.ReceivedCnt())
}

func TestBackupSentIsCopied(t *testing.T) {
	t.Parallel()
	b := NewBackup(10)
	frame := []byte("mutate-me")
	b.PushSent(frame)
	frame[0] = 'X'

	frames, ok := b.TailSent(1)
	require.True(t, ok)
	assert.Equal(t, []byte("mutate-me"), frames[0])
}
