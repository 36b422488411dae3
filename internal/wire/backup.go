package wire

import "sync"

// DefaultBackupCapacity is the ring-buffer window, in frames, kept per side
// for replay after a reconnect.
const DefaultBackupCapacity = 10_000

// Backup tracks the frames a transport has sent and received since the last
// synchronization, bounded by a ring-buffer window, together with monotonic
// totals. During reconnect the two sides exchange their received totals and
// the gap is replayed from the sender's ring.
type Backup struct {
	mu sync.Mutex

	frozen bool

	capacity int
	sent     [][]byte

	sentCnt     uint64
	receivedCnt uint64
}

func NewBackup(capacity int) *Backup {
	if capacity <= 0 {
		capacity = DefaultBackupCapacity
	}
	return &Backup{capacity: capacity}
}

// Freeze stops the backup from recording new frames until Unfreeze. While
// frozen, the sent and received counters do not advance either.
func (b *Backup) Freeze() {
	b.mu.Lock()
	b.frozen = true
	b.mu.Unlock()
}

func (b *Backup) Unfreeze() {
	b.mu.Lock()
	b.frozen = false
	b.mu.Unlock()
}

func (b *Backup) Frozen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frozen
}

// PushSent records an outbound frame whose write completed. Frames beyond the
// window evict the oldest entry.
func (b *Backup) PushSent(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return
	}
	b.sentCnt++
	cp := make([]byte, len(frame))
	copy(cp, frame)
	b.sent = append(b.sent, cp)
	if len(b.sent) > b.capacity {
		b.sent = b.sent[1:]
	}
}

// IncrReceived records that an inbound frame was fully read.
func (b *Backup) IncrReceived() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return
	}
	b.receivedCnt++
}

func (b *Backup) SentCnt() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sentCnt
}

func (b *Backup) ReceivedCnt() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.receivedCnt
}

// TailSent returns copies of the most recent n sent frames in original send
// order. ok is false when n exceeds the window, meaning the gap cannot be
// replayed.
func (b *Backup) TailSent(n uint64) (frames [][]byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > uint64(len(b.sent)) {
		return nil, false
	}
	tail := b.sent[uint64(len(b.sent))-n:]
	frames = make([][]byte, len(tail))
	copy(frames, tail)
	return frames, true
}

// Take returns the backup's contents and replaces them with a fresh state,
// used when a dropping server connection hands its backup to the keychain.
func (b *Backup) Take() *Backup {
	b.mu.Lock()
	defer b.mu.Unlock()
	taken := &Backup{
		capacity:    b.capacity,
		sent:        b.sent,
		sentCnt:     b.sentCnt,
		receivedCnt: b.receivedCnt,
	}
	b.sent = nil
	b.sentCnt = 0
	b.receivedCnt = 0
	return taken
}
