package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/chipsenkbeil/distant-go/internal/msgpack"
)

// State tracks where a framed transport is in its lifecycle. Transitions run
// forward: Raw -> Handshaking -> Plain|Encrypted -> Closed. Only Reconnect,
// which swaps in a new byte stream, returns a transport to Raw.
type State int

const (
	StateRaw State = iota
	StateHandshaking
	StatePlain
	StateEncrypted
	StateClosed
)

var (
	// ErrDataLoss is returned by Synchronize when the reconnect gap exceeds
	// the backup window and the missing frames cannot be replayed.
	ErrDataLoss = errors.New("data loss: reconnect gap exceeds backup capacity")

	errHandshakeDone = errors.New("transport has already completed its handshake")
	errClosed        = errors.New("transport is closed")
)

// Dialer re-establishes the underlying byte stream for a reconnectable
// transport.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// FramedTransport reads and writes length-prefixed frames over a duplex byte
// stream, transforming payloads through its codec and recording traffic in a
// replayable backup. Reads and writes may proceed concurrently with each
// other; each side is internally serialized.
type FramedTransport struct {
	rmu sync.Mutex
	wmu sync.Mutex

	mu    sync.Mutex // guards conn, codec, state, err
	conn  io.ReadWriteCloser
	codec Codec
	state State
	err   error // first fatal error; sticky

	dial     Dialer
	maxSize  uint64
	isClient bool

	backup *Backup
}

type TransportOption func(*FramedTransport)

// WithMaxFrameSize overrides the frame-size ceiling.
func WithMaxFrameSize(n uint64) TransportOption {
	return func(t *FramedTransport) { t.maxSize = n }
}

// WithBackupCapacity overrides the replay ring-buffer window.
func WithBackupCapacity(n int) TransportOption {
	return func(t *FramedTransport) { t.backup = NewBackup(n) }
}

// WithDialer makes the transport reconnectable.
func WithDialer(dial Dialer) TransportOption {
	return func(t *FramedTransport) { t.dial = dial }
}

func NewFramedTransport(conn io.ReadWriteCloser, opts ...TransportOption) *FramedTransport {
	t := &FramedTransport{
		conn:    conn,
		codec:   IdentityCodec{},
		state:   StateRaw,
		maxSize: DefaultMaxFrameSize,
		backup:  NewBackup(DefaultBackupCapacity),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *FramedTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *FramedTransport) Backup() *Backup {
	return t.backup
}

// SetBackup replaces the transport's backup wholesale. Used server-side when
// restoring the state of a reconnecting client's previous connection.
func (t *FramedTransport) SetBackup(b *Backup) {
	t.backup = b
}

func (t *FramedTransport) current() (io.ReadWriteCloser, Codec, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateClosed {
		if t.err != nil {
			return nil, nil, t.err
		}
		return nil, nil, errClosed
	}
	return t.conn, t.codec, nil
}

// fail records the first fatal error and flips the transport to Closed. Later
// reads and writes return the same error.
func (t *FramedTransport) fail(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateClosed {
		t.state = StateClosed
		t.err = err
		t.conn.Close()
	} else if t.err != nil {
		err = t.err
	}
	return err
}

// ReadFrame reads and decodes the next frame. A clean EOF from the peer is
// reported as io.EOF; any codec decode failure is fatal to the connection.
func (t *FramedTransport) ReadFrame() ([]byte, error) {
	t.rmu.Lock()
	defer t.rmu.Unlock()
	return t.readFrameLocked()
}

func (t *FramedTransport) readFrameLocked() ([]byte, error) {
	conn, codec, err := t.current()
	if err != nil {
		return nil, err
	}
	raw, err := readFrame(conn, t.maxSize)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, t.fail(err)
	}
	frame, err := codec.Decode(raw)
	if err != nil {
		// Decode failures are indistinguishable from tampering.
		return nil, t.fail(err)
	}
	t.backup.IncrReceived()
	return frame, nil
}

// WriteFrame encodes and writes one frame, recording the plaintext payload in
// the backup once the write has completed.
func (t *FramedTransport) WriteFrame(frame []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := t.writeFrameLocked(frame); err != nil {
		return err
	}
	t.backup.PushSent(frame)
	return nil
}

// writeFrameLocked writes without touching the backup; used for handshake,
// synchronization, and replay traffic.
func (t *FramedTransport) writeFrameLocked(frame []byte) error {
	conn, codec, err := t.current()
	if err != nil {
		return err
	}
	encoded, err := codec.Encode(frame)
	if err != nil {
		return t.fail(err)
	}
	if err := writeFrame(conn, encoded); err != nil {
		return t.fail(err)
	}
	return nil
}

// writeFrameUntracked is the exported-in-package entry for traffic that must
// bypass backup recording.
func (t *FramedTransport) writeFrameUntracked(frame []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.writeFrameLocked(frame)
}

// ReadFrameAs reads the next frame and msgpack-decodes it into v.
func (t *FramedTransport) ReadFrameAs(v any) error {
	frame, err := t.ReadFrame()
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(frame, v); err != nil {
		return t.fail(fmt.Errorf("%w: %v", ErrInvalidData, err))
	}
	return nil
}

// WriteFrameFor msgpack-encodes v and writes it as one frame.
func (t *FramedTransport) WriteFrameFor(v any) error {
	frame, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return t.WriteFrame(frame)
}

// readFrameAsUntracked and writeFrameForUntracked carry typed side-channel
// values (handshake and synchronization) without recording them.
func (t *FramedTransport) readFrameAsUntracked(v any) error {
	t.rmu.Lock()
	defer t.rmu.Unlock()
	conn, codec, err := t.current()
	if err != nil {
		return err
	}
	raw, err := readFrame(conn, t.maxSize)
	if err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return t.fail(err)
	}
	frame, err := codec.Decode(raw)
	if err != nil {
		return t.fail(err)
	}
	if err := msgpack.Unmarshal(frame, v); err != nil {
		return t.fail(fmt.Errorf("%w: %v", ErrInvalidData, err))
	}
	return nil
}

func (t *FramedTransport) writeFrameForUntracked(v any) error {
	frame, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return t.writeFrameUntracked(frame)
}

// Reconnect re-establishes the underlying byte stream and resets the
// transport to Raw so a fresh handshake can run. Only transports constructed
// with a dialer can reconnect.
func (t *FramedTransport) Reconnect(ctx context.Context) error {
	if t.dial == nil {
		return errors.New("transport is not reconnectable")
	}
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.codec = IdentityCodec{}
	t.state = StateRaw
	t.err = nil
	return nil
}

// Synchronize performs the reconnect replay exchange. Each side sends the
// total number of frames it has received; the peer replays, in original
// order, every recorded frame the other side is missing. Fails with
// ErrDataLoss when the gap is wider than the backup window. The client sends
// its count first and the server answers, so the exchange cannot deadlock on
// an unbuffered stream.
func (t *FramedTransport) Synchronize() error {
	type syncState struct {
		ReceivedCnt uint64 `codec:"received_cnt"`
	}

	ours := syncState{ReceivedCnt: t.backup.ReceivedCnt()}
	var peer syncState
	if t.isClient {
		if err := t.writeFrameForUntracked(ours); err != nil {
			return err
		}
		if err := t.readFrameAsUntracked(&peer); err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	} else {
		if err := t.readFrameAsUntracked(&peer); err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if err := t.writeFrameForUntracked(ours); err != nil {
			return err
		}
	}

	sent := t.backup.SentCnt()
	if peer.ReceivedCnt > sent {
		return t.fail(fmt.Errorf("%w: peer claims %d frames received but only %d were sent",
			ErrInvalidData, peer.ReceivedCnt, sent))
	}
	missing := sent - peer.ReceivedCnt
	if missing == 0 {
		return nil
	}
	frames, ok := t.backup.TailSent(missing)
	if !ok {
		return t.fail(ErrDataLoss)
	}
	for _, frame := range frames {
		if err := t.writeFrameUntracked(frame); err != nil {
			return err
		}
	}
	return nil
}

func (t *FramedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateClosed {
		return nil
	}
	t.state = StateClosed
	return t.conn.Close()
}
