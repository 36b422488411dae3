package host

import (
	"io"
	"math/rand"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	log "github.com/inconshreveable/log15"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/server"
)

const processReadBufSize = 8192

// process is one spawned child owned by one connection. Its record stays in
// the connection's map until exit has been reported and the stream pumps have
// drained.
type process struct {
	id    proto.ProcessID
	reply server.ReplySender

	stdin  io.WriteCloser
	resize func(size proto.PtySize) error

	cmd      *exec.Cmd
	killOnce sync.Once
	killedCh chan struct{}

	mu     sync.Mutex
	exited bool

	pumps sync.WaitGroup
}

func (h *Host) ProcSpawn(ctx server.Ctx, req proto.ProcSpawn) (proto.ProcessID, error) {
	state := h.state(ctx.ConnectionID)
	if state == nil {
		return 0, proto.NewError(proto.KindNotConnected, "connection has no process registry")
	}

	args, err := shellwords.Parse(req.Cmd)
	if err != nil {
		return 0, proto.Errorf(proto.KindInvalidInput, "bad command line: %v", err)
	}
	if len(args) == 0 {
		return 0, proto.NewError(proto.KindInvalidInput, "empty command line")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = req.CurrentDir
	// The child sees exactly the environment the client asked for, never the
	// server's own.
	cmd.Env = make([]string, 0, len(req.Environment))
	for k, v := range req.Environment {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	p := &process{
		id:       rand.Uint32(),
		reply:    ctx.Reply,
		cmd:      cmd,
		killedCh: make(chan struct{}),
	}

	if req.Pty != nil {
		err = p.startPty(ctx, req.Pty)
	} else {
		err = p.startSimple(ctx)
	}
	if err != nil {
		return 0, proto.ErrorFromErr(err)
	}

	state.mu.Lock()
	state.processes[p.id] = p
	state.mu.Unlock()

	go p.wait(ctx.Logger, func() {
		state.mu.Lock()
		delete(state.processes, p.id)
		state.mu.Unlock()
	})

	return p.id, nil
}

// startSimple wires three independent byte pipes to the child.
func (p *process) startSimple(ctx server.Ctx) error {
	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := p.cmd.Start(); err != nil {
		return err
	}
	p.stdin = stdin

	p.pumps.Add(2)
	go p.pump(stdout, func(data []byte) proto.ResponsePayload {
		return proto.ProcStdout{ID: p.id, Data: data}
	}, ctx.Reply)
	go p.pump(stderr, func(data []byte) proto.ResponsePayload {
		return proto.ProcStderr{ID: p.id, Data: data}
	}, ctx.Reply)
	return nil
}

// startPty runs the child behind a pseudo-terminal; stdout and stderr merge
// into one stream and no stderr responses are produced.
func (p *process) startPty(ctx server.Ctx, size *proto.PtySize) error {
	winsize := &pty.Winsize{
		Rows: size.Rows,
		Cols: size.Cols,
		X:    size.PixelWidth,
		Y:    size.PixelHeight,
	}
	master, err := pty.StartWithSize(p.cmd, winsize)
	if err != nil {
		return err
	}
	p.stdin = master
	p.resize = func(size proto.PtySize) error {
		return pty.Setsize(master, &pty.Winsize{
			Rows: size.Rows,
			Cols: size.Cols,
			X:    size.PixelWidth,
			Y:    size.PixelHeight,
		})
	}

	p.pumps.Add(1)
	go func() {
		defer master.Close()
		p.pump(master, func(data []byte) proto.ResponsePayload {
			return proto.ProcStdout{ID: p.id, Data: data}
		}, ctx.Reply)
	}()
	return nil
}

// pump forwards one output stream to the client until EOF.
func (p *process) pump(r io.Reader, wrap func([]byte) proto.ResponsePayload, reply server.ReplySender) {
	defer p.pumps.Done()
	buf := make([]byte, processReadBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if reply.Send(wrap(data)) != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// wait reaps the child: it drains the stream pumps, then reports ProcDone.
// A kill reports success=false with no code; a natural exit reports the exit
// code, success only on zero.
func (p *process) wait(logger log.Logger, remove func()) {
	// All buffered stream bytes drain before the child is reaped; Wait
	// closes the pipes.
	p.pumps.Wait()
	waitErr := p.cmd.Wait()

	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()

	killed := false
	select {
	case <-p.killedCh:
		killed = true
	default:
	}

	done := proto.ProcDone{ID: p.id}
	switch {
	case killed:
		done.Success = false
		done.Code = nil
	case waitErr == nil:
		code := int32(0)
		done.Success = true
		done.Code = &code
	default:
		if exitErr, ok := waitErr.(*exec.ExitError); ok && exitErr.ExitCode() >= 0 {
			code := int32(exitErr.ExitCode())
			done.Code = &code
		}
		done.Success = false
	}

	if err := p.reply.Send(done); err != nil {
		logger.Debug("failed to report process exit", "procid", p.id, "err", err)
	}
	remove()
}

// kill terminates the child. The exit is reported by the wait task.
func (p *process) kill() {
	p.killOnce.Do(func() {
		close(p.killedCh)
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}

// writeStdin fails with a broken pipe once the child has exited.
func (p *process) writeStdin(data []byte) error {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited || p.stdin == nil {
		return proto.NewError(proto.KindBrokenPipe, "process has exited")
	}
	if _, err := p.stdin.Write(data); err != nil {
		return proto.ErrorFromErr(err)
	}
	return nil
}

func (h *Host) lookupProcess(connectionID proto.ConnectionID, id proto.ProcessID) (*process, error) {
	state := h.state(connectionID)
	if state == nil {
		return nil, proto.NewError(proto.KindNotConnected, "connection has no process registry")
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	p, ok := state.processes[id]
	if !ok {
		return nil, proto.Errorf(proto.KindNotFound, "no process with id %d", id)
	}
	return p, nil
}

func (h *Host) ProcKill(ctx server.Ctx, id proto.ProcessID) error {
	p, err := h.lookupProcess(ctx.ConnectionID, id)
	if err != nil {
		return err
	}
	p.kill()
	return nil
}

func (h *Host) ProcStdin(ctx server.Ctx, id proto.ProcessID, data []byte) error {
	p, err := h.lookupProcess(ctx.ConnectionID, id)
	if err != nil {
		return err
	}
	return p.writeStdin(data)
}

func (h *Host) ProcResizePty(ctx server.Ctx, id proto.ProcessID, size proto.PtySize) error {
	p, err := h.lookupProcess(ctx.ConnectionID, id)
	if err != nil {
		return err
	}
	if p.resize == nil {
		return proto.NewError(proto.KindUnsupported, "process has no pty")
	}
	if err := p.resize(size); err != nil {
		return proto.ErrorFromErr(err)
	}
	return nil
}
