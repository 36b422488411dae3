package distant

import (
	"context"
	"sync"

	"github.com/chipsenkbeil/distant-go/internal/client"
	"github.com/chipsenkbeil/distant-go/internal/proto"
)

// SpawnOptions tune Spawn.
type SpawnOptions struct {
	// Environment is the child's entire environment; the server never
	// leaks its own.
	Environment Map

	// CurrentDir is the child's working directory.
	CurrentDir string

	// Pty runs the child behind a pseudo-terminal of the given size, with
	// stdout and stderr merged.
	Pty *PtySize
}

// ProcessStatus is the terminal state of a remote process.
type ProcessStatus struct {
	Success bool

	// Code is nil when the process was killed rather than exiting.
	Code *int32
}

// RemoteProcess is a handle to a process spawned on the server. Output is
// consumed from the Stdout and Stderr channels; Wait blocks for exit.
type RemoteProcess struct {
	id     ProcessID
	c      *Client
	mail   *client.Mailbox
	cancel context.CancelFunc

	stdout chan []byte
	stderr chan []byte

	waitOnce sync.Once
	waitCh   chan struct{}
	status   ProcessStatus
	waitErr  error
}

// Spawn starts a process on the server. cmd is a full command line, split
// server-side with shell-style quoting.
func (c *Client) Spawn(ctx context.Context, cmd string, opts SpawnOptions) (*RemoteProcess, error) {
	req, err := proto.NewRequest(proto.ProcSpawn{
		Cmd:         cmd,
		Environment: opts.Environment,
		CurrentDir:  opts.CurrentDir,
		Pty:         opts.Pty,
	})
	if err != nil {
		return nil, err
	}

	mail, err := c.inner.Mail(ctx, req)
	if err != nil {
		return nil, err
	}

	// The first response is ProcSpawned or an Error.
	spawnCtx, cancel := c.opCtx(ctx)
	first, err := mail.Receive(spawnCtx)
	cancel()
	if err != nil {
		mail.Close()
		return nil, err
	}
	payload, err := first.Payload()
	if err != nil {
		mail.Close()
		return nil, err
	}
	switch p := payload.(type) {
	case *proto.ProcSpawned:
		pumpCtx, cancel := context.WithCancel(context.Background())
		proc := &RemoteProcess{
			id:     p.ID,
			c:      c,
			mail:   mail,
			cancel: cancel,
			stdout: make(chan []byte, 256),
			stderr: make(chan []byte, 256),
			waitCh: make(chan struct{}),
		}
		go proc.pump(pumpCtx)
		return proc, nil
	case *proto.Error:
		mail.Close()
		return nil, p
	default:
		mail.Close()
		return nil, ErrUnexpectedResponse{Context: UnexpectedResponseContext{Op: "proc_spawn", Got: payloadName(payload)}}
	}
}

// ID is the server-side process id.
func (p *RemoteProcess) ID() ProcessID { return p.id }

// Stdout streams the child's standard output. The channel closes at exit.
func (p *RemoteProcess) Stdout() <-chan []byte { return p.stdout }

// Stderr streams the child's standard error. PTY processes produce nothing
// here. The channel closes at exit.
func (p *RemoteProcess) Stderr() <-chan []byte { return p.stderr }

// pump routes process responses until ProcDone or connection loss.
func (p *RemoteProcess) pump(ctx context.Context) {
	defer close(p.stdout)
	defer close(p.stderr)
	for {
		resp, err := p.mail.Receive(ctx)
		if err != nil {
			p.finish(ProcessStatus{}, err)
			return
		}
		payload, err := resp.Payload()
		if err != nil {
			continue
		}
		switch v := payload.(type) {
		case *proto.ProcStdout:
			p.stdout <- v.Data
		case *proto.ProcStderr:
			p.stderr <- v.Data
		case *proto.ProcDone:
			p.finish(ProcessStatus{Success: v.Success, Code: v.Code}, nil)
			return
		case *proto.Error:
			p.finish(ProcessStatus{}, v)
			return
		}
	}
}

func (p *RemoteProcess) finish(status ProcessStatus, err error) {
	p.waitOnce.Do(func() {
		p.status = status
		p.waitErr = err
		close(p.waitCh)
		p.mail.Close()
	})
}

// Wait blocks until the process exits and returns its terminal status.
func (p *RemoteProcess) Wait(ctx context.Context) (ProcessStatus, error) {
	select {
	case <-p.waitCh:
		return p.status, p.waitErr
	case <-ctx.Done():
		return ProcessStatus{}, proto.ErrorFromErr(ctx.Err())
	}
}

// WriteStdin feeds bytes to the child's standard input.
func (p *RemoteProcess) WriteStdin(ctx context.Context, data []byte) error {
	return p.c.expectOk(ctx, "proc_stdin", proto.ProcStdin{ID: p.id, Data: data})
}

// Kill terminates the process. The exit is still reported through Wait,
// with success=false and no code.
func (p *RemoteProcess) Kill(ctx context.Context) error {
	return p.c.expectOk(ctx, "proc_kill", proto.ProcKill{ID: p.id})
}

// ResizePty adjusts the pseudo-terminal size of a PTY process.
func (p *RemoteProcess) ResizePty(ctx context.Context, size PtySize) error {
	return p.c.expectOk(ctx, "proc_resize_pty", proto.ProcResizePty{ID: p.id, Size: size})
}

// Abandon stops observing the process without killing it server-side.
func (p *RemoteProcess) Abandon() {
	p.cancel()
	p.mail.Close()
}
