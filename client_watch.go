package distant

import (
	"context"

	"github.com/chipsenkbeil/distant-go/internal/client"
	"github.com/chipsenkbeil/distant-go/internal/proto"
)

// WatchOptions tune Watch.
type WatchOptions struct {
	// Recursive watches the whole tree under the path.
	Recursive bool

	// Only restricts delivered changes to these kinds.
	Only []ChangeKind

	// Except removes these kinds from delivery.
	Except []ChangeKind
}

// Watcher streams filesystem changes for one watched path. Dropping the
// watcher (Close) implicitly unwatches.
type Watcher struct {
	path   string
	c      *Client
	mail   *client.Mailbox
	cancel context.CancelFunc
	events chan Change
}

// Watch registers interest in changes under a remote path.
func (c *Client) Watch(ctx context.Context, path string, opts WatchOptions) (*Watcher, error) {
	req, err := proto.NewRequest(proto.Watch{
		Path:      path,
		Recursive: opts.Recursive,
		Only:      opts.Only,
		Except:    opts.Except,
	})
	if err != nil {
		return nil, err
	}
	mail, err := c.inner.Mail(ctx, req)
	if err != nil {
		return nil, err
	}

	// The first response acknowledges the watch or reports why not.
	ackCtx, cancel := c.opCtx(ctx)
	first, err := mail.Receive(ackCtx)
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
	case *proto.Ok:
	case *proto.Error:
		mail.Close()
		return nil, p
	default:
		mail.Close()
		return nil, ErrUnexpectedResponse{Context: UnexpectedResponseContext{Op: "watch", Got: payloadName(payload)}}
	}

	pumpCtx, cancelPump := context.WithCancel(context.Background())
	w := &Watcher{
		path:   path,
		c:      c,
		mail:   mail,
		cancel: cancelPump,
		events: make(chan Change, 256),
	}
	go w.pump(pumpCtx)
	return w, nil
}

// Events streams the coalesced changes. The channel closes when the watch
// ends.
func (w *Watcher) Events() <-chan Change { return w.events }

// Next blocks for the next change.
func (w *Watcher) Next(ctx context.Context) (Change, error) {
	select {
	case change, ok := <-w.events:
		if !ok {
			return Change{}, proto.NewError(proto.KindBrokenPipe, "watch ended")
		}
		return change, nil
	case <-ctx.Done():
		return Change{}, proto.ErrorFromErr(ctx.Err())
	}
}

func (w *Watcher) pump(ctx context.Context) {
	defer close(w.events)
	for {
		resp, err := w.mail.Receive(ctx)
		if err != nil {
			return
		}
		payload, err := resp.Payload()
		if err != nil {
			continue
		}
		if changed, ok := payload.(*proto.Changed); ok {
			select {
			case w.events <- *changed:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close unregisters the watch server-side and stops the event stream.
func (w *Watcher) Close() error {
	w.cancel()
	w.mail.Close()
	ctx, cancel := w.c.opCtx(context.Background())
	defer cancel()
	return w.c.expectOk(ctx, "unwatch", proto.Unwatch{Path: w.path})
}
