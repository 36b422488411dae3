package server

import (
	"io"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/chipsenkbeil/distant-go/internal/conn"
	"github.com/chipsenkbeil/distant-go/internal/msgpack"
	"github.com/chipsenkbeil/distant-go/internal/proto"
)

// connection runs the request loop for one established connection.
type connection struct {
	conn   *conn.Connection
	api    API
	config Config

	outbound chan proto.Response
	closed   chan struct{}
	once     sync.Once

	handlers sync.WaitGroup

	log.Logger
}

func newConnection(logger log.Logger, established *conn.Connection, api API, config Config) *connection {
	return &connection{
		conn:     established,
		api:      api,
		config:   config,
		outbound: make(chan proto.Response, config.OutboundCapacity),
		closed:   make(chan struct{}),
		Logger:   logger,
	}
}

// serve blocks until the connection dies. Handlers for long-lived operations
// may outlive individual requests but not the connection.
func (c *connection) serve() {
	defer c.teardown()

	c.api.OnAccept(Ctx{
		ConnectionID: c.conn.ID(),
		Reply:        NewReply("", c.outbound, c.closed),
		Logger:       c.Logger,
	})

	var writers sync.WaitGroup
	writers.Add(1)
	go func() {
		defer writers.Done()
		c.writer()
	}()

	c.reader()

	// Give queued responses a chance to drain before tearing down.
	c.drainOutbound()
	c.shutdown()
	writers.Wait()
}

func (c *connection) shutdown() {
	c.once.Do(func() { close(c.closed) })
}

func (c *connection) teardown() {
	c.shutdown()
	c.conn.Close()
	c.handlers.Wait()
	c.api.OnDrop(c.conn.ID())
	c.Debug("connection torn down")
}

// drainOutbound waits briefly for the writer to flush pending responses,
// polling at the configured sleep pace.
func (c *connection) drainOutbound() {
	deadline := time.Now().Add(5 * c.config.SleepDuration)
	for time.Now().Before(deadline) {
		if len(c.outbound) == 0 {
			return
		}
		time.Sleep(c.config.SleepDuration)
	}
}

// reader pulls frames off the transport and spawns a handler per request
// payload. Malformed requests are logged and skipped; only transport-level
// failures end the loop.
func (c *connection) reader() {
	for {
		frame, err := c.conn.Transport().ReadFrame()
		if err != nil {
			if err == io.EOF {
				c.Debug("connection closed by peer")
			} else {
				c.Error("connection read failed", "err", err)
			}
			return
		}

		var req proto.Request
		if err := msgpack.Unmarshal(frame, &req); err != nil {
			c.Warn("skipping malformed request frame", "err", err)
			continue
		}
		payloads, _, err := req.Payloads()
		if err != nil {
			c.Warn("skipping request with bad payload", "id", req.ID, "err", err)
			continue
		}

		reply := NewReply(req.ID, c.outbound, c.closed)
		for _, payload := range payloads {
			payload := payload
			c.handlers.Add(1)
			go func() {
				defer c.handlers.Done()
				c.dispatch(reply, payload)
			}()
		}
	}
}

// writer drains the outbound queue onto the transport.
func (c *connection) writer() {
	for {
		select {
		case resp := <-c.outbound:
			if err := c.conn.Transport().WriteFrameFor(resp); err != nil {
				c.Debug("outbound write failed", "err", err)
				c.shutdown()
				return
			}
		case <-c.closed:
			// Flush whatever is already queued.
			for {
				select {
				case resp := <-c.outbound:
					if err := c.conn.Transport().WriteFrameFor(resp); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// dispatch routes one payload to the API and reports the result. A handler
// failure becomes an Error response; the connection stays open.
func (c *connection) dispatch(reply Reply, payload proto.RequestPayload) {
	ctx := Ctx{ConnectionID: c.conn.ID(), Reply: reply, Logger: c.Logger}

	var result proto.ResponsePayload
	var err error

	switch p := payload.(type) {
	case *proto.Heartbeat:
		result = proto.Ok{}
	case *proto.VersionRequest:
		var v proto.VersionResponse
		if v, err = c.api.Version(ctx); err == nil {
			result = v
		}
	case *proto.SystemInfoRequest:
		var info proto.SystemInfo
		if info, err = c.api.SystemInfo(ctx); err == nil {
			result = info
		}
	case *proto.FileRead:
		var data []byte
		if data, err = c.api.FileRead(ctx, p.Path); err == nil {
			result = proto.Blob{Data: data}
		}
	case *proto.FileReadText:
		var text string
		if text, err = c.api.FileReadText(ctx, p.Path); err == nil {
			result = proto.Text{Data: text}
		}
	case *proto.FileWrite:
		if err = c.api.FileWrite(ctx, p.Path, p.Data); err == nil {
			result = proto.Ok{}
		}
	case *proto.FileWriteText:
		if err = c.api.FileWrite(ctx, p.Path, []byte(p.Text)); err == nil {
			result = proto.Ok{}
		}
	case *proto.FileAppend:
		if err = c.api.FileAppend(ctx, p.Path, p.Data); err == nil {
			result = proto.Ok{}
		}
	case *proto.FileAppendText:
		if err = c.api.FileAppend(ctx, p.Path, []byte(p.Text)); err == nil {
			result = proto.Ok{}
		}
	case *proto.DirRead:
		var entries proto.DirEntries
		if entries, err = c.api.DirRead(ctx, *p); err == nil {
			result = entries
		}
	case *proto.DirCreate:
		if err = c.api.DirCreate(ctx, p.Path, p.All); err == nil {
			result = proto.Ok{}
		}
	case *proto.Remove:
		if err = c.api.Remove(ctx, p.Path, p.Force); err == nil {
			result = proto.Ok{}
		}
	case *proto.Copy:
		if err = c.api.Copy(ctx, p.Src, p.Dst); err == nil {
			result = proto.Ok{}
		}
	case *proto.Rename:
		if err = c.api.Rename(ctx, p.Src, p.Dst); err == nil {
			result = proto.Ok{}
		}
	case *proto.Exists:
		var exists bool
		if exists, err = c.api.Exists(ctx, p.Path); err == nil {
			result = proto.ExistsResponse{Value: exists}
		}
	case *proto.MetadataRequest:
		var md proto.Metadata
		if md, err = c.api.Metadata(ctx, *p); err == nil {
			result = md
		}
	case *proto.SetPermissions:
		if err = c.api.SetPermissions(ctx, *p); err == nil {
			result = proto.Ok{}
		}
	case *proto.Watch:
		// Queue change events until the Ok acknowledging the watch has
		// reached the wire.
		queued := reply.Queued()
		ctx.Reply = queued
		if err = c.api.Watch(ctx, *p); err == nil {
			_ = queued.SendBefore(proto.Ok{})
			err = queued.Flush(false)
		}
	case *proto.Unwatch:
		if err = c.api.Unwatch(ctx, p.Path); err == nil {
			result = proto.Ok{}
		}
	case *proto.Search:
		// SearchStarted must precede any results the walker produces.
		queued := reply.Queued()
		ctx.Reply = queued
		var id proto.SearchID
		if id, err = c.api.Search(ctx, p.Query); err == nil {
			_ = queued.SendBefore(proto.SearchStarted{ID: id})
			err = queued.Flush(false)
		}
	case *proto.CancelSearch:
		if err = c.api.CancelSearch(ctx, p.ID); err == nil {
			result = proto.Ok{}
		}
	case *proto.ProcSpawn:
		// ProcSpawned must precede any output from the child.
		queued := reply.Queued()
		ctx.Reply = queued
		var id proto.ProcessID
		if id, err = c.api.ProcSpawn(ctx, *p); err == nil {
			_ = queued.SendBefore(proto.ProcSpawned{ID: id})
			err = queued.Flush(false)
		}
	case *proto.ProcKill:
		if err = c.api.ProcKill(ctx, p.ID); err == nil {
			result = proto.Ok{}
		}
	case *proto.ProcStdin:
		if err = c.api.ProcStdin(ctx, p.ID, p.Data); err == nil {
			result = proto.Ok{}
		}
	case *proto.ProcResizePty:
		if err = c.api.ProcResizePty(ctx, p.ID, p.Size); err == nil {
			result = proto.Ok{}
		}
	default:
		err = proto.Errorf(proto.KindUnsupported, "unsupported request payload %T", payload)
	}

	if err != nil {
		if sendErr := reply.Send(*proto.ErrorFromErr(err)); sendErr != nil {
			c.Debug("failed to report handler error", "err", sendErr)
		}
		return
	}
	if result != nil {
		if sendErr := reply.Send(result); sendErr != nil {
			c.Debug("failed to send response", "err", sendErr)
		}
	}
}
