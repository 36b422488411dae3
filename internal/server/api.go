package server

import (
	log "github.com/inconshreveable/log15"

	"github.com/chipsenkbeil/distant-go/internal/proto"
)

// Ctx accompanies every operation: which connection asked, and the reply
// handle streaming operations use to emit responses beyond the first.
type Ctx struct {
	ConnectionID proto.ConnectionID
	Reply        ReplySender
	Logger       log.Logger
}

// API is the backend an engine dispatches requests onto. The local host
// implementation serves the machine the server runs on; adapters (containers,
// jump hosts) implement the same surface.
type API interface {
	// OnAccept runs once per established connection before any request.
	OnAccept(ctx Ctx)

	// OnDrop runs after a connection is gone; long-lived state owned by the
	// connection (processes, watchers, searches) must be released.
	OnDrop(connectionID proto.ConnectionID)

	Version(ctx Ctx) (proto.VersionResponse, error)
	SystemInfo(ctx Ctx) (proto.SystemInfo, error)

	FileRead(ctx Ctx, path string) ([]byte, error)
	FileReadText(ctx Ctx, path string) (string, error)
	FileWrite(ctx Ctx, path string, data []byte) error
	FileAppend(ctx Ctx, path string, data []byte) error
	DirRead(ctx Ctx, req proto.DirRead) (proto.DirEntries, error)
	DirCreate(ctx Ctx, path string, all bool) error
	Remove(ctx Ctx, path string, force bool) error
	Copy(ctx Ctx, src, dst string) error
	Rename(ctx Ctx, src, dst string) error
	Exists(ctx Ctx, path string) (bool, error)
	Metadata(ctx Ctx, req proto.MetadataRequest) (proto.Metadata, error)
	SetPermissions(ctx Ctx, req proto.SetPermissions) error

	// Watch registers the reply as a change sink for the path; the sink
	// stays live until Unwatch or connection drop.
	Watch(ctx Ctx, req proto.Watch) error
	Unwatch(ctx Ctx, path string) error

	// Search starts an asynchronous query and returns its id; results and
	// the terminal SearchDone flow through the reply.
	Search(ctx Ctx, query proto.SearchQuery) (proto.SearchID, error)
	CancelSearch(ctx Ctx, id proto.SearchID) error

	// ProcSpawn starts a process and returns its id; output and exit flow
	// through the reply.
	ProcSpawn(ctx Ctx, req proto.ProcSpawn) (proto.ProcessID, error)
	ProcKill(ctx Ctx, id proto.ProcessID) error
	ProcStdin(ctx Ctx, id proto.ProcessID, data []byte) error
	ProcResizePty(ctx Ctx, id proto.ProcessID, size proto.PtySize) error
}
