// Package host implements the server API against the local machine: file
// operations, process spawning (plain and PTY), recursive filesystem
// watching with coalescing, and streaming search.
package host

import (
	"os"
	"os/user"
	"runtime"
	"sync"

	log "github.com/inconshreveable/log15"
	gopsutilhost "github.com/shirou/gopsutil/v3/host"

	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/server"
)

// Host serves the machine it runs on. One Host serves many connections; all
// long-lived state is kept per connection so a dropped connection releases
// its processes, watches, and searches.
type Host struct {
	version string

	mu    sync.Mutex
	conns map[proto.ConnectionID]*connState

	watches *watchRegistry

	log.Logger
}

type connState struct {
	mu        sync.Mutex
	processes map[proto.ProcessID]*process
	searches  map[proto.SearchID]*search
}

// New creates a host backend. version is reported by the version operation.
func New(logger log.Logger, version string) *Host {
	return &Host{
		version: version,
		conns:   make(map[proto.ConnectionID]*connState),
		watches: newWatchRegistry(logger),
		Logger:  logger,
	}
}

var _ server.API = (*Host)(nil)

func (h *Host) OnAccept(ctx server.Ctx) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[ctx.ConnectionID] = &connState{
		processes: make(map[proto.ProcessID]*process),
		searches:  make(map[proto.SearchID]*search),
	}
}

// OnDrop kills every process, cancels every search, and removes every watch
// owned by the connection.
func (h *Host) OnDrop(connectionID proto.ConnectionID) {
	h.mu.Lock()
	state := h.conns[connectionID]
	delete(h.conns, connectionID)
	h.mu.Unlock()

	h.watches.removeConnection(connectionID)

	if state == nil {
		return
	}
	state.mu.Lock()
	processes := make([]*process, 0, len(state.processes))
	for _, p := range state.processes {
		processes = append(processes, p)
	}
	searches := make([]*search, 0, len(state.searches))
	for _, s := range state.searches {
		searches = append(searches, s)
	}
	state.mu.Unlock()

	for _, p := range processes {
		p.kill()
	}
	for _, s := range searches {
		s.cancel()
	}
}

func (h *Host) state(connectionID proto.ConnectionID) *connState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[connectionID]
}

func (h *Host) Version(ctx server.Ctx) (proto.VersionResponse, error) {
	return proto.VersionResponse{
		ServerVersion:   h.version,
		ProtocolVersion: proto.ProtocolVersion,
		Capabilities:    proto.DefaultCapabilities,
	}, nil
}

func (h *Host) SystemInfo(ctx server.Ctx) (proto.SystemInfo, error) {
	family := "unix"
	if runtime.GOOS == "windows" {
		family = "windows"
	}

	osName := runtime.GOOS
	if info, err := gopsutilhost.Info(); err == nil && info.OS != "" {
		osName = info.OS
	}

	cwd, _ := os.Getwd()

	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	shell := os.Getenv("SHELL")
	if runtime.GOOS == "windows" {
		shell = os.Getenv("COMSPEC")
	}

	sep := "/"
	if runtime.GOOS == "windows" {
		sep = `\`
	}

	return proto.SystemInfo{
		Family:        family,
		OS:            osName,
		Arch:          runtime.GOARCH,
		CurrentDir:    cwd,
		MainSeparator: sep,
		Username:      username,
		Shell:         shell,
	}, nil
}
