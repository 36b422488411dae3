package host

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/inconshreveable/log15"

	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/server"
)

// coalesceWindow unions consecutive identical-kind events within this span
// into one Changed response.
const coalesceWindow = 10 * time.Millisecond

type watchKey struct {
	path      string
	recursive bool
}

// watchRecord is one client registration. It lives exactly as long as its
// reply sink: a closed sink drops the record on the next emit.
type watchRecord struct {
	connID    proto.ConnectionID
	path      string
	recursive bool
	only      proto.ChangeKindSet
	except    proto.ChangeKindSet
	reply     server.ReplySender
}

// wants applies the only/except filter.
func (r *watchRecord) wants(kind proto.ChangeKind) bool {
	if !r.only.IsEmpty() && !r.only.Contains(kind) {
		return false
	}
	return !r.except.Contains(kind)
}

// matches checks whether an event path falls under this record.
func (r *watchRecord) matches(path string) bool {
	if path == r.path {
		return true
	}
	if r.recursive {
		rel, err := filepath.Rel(r.path, path)
		if err != nil {
			return false
		}
		return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
	}
	return filepath.Dir(path) == r.path
}

// watchRegistry owns one OS-level watcher per distinct (path, recursive)
// tuple and demultiplexes its events onto the registered records.
type watchRegistry struct {
	mu       sync.Mutex
	watchers map[watchKey]*pathWatcher

	log.Logger
}

func newWatchRegistry(logger log.Logger) *watchRegistry {
	return &watchRegistry{
		watchers: make(map[watchKey]*pathWatcher),
		Logger:   logger,
	}
}

func (h *Host) Watch(ctx server.Ctx, req proto.Watch) error {
	path, err := filepath.Abs(req.Path)
	if err != nil {
		return proto.ErrorFromErr(err)
	}
	if _, err := os.Stat(path); err != nil {
		return proto.ErrorFromErr(err)
	}
	record := &watchRecord{
		connID:    ctx.ConnectionID,
		path:      path,
		recursive: req.Recursive,
		only:      proto.NewChangeKindSet(req.Only...),
		except:    proto.NewChangeKindSet(req.Except...),
		reply:     ctx.Reply,
	}
	return h.watches.add(record)
}

// Unwatch removes this connection's records for the path. Unwatching a path
// that is not watched is fine.
func (h *Host) Unwatch(ctx server.Ctx, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return proto.ErrorFromErr(err)
	}
	h.watches.remove(ctx.ConnectionID, abs)
	return nil
}

func (w *watchRegistry) add(record *watchRecord) error {
	key := watchKey{path: record.path, recursive: record.recursive}
	w.mu.Lock()
	defer w.mu.Unlock()

	pw, ok := w.watchers[key]
	if !ok {
		var err error
		pw, err = newPathWatcher(w.Logger, key)
		if err != nil {
			return proto.ErrorFromErr(err)
		}
		w.watchers[key] = pw
	}
	pw.addRecord(record)
	return nil
}

func (w *watchRegistry) remove(connID proto.ConnectionID, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, pw := range w.watchers {
		if key.path != path {
			continue
		}
		if pw.removeRecords(func(r *watchRecord) bool {
			return r.connID == connID
		}) == 0 {
			pw.stop()
			delete(w.watchers, key)
		}
	}
}

// removeConnection drops every record owned by a connection.
func (w *watchRegistry) removeConnection(connID proto.ConnectionID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, pw := range w.watchers {
		if pw.removeRecords(func(r *watchRecord) bool {
			return r.connID == connID
		}) == 0 {
			pw.stop()
			delete(w.watchers, key)
		}
	}
}

// pathWatcher pumps one fsnotify watcher, translating and coalescing its
// events for the registered records.
type pathWatcher struct {
	key     watchKey
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	records []*watchRecord

	done     chan struct{}
	stopOnce sync.Once

	log.Logger
}

func newPathWatcher(logger log.Logger, key watchKey) (*pathWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	pw := &pathWatcher{
		key:     key,
		watcher: watcher,
		done:    make(chan struct{}),
		Logger:  logger.New("watch", key.path, "recursive", key.recursive),
	}

	if err := watcher.Add(key.path); err != nil {
		watcher.Close()
		return nil, err
	}
	if key.recursive {
		// The OS watcher is flat, so every nested directory is added, and
		// newly created ones are added as their create events arrive.
		filepath.WalkDir(key.path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() && p != key.path {
				if err := watcher.Add(p); err != nil {
					pw.Debug("failed to watch subdirectory", "path", p, "err", err)
				}
			}
			return nil
		})
	}

	go pw.run()
	return pw, nil
}

func (pw *pathWatcher) addRecord(record *watchRecord) {
	pw.mu.Lock()
	pw.records = append(pw.records, record)
	pw.mu.Unlock()
}

// removeRecords deletes records matching the predicate and returns how many
// remain.
func (pw *pathWatcher) removeRecords(match func(*watchRecord) bool) int {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	kept := pw.records[:0]
	for _, r := range pw.records {
		if !match(r) {
			kept = append(kept, r)
		}
	}
	pw.records = kept
	return len(kept)
}

func (pw *pathWatcher) stop() {
	pw.stopOnce.Do(func() {
		close(pw.done)
		pw.watcher.Close()
	})
}

type pendingChange struct {
	kind  proto.ChangeKind
	paths map[string]struct{}
}

// run translates OS events into change kinds, coalescing consecutive
// identical kinds within the window before emitting.
func (pw *pathWatcher) run() {
	var pending *pendingChange
	var flushAt <-chan time.Time

	flush := func() {
		if pending == nil {
			return
		}
		pw.emit(pending.kind, pending.paths)
		pending = nil
		flushAt = nil
	}

	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				flush()
				return
			}
			kind := changeKindFromOp(event.Op)

			// Keep a recursive watch alive for directories created under it.
			if pw.key.recursive && event.Op.Has(fsnotify.Create) {
				if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
					if err := pw.watcher.Add(event.Name); err != nil {
						pw.Debug("failed to watch new subdirectory", "path", event.Name, "err", err)
					}
				}
			}

			if pending != nil && pending.kind != kind {
				flush()
			}
			if pending == nil {
				pending = &pendingChange{kind: kind, paths: make(map[string]struct{})}
				flushAt = time.After(coalesceWindow)
			}
			pending.paths[event.Name] = struct{}{}

		case <-flushAt:
			flush()

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				flush()
				return
			}
			pw.Warn("watcher error", "err", err)

		case <-pw.done:
			flush()
			return
		}
	}
}

// emit fans a coalesced change out to every record whose path and filters
// accept it. Records whose reply sink is gone are dropped, which is the
// implicit unwatch.
func (pw *pathWatcher) emit(kind proto.ChangeKind, pathSet map[string]struct{}) {
	pw.mu.Lock()
	records := make([]*watchRecord, len(pw.records))
	copy(records, pw.records)
	pw.mu.Unlock()

	var dead []*watchRecord
	for _, record := range records {
		var paths []string
		for p := range pathSet {
			if record.matches(p) {
				paths = append(paths, p)
			}
		}
		if len(paths) == 0 || !record.wants(kind) {
			continue
		}
		sort.Strings(paths)
		if err := record.reply.Send(proto.Changed{Kind: kind, Paths: paths}); err != nil {
			dead = append(dead, record)
		}
	}
	if len(dead) > 0 {
		pw.removeRecords(func(r *watchRecord) bool {
			for _, d := range dead {
				if r == d {
					return true
				}
			}
			return false
		})
	}
}

func changeKindFromOp(op fsnotify.Op) proto.ChangeKind {
	switch {
	case op.Has(fsnotify.Create):
		return proto.ChangeCreate
	case op.Has(fsnotify.Write):
		return proto.ChangeContent
	case op.Has(fsnotify.Remove):
		return proto.ChangeRemove
	case op.Has(fsnotify.Rename):
		return proto.ChangeRename
	case op.Has(fsnotify.Chmod):
		return proto.ChangePermissions
	default:
		return proto.ChangeUnknown
	}
}
