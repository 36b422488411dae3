package host

import (
	"bufio"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	log "github.com/inconshreveable/log15"

	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/server"
)

// searchMaxLineLen bounds a single scanned line during contents search.
const searchMaxLineLen = 1 << 20

type search struct {
	id proto.SearchID

	cancelCh   chan struct{}
	cancelOnce sync.Once
}

func (s *search) cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

func (s *search) cancelled() bool {
	select {
	case <-s.cancelCh:
		return true
	default:
		return false
	}
}

func (h *Host) Search(ctx server.Ctx, query proto.SearchQuery) (proto.SearchID, error) {
	state := h.state(ctx.ConnectionID)
	if state == nil {
		return 0, proto.NewError(proto.KindNotConnected, "connection has no search registry")
	}

	matcher, err := query.Condition.Compile()
	if err != nil {
		return 0, proto.ErrorFromErr(err)
	}
	var include, exclude *regexp.Regexp
	if query.Options.Include != nil {
		if include, err = query.Options.Include.Compile(); err != nil {
			return 0, proto.ErrorFromErr(err)
		}
	}
	if query.Options.Exclude != nil {
		if exclude, err = query.Options.Exclude.Compile(); err != nil {
			return 0, proto.ErrorFromErr(err)
		}
	}

	s := &search{
		id:       rand.Uint32(),
		cancelCh: make(chan struct{}),
	}
	state.mu.Lock()
	state.searches[s.id] = s
	state.mu.Unlock()

	walker := &searchWalker{
		search:  s,
		query:   query,
		matcher: matcher,
		include: include,
		exclude: exclude,
		reply:   ctx.Reply,
		Logger:  ctx.Logger.New("searchid", s.id),
	}
	go func() {
		walker.run()
		state.mu.Lock()
		delete(state.searches, s.id)
		state.mu.Unlock()
	}()

	return s.id, nil
}

func (h *Host) CancelSearch(ctx server.Ctx, id proto.SearchID) error {
	state := h.state(ctx.ConnectionID)
	if state == nil {
		return proto.NewError(proto.KindNotConnected, "connection has no search registry")
	}
	state.mu.Lock()
	s, ok := state.searches[id]
	state.mu.Unlock()
	if !ok {
		return proto.Errorf(proto.KindNotFound, "no search with id %d", id)
	}
	s.cancel()
	return nil
}

// searchWalker performs one query: it traverses the requested paths, tests
// candidates, pages matches out, and finishes with SearchDone. Traversal
// errors are reported alongside matches and never abort the walk.
type searchWalker struct {
	search  *search
	query   proto.SearchQuery
	matcher *regexp.Regexp
	include *regexp.Regexp
	exclude *regexp.Regexp
	reply   server.ReplySender

	matched uint64
	pending []proto.SearchMatch

	log.Logger
}

func (w *searchWalker) run() {
	for _, path := range w.query.Paths {
		if w.done() {
			break
		}
		if w.query.Options.Upward {
			w.walkUpward(path)
		} else {
			w.walkDownward(path)
		}
	}

	w.flush()
	if err := w.reply.Send(proto.SearchDone{ID: w.search.id}); err != nil {
		w.Debug("failed to report search completion", "err", err)
	}
}

// done reports whether the walk should stop: cancelled, limit reached, or
// client gone.
func (w *searchWalker) done() bool {
	if w.search.cancelled() || w.reply.IsClosed() {
		return true
	}
	limit := w.query.Options.Limit
	return limit > 0 && w.matched >= limit
}

func (w *searchWalker) walkDownward(root string) {
	maxDepth := w.query.Options.MaxDepth
	filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if w.done() {
			return filepath.SkipAll
		}
		if err != nil {
			w.reportError(err)
			return nil
		}
		if maxDepth > 0 {
			if depth := entryDepth(root, p); depth > maxDepth {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.Type()&fs.ModeSymlink != 0 && w.query.Options.FollowSymbolicLinks {
			if info, err := os.Stat(p); err == nil && info.IsDir() {
				w.walkDownward(p)
				return nil
			}
		}
		w.consider(p, d.Type())
		return nil
	})
}

// walkUpward climbs from the path through its ancestors, scanning each
// ancestor's immediate entries. MaxDepth bounds how many ancestors are
// climbed.
func (w *searchWalker) walkUpward(path string) {
	current, err := filepath.Abs(path)
	if err != nil {
		w.reportError(err)
		return
	}
	if info, err := os.Stat(current); err == nil && !info.IsDir() {
		current = filepath.Dir(current)
	}

	var climbed uint64
	for {
		if w.done() {
			return
		}
		entries, err := os.ReadDir(current)
		if err != nil {
			w.reportError(err)
		} else {
			for _, entry := range entries {
				if w.done() {
					return
				}
				w.consider(filepath.Join(current, entry.Name()), entry.Type())
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			return
		}
		current = parent
		climbed++
		if maxDepth := w.query.Options.MaxDepth; maxDepth > 0 && climbed > maxDepth {
			return
		}
	}
}

func entryDepth(root, p string) uint64 {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return 0
	}
	return uint64(1 + countSeparators(rel))
}

// consider applies the path filters and file-type restriction, then tests
// the candidate against the query target.
func (w *searchWalker) consider(path string, mode fs.FileMode) {
	if w.include != nil && !w.include.MatchString(path) {
		return
	}
	if w.exclude != nil && w.exclude.MatchString(path) {
		return
	}

	fileType := proto.FileTypeFromMode(mode)
	if allowed := w.query.Options.AllowedFileTypes; len(allowed) > 0 {
		ok := false
		for _, ft := range allowed {
			if ft == fileType {
				ok = true
				break
			}
		}
		if !ok {
			return
		}
	}

	switch w.query.Target {
	case proto.SearchTargetContents:
		if fileType == proto.FileTypeFile {
			w.searchContents(path)
		}
	default:
		w.searchPath(path)
	}
}

func (w *searchWalker) searchPath(path string) {
	locs := w.matcher.FindAllStringIndex(path, -1)
	if locs == nil {
		return
	}
	submatches := make([]proto.SearchSubmatch, 0, len(locs))
	for _, loc := range locs {
		submatches = append(submatches, proto.SearchSubmatch{
			Match: path[loc[0]:loc[1]],
			Start: uint64(loc[0]),
			End:   uint64(loc[1]),
		})
	}
	w.push(proto.SearchMatch{Path: &proto.SearchPathMatch{
		Path:       path,
		Submatches: submatches,
	}})
}

// searchContents scans a file line by line, reporting each matching line
// with its 1-based line number and the byte offset of the line's start.
func (w *searchWalker) searchContents(path string) {
	f, err := os.Open(path)
	if err != nil {
		w.reportError(err)
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), searchMaxLineLen)

	var lineNumber uint64
	var offset uint64
	for scanner.Scan() {
		if w.done() {
			return
		}
		lineNumber++
		line := scanner.Text()

		if locs := w.matcher.FindAllStringIndex(line, -1); locs != nil {
			submatches := make([]proto.SearchSubmatch, 0, len(locs))
			for _, loc := range locs {
				submatches = append(submatches, proto.SearchSubmatch{
					Match: line[loc[0]:loc[1]],
					Start: uint64(loc[0]),
					End:   uint64(loc[1]),
				})
			}
			w.push(proto.SearchMatch{Contents: &proto.SearchContentsMatch{
				Path:           path,
				Lines:          line,
				LineNumber:     lineNumber,
				AbsoluteOffset: offset,
				Submatches:     submatches,
			}})
			if w.done() {
				return
			}
		}
		// Scanner strips the newline; account for it in the offset.
		offset += uint64(len(scanner.Bytes())) + 1
	}
	if err := scanner.Err(); err != nil {
		w.reportError(err)
	}
}

// push records a match, emitting a page when pagination is configured and
// the page is full.
func (w *searchWalker) push(match proto.SearchMatch) {
	w.matched++
	w.pending = append(w.pending, match)
	if page := w.query.Options.Pagination; page > 0 && uint64(len(w.pending)) >= page {
		w.flush()
	}
}

// flush emits any pending page.
func (w *searchWalker) flush() {
	if len(w.pending) == 0 {
		return
	}
	matches := w.pending
	w.pending = nil
	if err := w.reply.Send(proto.SearchResults{ID: w.search.id, Matches: matches}); err != nil {
		w.Debug("failed to send search results", "err", err)
	}
}

func (w *searchWalker) reportError(err error) {
	if sendErr := w.reply.Send(*proto.ErrorFromErr(err)); sendErr != nil {
		w.Debug("failed to report search error", "err", sendErr)
	}
}
