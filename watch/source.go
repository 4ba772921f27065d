package watch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/genkiinstruments/ocpwatch/event"
	"github.com/genkiinstruments/ocpwatch/internal/buffer"
)

const (
	defaultDebounce = 1600 * time.Millisecond
	defaultStep     = 50 * time.Millisecond
)

// Source produces change batches. Next returns io.EOF once the source has
// been closed. A Source serves a single watch session.
type Source interface {
	Next(ctx context.Context) (event.Batch, error)
	Close() error
}

// SourceError is a failure of the underlying change source, such as a
// watched root that no longer exists.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("watch source %s: %v", e.Path, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Options controls batching and filtering.
type Options struct {
	// Debounce caps how long a batch keeps collecting after its first change.
	Debounce time.Duration
	// Step is the quiet period after the last change that closes a batch.
	Step time.Duration
	// Ignore holds directory names that are never watched or reported.
	Ignore []string
	Logger *log.Logger
}

// FSSource is the fsnotify-backed Source. It watches root recursively, plus
// the module file when it lives outside root.
type FSSource struct {
	watcher *fsnotify.Watcher
	root    string
	module  string
	// moduleDir is watched only for the module file; empty when the module
	// is under root.
	moduleDir string
	filter    Filter
	opts      Options

	batchIn chan<- event.Batch
	batches <-chan event.Batch

	mu      sync.Mutex
	watched map[string]struct{}
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// NewFSSource starts watching module and the tree under root.
func NewFSSource(module, root string, opts Options) (*FSSource, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Step <= 0 {
		opts.Step = defaultStep
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &SourceError{Path: root, Err: err}
	}
	absModule, err := filepath.Abs(module)
	if err != nil {
		return nil, &SourceError{Path: module, Err: err}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &SourceError{Path: absRoot, Err: err}
	}

	in, out := buffer.Unbounded[event.Batch](16, 0)
	s := &FSSource{
		watcher: watcher,
		root:    absRoot,
		module:  absModule,
		filter:  NewFilter(opts.Ignore),
		opts:    opts,
		batchIn: in,
		batches: out,
		watched: make(map[string]struct{}),
		done:    make(chan struct{}),
	}

	if err := s.addRecursive(absRoot); err != nil {
		watcher.Close()
		return nil, &SourceError{Path: absRoot, Err: err}
	}
	if !within(absModule, absRoot) {
		s.moduleDir = filepath.Dir(absModule)
		if err := watcher.Add(s.moduleDir); err != nil {
			watcher.Close()
			return nil, &SourceError{Path: absModule, Err: err}
		}
	}

	go s.run()
	return s, nil
}

// Next blocks until a batch is ready.
func (s *FSSource) Next(ctx context.Context) (event.Batch, error) {
	select {
	case batch, ok := <-s.batches:
		if !ok {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.err != nil {
				return nil, s.err
			}
			return nil, io.EOF
		}
		return batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops watching. Pending, unflushed changes are discarded.
func (s *FSSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
	})
	return err
}

func (s *FSSource) run() {
	defer close(s.batchIn)

	var (
		pending event.Batch
		seen    = make(map[event.Change]struct{})
		quiet   *time.Timer
		limit   *time.Timer
		quietC  <-chan time.Time
		limitC  <-chan time.Time
	)

	flush := func() {
		if quiet != nil {
			quiet.Stop()
		}
		if limit != nil {
			limit.Stop()
		}
		quiet, limit, quietC, limitC = nil, nil, nil, nil
		if len(pending) == 0 {
			return
		}
		s.batchIn <- pending
		pending = nil
		seen = make(map[event.Change]struct{})
	}

	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Name == s.root && ev.Has(fsnotify.Remove|fsnotify.Rename) {
				s.fail(&SourceError{Path: s.root, Err: fs.ErrNotExist})
				return
			}

			changes := s.translate(ev)
			if len(changes) == 0 {
				continue
			}
			for _, change := range changes {
				if _, dup := seen[change]; dup {
					continue
				}
				seen[change] = struct{}{}
				pending = append(pending, change)
			}

			if limit == nil {
				limit = time.NewTimer(s.opts.Debounce)
				limitC = limit.C
			}
			if quiet == nil {
				quiet = time.NewTimer(s.opts.Step)
				quietC = quiet.C
			} else {
				quiet.Reset(s.opts.Step)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			// Overflow and similar errors lose events but the watch stays usable.
			s.logf("[watch] fsnotify: %v", err)

		case <-quietC:
			flush()

		case <-limitC:
			flush()
		}
	}
}

// translate maps one fsnotify event to changes, registering watches for
// directories created under root.
func (s *FSSource) translate(ev fsnotify.Event) []event.Change {
	path := ev.Name
	if ev.Op == fsnotify.Chmod {
		return nil
	}
	if s.moduleDir != "" && filepath.Dir(path) == s.moduleDir && !within(path, s.root) {
		if path != s.module {
			return nil
		}
		return []event.Change{{Op: opOf(ev.Op), Path: path}}
	}
	if s.filter.Ignore(s.rel(path)) {
		return nil
	}

	changes := []event.Change{{Op: opOf(ev.Op), Path: path}}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := s.addRecursive(path); err != nil {
				s.logf("[watch] watching new directory %s: %v", path, err)
			}
			// Files written before the watch was added would be missed.
			changes = append(changes, s.existingFiles(path)...)
		}
	}
	if ev.Has(fsnotify.Remove | fsnotify.Rename) {
		s.mu.Lock()
		delete(s.watched, path)
		s.mu.Unlock()
	}
	return changes
}

func (s *FSSource) existingFiles(dir string) []event.Change {
	var changes []event.Change
	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if path != dir && s.filter.IgnoreDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.filter.Ignore(s.rel(path)) {
			changes = append(changes, event.Change{Op: event.Added, Path: path})
		}
		return nil
	})
	return changes
}

func (s *FSSource) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *FSSource) rel(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(path)
	}
	return rel
}

func (s *FSSource) logf(format string, args ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Printf(format, args...)
	}
}

func opOf(op fsnotify.Op) event.Op {
	switch {
	case op.Has(fsnotify.Create):
		return event.Added
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return event.Removed
	}
	return event.Modified
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
