package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/genkiinstruments/ocpwatch/event"
)

// ErrNoModuleFile is returned when the watched module has no file on disk.
var ErrNoModuleFile = errors.New("watch: module has no backing file")

// Flag is the reload signal a FileWatcher raises on self-change.
type Flag interface {
	Set()
}

// Verdict is the outcome of classifying one batch.
type Verdict int

const (
	Ignore Verdict = iota // nothing relevant changed
	Update                // a dependency changed
	Reload                // the module file itself changed
)

func (v Verdict) String() string {
	switch v {
	case Ignore:
		return "ignore"
	case Update:
		return "update"
	case Reload:
		return "reload"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Classify decides what a batch means for the module at modulePath.
// A self-change anywhere in the batch wins over any dependency match, and the
// predicate is not consulted for such a batch.
func Classify(batch event.Batch, modulePath string, predicate func(string) (bool, error)) (Verdict, error) {
	paths := make([]string, len(batch))
	for i, change := range batch {
		abs, err := filepath.Abs(change.Path)
		if err != nil {
			return Ignore, fmt.Errorf("resolving %q: %w", change.Path, err)
		}
		if abs == modulePath {
			return Reload, nil
		}
		paths[i] = abs
	}

	match := false
	for _, path := range paths {
		ok, err := predicate(path)
		if err != nil {
			return Ignore, err
		}
		if ok {
			match = true
		}
	}
	if match {
		return Update, nil
	}
	return Ignore, nil
}

// FileWatcher turns change batches into control messages for one watch
// session. It is the only writer of Out and closes it when done.
type FileWatcher struct {
	ModulePath string
	Predicate  func(path string) (bool, error)
	Source     Source
	Reload     Flag
	Out        chan<- event.Message
	Logger     *log.Logger
}

// Run consumes batches until the module file changes, the source ends, or an
// error occurs. On every exit path it sends exactly one Close and closes Out.
// A self-change, a finished source, and a canceled ctx all return nil.
func (w *FileWatcher) Run(ctx context.Context) (err error) {
	defer func() {
		w.Out <- event.Close
		close(w.Out)
	}()

	if w.ModulePath == "" {
		return ErrNoModuleFile
	}

	for {
		batch, err := w.Source.Next(ctx)
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		verdict, err := Classify(batch, w.ModulePath, w.Predicate)
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}

		switch verdict {
		case Reload:
			w.logf("[watch] %s changed, reloading", filepath.Base(w.ModulePath))
			w.Reload.Set()
			return nil
		case Update:
			w.logf("[watch] %d change(s), updating", len(batch))
			w.Out <- event.Update
		}
	}
}

func (w *FileWatcher) logf(format string, args ...any) {
	if w.Logger != nil {
		w.Logger.Printf(format, args...)
	}
}
