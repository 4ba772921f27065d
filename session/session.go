// Package session runs the viewer and the watch/run loop around it.
package session

import (
	"context"
	"log"
	"sync"

	"github.com/genkiinstruments/ocpwatch/dispatch"
	"github.com/genkiinstruments/ocpwatch/event"
	"github.com/genkiinstruments/ocpwatch/internal/buffer"
	"github.com/genkiinstruments/ocpwatch/lua"
	"github.com/genkiinstruments/ocpwatch/watch"
)

const controlQueueCap = 16

// WatchSession pairs one FileWatcher and one Dispatcher over a fresh control
// channel for a single import of the module.
type WatchSession struct {
	Module *lua.Module
	Source watch.Source
	Runner dispatch.Runner
	Reload *ReloadFlag
	Logger *log.Logger

	// OnFailure receives failed runs. Optional.
	OnFailure func(*dispatch.CallbackFailure)

	mu         sync.Mutex
	dispatcher *dispatch.Dispatcher
	queueLen   func() int
}

// Run seeds one Update, so the module runs once right after import, and
// blocks until both the watcher and the dispatcher have exited. The source is
// closed before Run returns. The returned error is the watcher's.
func (s *WatchSession) Run(ctx context.Context) error {
	defer s.Source.Close()

	in, out, queueLen := buffer.UnboundedWithLen[event.Message](controlQueueCap, 0)
	d := &dispatch.Dispatcher{
		Runner:    s.Runner,
		Logger:    s.Logger,
		OnFailure: s.OnFailure,
	}
	w := &watch.FileWatcher{
		ModulePath: s.Module.Path,
		Predicate:  s.Module.Hooks.Predicate,
		Source:     s.Source,
		Reload:     s.Reload,
		Out:        in,
		Logger:     s.Logger,
	}

	s.mu.Lock()
	s.dispatcher = d
	s.queueLen = queueLen
	s.mu.Unlock()

	in <- event.Update

	var (
		wg       sync.WaitGroup
		watchErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		watchErr = w.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		d.Run(ctx, out)
	}()
	wg.Wait()

	return watchErr
}

// Stats reports the session's dispatcher counters and queued messages.
func (s *WatchSession) Stats() (dispatch.Stats, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatcher == nil {
		return dispatch.Stats{}, 0
	}
	return s.dispatcher.Stats(), s.queueLen()
}
