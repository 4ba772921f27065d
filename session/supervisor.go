package session

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/genkiinstruments/ocpwatch/config"
	"github.com/genkiinstruments/ocpwatch/dispatch"
	"github.com/genkiinstruments/ocpwatch/lua"
	"github.com/genkiinstruments/ocpwatch/viewer"
	"github.com/genkiinstruments/ocpwatch/watch"
)

// killTimeout bounds the wait for the viewer after SIGKILL.
const killTimeout = 5 * time.Second

// ModuleLoader imports the watched module. Each call is a fresh import.
type ModuleLoader interface {
	Load(ctx context.Context) (*lua.Module, error)
}

// Viewer is the long-lived external viewer process.
type Viewer interface {
	Start() error
	Done() <-chan struct{}
	Err() error
	Kill(ctx context.Context) error
}

// Reporter prints user-facing status lines.
type Reporter interface {
	Status(text string)
	Reloading(text string)
	Warn(text string)
	Error(text string)
}

// Stats is a snapshot of supervisor activity.
type Stats struct {
	Sessions   uint64
	Reloads    uint64
	Runs       uint64
	Failures   uint64
	QueueLen   int
	Goroutines int
}

// Supervisor starts the viewer once, then imports the module and runs watch
// sessions until one ends without a reload request.
type Supervisor struct {
	Config   config.Config
	Loader   ModuleLoader
	Viewer   Viewer
	Reporter Reporter
	Logger   *log.Logger

	// NewSource opens the change source for one session.
	NewSource func(mod *lua.Module) (watch.Source, error)
	// NewRunner builds the worker strategy for one session.
	NewRunner func(mod *lua.Module) (dispatch.Runner, error)
	// OpenBrowser is called once after the viewer starts. Optional.
	OpenBrowser func(port int) error

	reload   ReloadFlag
	stopping atomic.Bool
	sessions atomic.Uint64
	reloads  atomic.Uint64

	mu       sync.Mutex
	current  *WatchSession
	finished dispatch.Stats
}

// New wires a Supervisor to the real viewer process, filesystem source and
// configured worker isolation. host receives script output.
func New(cfg config.Config, host lua.Host, reporter Reporter, logger *log.Logger) *Supervisor {
	portEnv := config.PortEnv + "=" + strconv.Itoa(cfg.Port)

	v := viewer.New(cfg.Viewer, cfg.Port)
	v.Env = []string{portEnv}
	v.Extra = cfg.ViewerArgs
	v.Logger = logger

	s := &Supervisor{
		Config:      cfg,
		Loader:      lua.NewLoader(cfg.Module, cfg.SearchPath, host),
		Viewer:      v,
		Reporter:    reporter,
		Logger:      logger,
		OpenBrowser: viewer.OpenBrowser,
	}
	s.NewSource = func(mod *lua.Module) (watch.Source, error) {
		return watch.NewFSSource(mod.Path, ".", watch.Options{
			Debounce: cfg.Debounce,
			Step:     cfg.Step,
			Ignore:   cfg.Ignore,
			Logger:   logger,
		})
	}
	s.NewRunner = func(mod *lua.Module) (dispatch.Runner, error) {
		if cfg.Isolation == config.IsolationState {
			return &dispatch.StateRunner{Module: mod.Name, Hook: mod.Hooks.Run}, nil
		}
		r, err := dispatch.NewProcessRunner(mod.Path, "-port", strconv.Itoa(cfg.Port))
		if err != nil {
			return nil, err
		}
		r.Env = []string{portEnv}
		return r, nil
	}
	return s
}

// Run blocks until the supervisor shuts down. It returns nil when the
// operator cancels ctx, or the error that made the loop fatal. The viewer is
// killed on every return after a successful start.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Viewer.Start(); err != nil {
		return err
	}
	defer s.shutdown()

	if s.Config.Browser && s.OpenBrowser != nil {
		if err := s.OpenBrowser(s.Config.Port); err != nil {
			s.warn(fmt.Sprintf("could not open browser: %v", err))
		}
	}
	go s.watchViewer(ctx)

	for {
		mod, err := s.Loader.Load(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = s.runSession(ctx, mod)
		mod.Close()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if !s.reload.IsSet() {
			s.logf("[session] change source ended")
			return nil
		}

		s.reload.Clear()
		s.reloads.Add(1)
		if s.Reporter != nil {
			s.Reporter.Reloading(fmt.Sprintf("reloading %s", s.Config.Module))
		}
	}
}

// Stats returns totals across all sessions plus the live one.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	totals := s.finished
	current := s.current
	s.mu.Unlock()

	var queued int
	if current != nil {
		live, n := current.Stats()
		totals.Runs += live.Runs
		totals.Failures += live.Failures
		queued = n
	}
	return Stats{
		Sessions:   s.sessions.Load(),
		Reloads:    s.reloads.Load(),
		Runs:       totals.Runs,
		Failures:   totals.Failures,
		QueueLen:   queued,
		Goroutines: runtime.NumGoroutine(),
	}
}

func (s *Supervisor) runSession(ctx context.Context, mod *lua.Module) error {
	src, err := s.NewSource(mod)
	if err != nil {
		return err
	}
	runner, err := s.NewRunner(mod)
	if err != nil {
		src.Close()
		return err
	}

	ws := &WatchSession{
		Module: mod,
		Source: src,
		Runner: runner,
		Reload: &s.reload,
		Logger: s.Logger,
		OnFailure: func(f *dispatch.CallbackFailure) {
			if s.Reporter != nil {
				s.Reporter.Error(f.Error())
			}
		},
	}

	s.sessions.Add(1)
	s.mu.Lock()
	s.current = ws
	s.mu.Unlock()
	if s.Reporter != nil {
		s.Reporter.Status(fmt.Sprintf("watching %s", mod.Path))
	}

	err = ws.Run(ctx)

	live, _ := ws.Stats()
	s.mu.Lock()
	s.current = nil
	s.finished.Runs += live.Runs
	s.finished.Failures += live.Failures
	s.mu.Unlock()
	return err
}

// watchViewer reports a viewer that exits on its own. Watching continues.
func (s *Supervisor) watchViewer(ctx context.Context) {
	done := s.Viewer.Done()
	if done == nil {
		return
	}
	select {
	case <-done:
		if s.stopping.Load() {
			return
		}
		if err := s.Viewer.Err(); err != nil {
			s.warn(fmt.Sprintf("viewer exited (%v); still watching", err))
			return
		}
		s.warn("viewer exited; still watching")
	case <-ctx.Done():
	}
}

func (s *Supervisor) shutdown() {
	s.stopping.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()
	if err := s.Viewer.Kill(ctx); err != nil {
		s.logf("[session] %v", err)
	}
}

func (s *Supervisor) warn(text string) {
	s.logf("[session] %s", text)
	if s.Reporter != nil {
		s.Reporter.Warn(text)
	}
}

func (s *Supervisor) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}
