// Package dispatch runs the watched module once per update message, one
// worker at a time, in the order the updates were queued.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/genkiinstruments/ocpwatch/event"
)

// Runner executes one isolated run of the module.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// CallbackFailure is a failed run. It is reported, never propagated.
type CallbackFailure struct {
	Err error
}

func (e *CallbackFailure) Error() string { return "run failed: " + e.Err.Error() }

func (e *CallbackFailure) Unwrap() error { return e.Err }

// Stats counts worker outcomes.
type Stats struct {
	Runs     uint64
	Failures uint64
	Skipped  uint64 // updates drained during shutdown
}

// Dispatcher is the single consumer of a session's control channel.
type Dispatcher struct {
	Runner Runner
	Logger *log.Logger

	// OnFailure, if set, is called with each failed run.
	OnFailure func(*CallbackFailure)

	runs     atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64
}

// Run reads messages until Close or until in is closed. Each Update starts
// one worker and waits for it to exit before reading the next message.
// Workers get ctx values but not its cancellation, so a run in progress
// finishes. Once ctx is done, queued updates are drained without starting
// workers.
func (d *Dispatcher) Run(ctx context.Context, in <-chan event.Message) {
	for msg := range in {
		switch msg {
		case event.Update:
			if ctx.Err() != nil {
				d.skipped.Add(1)
				d.logf("[dispatch] shutting down, skipping queued run")
				continue
			}
			d.spawn(ctx)
		case event.Close:
			return
		}
	}
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Runs:     d.runs.Load(),
		Failures: d.failures.Load(),
		Skipped:  d.skipped.Load(),
	}
}

// spawn starts a worker and joins it. The outcome is only reported.
func (d *Dispatcher) spawn(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- d.Runner.Run(ctx)
	}()

	err := <-done
	d.runs.Add(1)
	if err == nil {
		d.logf("[dispatch] run finished in %v", time.Since(start).Round(time.Millisecond))
		return
	}

	d.failures.Add(1)
	failure := &CallbackFailure{Err: err}
	d.logf("[dispatch] %v", failure)
	if d.OnFailure != nil {
		d.OnFailure(failure)
	}
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}
