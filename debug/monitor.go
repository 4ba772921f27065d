// Package debug provides runtime monitoring and diagnostics.
package debug

import (
	"context"
	"io"
	"log"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/genkiinstruments/ocpwatch/session"
)

// Enabled returns true if debug mode is active (OCPWATCH_DEBUG=1).
func Enabled() bool {
	return os.Getenv("OCPWATCH_DEBUG") == "1"
}

// StatsSource is anything that can report supervisor statistics.
type StatsSource interface {
	Stats() session.Stats
}

// Monitor periodically logs supervisor statistics when debug mode is enabled.
type Monitor struct {
	source   StatsSource
	interval time.Duration
	ctx      context.Context
	logger   *log.Logger
}

// NewMonitor creates a new monitor for the given supervisor.
// If debug mode is not enabled, returns nil.
func NewMonitor(ctx context.Context, s StatsSource) *Monitor {
	if !Enabled() {
		return nil
	}
	return newMonitor(ctx, s, 5*time.Second, log.New(os.Stderr, "", log.LstdFlags))
}

func newMonitor(ctx context.Context, s StatsSource, interval time.Duration, logger *log.Logger) *Monitor {
	return &Monitor{
		source:   s,
		interval: interval,
		ctx:      ctx,
		logger:   logger,
	}
}

// Start begins the monitoring loop in a goroutine.
func (m *Monitor) Start() {
	if m == nil {
		return
	}
	go m.run()
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Println("[DEBUG] Monitor started")

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Println("[DEBUG] Monitor stopped")
			return
		case <-ticker.C:
			m.logStats()
		}
	}
}

func (m *Monitor) logStats() {
	s := m.source.Stats()
	m.logger.Printf("[DEBUG] sessions=%d reloads=%d runs=%d failures=%d queue=%d goroutines=%d",
		s.Sessions,
		s.Reloads,
		s.Runs,
		s.Failures,
		s.QueueLen,
		s.Goroutines,
	)
}

// Log file rotation limits.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
)

// Logger returns the component logger. With a log file every line goes to
// it, rotated by size. Otherwise lines go to stderr in debug mode and are
// discarded when debug is off.
func Logger(logFile string) *log.Logger {
	flags := log.LstdFlags | log.Lmicroseconds
	switch {
	case logFile != "":
		return log.New(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
		}, "", flags)
	case Enabled():
		return log.New(os.Stderr, "", flags)
	}
	return log.New(io.Discard, "", 0)
}
