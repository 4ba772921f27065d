// Package viewer owns the long-lived viewer/server process.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/browser"
)

// ErrNotStarted is returned when stopping a viewer that never started.
var ErrNotStarted = errors.New("viewer: not started")

// StartError reports a viewer process that could not be started.
type StartError struct {
	Command []string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("starting viewer %q: %v", strings.Join(e.Command, " "), e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// URL is the address the viewer serves on.
func URL(port int) string {
	return "http://127.0.0.1:" + strconv.Itoa(port)
}

// OpenBrowser opens the viewer URL in the user's browser.
func OpenBrowser(port int) error {
	return browser.OpenURL(URL(port))
}

// Help runs the viewer's own --help and returns its exit code.
func Help(ctx context.Context, command []string, stdout, stderr io.Writer) (int, error) {
	if len(command) == 0 {
		return 1, &StartError{Command: command, Err: errors.New("empty command")}
	}
	args := append(append([]string{}, command[1:]...), "--help")
	cmd := exec.CommandContext(ctx, command[0], args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return 1, &StartError{Command: command, Err: err}
	}
	return 0, nil
}

// Process is a running viewer.
type Process struct {
	Command []string
	Extra   []string // user arguments, placed before --port
	Port    int
	Env     []string
	Stdout  io.Writer
	Stderr  io.Writer
	Logger  *log.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
}

// New prepares a viewer for command bound to port.
func New(command []string, port int) *Process {
	return &Process{
		Command: command,
		Port:    port,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Args is the full argv the viewer is started with.
func (p *Process) Args() []string {
	args := append(append([]string{}, p.Command...), p.Extra...)
	return append(args, "--port", strconv.Itoa(p.Port))
}

// Start launches the viewer in its own process group.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.Command) == 0 {
		return &StartError{Command: p.Command, Err: errors.New("empty command")}
	}
	args := p.Args()
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	cmd.Env = append(os.Environ(), p.Env...)
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return &StartError{Command: args, Err: err}
	}

	p.cmd = cmd
	p.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.exited)
	}()

	p.logf("[viewer] started pid %d on %s", cmd.Process.Pid, URL(p.Port))
	return nil
}

// Done is closed when the viewer process exits. Nil before Start.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// Err is the viewer's exit error once Done is closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Kill forcibly terminates the viewer and its process group and waits for
// it to exit.
func (p *Process) Kill(ctx context.Context) error {
	p.mu.Lock()
	cmd, exited := p.cmd, p.exited
	p.mu.Unlock()

	if cmd == nil {
		return ErrNotStarted
	}

	select {
	case <-exited:
		return nil
	default:
	}

	if err := killProcess(cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("viewer: kill: %w", err)
	}

	select {
	case <-exited:
		p.logf("[viewer] stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}
