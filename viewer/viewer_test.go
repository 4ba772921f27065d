package viewer

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

// lockedBuffer is safe to read while the process is still writing.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func skipWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
}

func TestURL(t *testing.T) {
	if got := URL(3939); got != "http://127.0.0.1:3939" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestArgsAppendPort(t *testing.T) {
	p := New([]string{"python", "-m", "ocp_vscode"}, 4000)
	got := strings.Join(p.Args(), " ")
	if got != "python -m ocp_vscode --port 4000" {
		t.Fatalf("unexpected args %q", got)
	}
}

func TestArgsKeepExtraBeforePort(t *testing.T) {
	p := New([]string{"python", "-m", "ocp_vscode"}, 4000)
	p.Extra = []string{"--theme", "dark"}
	got := strings.Join(p.Args(), " ")
	if got != "python -m ocp_vscode --theme dark --port 4000" {
		t.Fatalf("unexpected args %q", got)
	}
}

func TestStartAndKill(t *testing.T) {
	skipWindows(t)

	out := &lockedBuffer{}
	p := New([]string{"sh", "-c", `echo "$OCP_PORT $2"; exec sleep 30`, "viewer"}, 4100)
	p.Env = []string{"OCP_PORT=4100"}
	p.Stdout = out
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Let the shell print before it is killed.
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "4100") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if err := p.Kill(ctx); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-p.Done():
	default:
		t.Fatal("viewer still running after kill")
	}
	if got := strings.TrimSpace(out.String()); got != "4100 4100" {
		t.Fatalf("expected port in env and argv, got %q", got)
	}
}

func TestKillAfterExit(t *testing.T) {
	skipWindows(t)

	p := New([]string{"sh", "-c", "exit 0", "viewer"}, 4101)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("viewer did not exit")
	}
	if err := p.Kill(context.Background()); err != nil {
		t.Fatalf("kill of exited viewer: %v", err)
	}
}

func TestKillBeforeStart(t *testing.T) {
	p := New([]string{"viewer"}, 1)
	if err := p.Kill(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestStartFailure(t *testing.T) {
	p := New([]string{"/nonexistent/ocp-viewer"}, 4102)
	err := p.Start()
	var se *StartError
	if !errors.As(err, &se) {
		t.Fatalf("expected StartError, got %v", err)
	}
}

func TestHelpDelegates(t *testing.T) {
	skipWindows(t)

	var out bytes.Buffer
	code, err := Help(context.Background(), []string{"sh", "-c", `echo "usage for $1"; exit 2`, "viewer"}, &out, &out)
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if got := strings.TrimSpace(out.String()); got != "usage for --help" {
		t.Fatalf("unexpected help output %q", got)
	}
}
