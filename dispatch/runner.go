package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// WorkerFlag is the flag that puts the binary into single-run worker mode.
const WorkerFlag = "-worker"

// ProcessRunner runs each invocation in a fresh OS process: the current
// binary re-executed in worker mode for the module file. Workers inherit
// stdio, so a failing run shows up on the worker's own stderr.
type ProcessRunner struct {
	Executable string
	Module     string
	Args       []string // extra arguments placed before the worker flag
	Env        []string
	Stdout     io.Writer
	Stderr     io.Writer
}

// NewProcessRunner re-executes the running binary for module.
func NewProcessRunner(module string, args ...string) (*ProcessRunner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("dispatch: locating executable: %w", err)
	}
	return &ProcessRunner{
		Executable: exe,
		Module:     module,
		Args:       args,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}, nil
}

// Run starts the worker process and waits for it to exit. ctx does not stop
// the worker: it stays in our process group, so a terminal interrupt reaches
// it directly.
func (r *ProcessRunner) Run(ctx context.Context) error {
	args := append(append([]string{}, r.Args...), WorkerFlag, r.Module)
	cmd := exec.Command(r.Executable, args...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	cmd.Env = append(os.Environ(), r.Env...)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("worker %s: %w", r.Module, err)
	}
	return nil
}

// StateRunner runs a module hook in this process. The hook is expected to
// build a private VM per call, as lua.Hooks.Run does.
type StateRunner struct {
	Module string
	Hook   func(ctx context.Context) error
}

func (r *StateRunner) Run(ctx context.Context) error {
	if err := r.Hook(ctx); err != nil {
		return fmt.Errorf("%s: %w", r.Module, err)
	}
	return nil
}
