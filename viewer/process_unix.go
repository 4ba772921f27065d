//go:build !windows

package viewer

import (
	"errors"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcess sends SIGKILL to the viewer's process group, falling back to
// the process itself when the group is gone.
func killProcess(cmd *exec.Cmd) error {
	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err == nil && pgid > 0 {
		err = syscall.Kill(-pgid, syscall.SIGKILL)
		if err == nil || !errors.Is(err, syscall.ESRCH) {
			return err
		}
	}
	return cmd.Process.Kill()
}
