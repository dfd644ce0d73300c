//go:build !windows

package runner

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// killProcessGroup sends SIGKILL to the process group led by pid.
// pty.Start runs the child with Setsid, so its pid is also its pgid.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// exitInfo extracts the exit code and terminating signal from a finished process.
func exitInfo(state *os.ProcessState) ExitInfo {
	if state == nil {
		return ExitInfo{Code: -1}
	}
	info := ExitInfo{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		info.Signal = ws.Signal().String()
	}
	return info
}
