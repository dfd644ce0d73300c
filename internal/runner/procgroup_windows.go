//go:build windows

package runner

import (
	"os"
	"os/exec"
)

// killProcessGroup kills only the direct child on Windows.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func exitInfo(state *os.ProcessState) ExitInfo {
	if state == nil {
		return ExitInfo{Code: -1}
	}
	return ExitInfo{Code: state.ExitCode()}
}
