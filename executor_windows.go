//go:build windows
// +build windows

package queuectl

import "os/exec"

// shellCommand builds the child process for a job command.
func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd", "/C", command)
}

// killProcessGroup terminates the child. Windows has no process groups in
// the POSIX sense; killing the shell is the best we can do here.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}
