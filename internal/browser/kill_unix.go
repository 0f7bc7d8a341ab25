//go:build !windows

package browser

import (
	"os/exec"
	"syscall"
)

// setProcGroup puts the child in its own process group so a SIGTERM/SIGKILL
// to the group reaches any children it spawns too.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGraceful sends SIGTERM to the process group.
func killGraceful(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

// killForceful sends SIGKILL directly to the pid.
func killForceful(pid int) {
	syscall.Kill(pid, syscall.SIGKILL)
}

// isAlive reports whether a process with the given pid still exists.
func isAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
