//go:build windows

package browser

import (
	"bytes"
	"fmt"
	"os/exec"
)

// setProcGroup is a no-op on Windows; process trees are killed via taskkill
// /T instead of a POSIX process group.
func setProcGroup(cmd *exec.Cmd) {}

// killGraceful asks the process tree to close via taskkill without /F.
func killGraceful(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	exec.Command("taskkill", "/T", "/PID", fmt.Sprintf("%d", cmd.Process.Pid)).Run()
}

// killForceful forcefully terminates the process tree.
func killForceful(pid int) {
	exec.Command("taskkill", "/T", "/F", "/PID", fmt.Sprintf("%d", pid)).Run()
}

// isAlive reports whether a process with the given pid still exists.
func isAlive(pid int) bool {
	out, err := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH").Output()
	if err != nil {
		return false
	}
	return len(out) > 0 && bytes.Contains(out, []byte(fmt.Sprintf("%d", pid)))
}
