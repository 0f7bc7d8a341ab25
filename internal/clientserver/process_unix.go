//go:build !windows

package clientserver

import "syscall"

// processExists reports whether a process with the given pid is alive.
func processExists(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
