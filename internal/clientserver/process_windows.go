//go:build windows

package clientserver

import "os"

// processExists reports whether a process with the given pid is alive.
// FindProcess always succeeds on Windows; callers rely on the PID file's
// presence rather than this check alone.
func processExists(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
