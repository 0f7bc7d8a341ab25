package clientserver

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// writePID records the current process id at pidPath.
func writePID(pidPath string) error {
	return os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// readPID returns the pid recorded at pidPath, or 0 if the file is absent.
func readPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// removePID deletes the PID file, ignoring a missing file.
func removePID(pidPath string) error {
	err := os.Remove(pidPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// cleanStale removes the PID and socket files left behind by a daemon that
// is no longer running.
func cleanStale(socketPath, pidPath string) {
	pid, err := readPID(pidPath)
	if err != nil || pid == 0 {
		return
	}
	if processExists(pid) {
		return
	}
	removePID(pidPath)
	if runtime.GOOS != "windows" {
		os.Remove(socketPath)
	}
}

// IsRunning reports whether a daemon is live at socketPath: its PID file
// names a running process and the socket accepts connections.
func IsRunning(socketPath, pidPath string) bool {
	pid, err := readPID(pidPath)
	if err != nil || pid == 0 {
		return false
	}
	if !processExists(pid) {
		return false
	}
	conn, err := dial(socketPath)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
