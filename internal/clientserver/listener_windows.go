//go:build windows

package clientserver

import (
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// listen creates a named pipe listener at socketPath (a pipe name such as
// `\\.\pipe\tab-daemon`).
func listen(socketPath string) (net.Listener, error) {
	return winio.ListenPipe(socketPath, nil)
}

// dial connects to the daemon's named pipe.
func dial(socketPath string) (net.Conn, error) {
	timeout := 2 * time.Second
	return winio.DialPipe(socketPath, &timeout)
}
