package clientserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/tabdaemon/tabd/internal/ipc"
)

const clientRWTimeout = 5 * time.Second

// Dial connects to a running daemon's client socket.
func Dial(socketPath string) (net.Conn, error) {
	return dial(socketPath)
}

// roundTrip dials socketPath, sends env, and reads back the single reply
// envelope the Server sends before closing the connection.
func roundTrip(socketPath string, env ipc.Envelope) (ipc.Envelope, error) {
	conn, err := dial(socketPath)
	if err != nil {
		return ipc.Envelope{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(env)
	if err != nil {
		return ipc.Envelope{}, fmt.Errorf("marshal request: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(clientRWTimeout))
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return ipc.Envelope{}, fmt.Errorf("write request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(clientRWTimeout))
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return ipc.Envelope{}, fmt.Errorf("read reply: %w", err)
		}
		return ipc.Envelope{}, fmt.Errorf("daemon closed connection without a reply")
	}

	var reply ipc.Envelope
	if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
		return ipc.Envelope{}, fmt.Errorf("unmarshal reply: %w", err)
	}
	return reply, nil
}

// Ping reports whether a daemon at socketPath answers a ping within the
// dial/read timeouts.
func Ping(socketPath string) bool {
	reply, err := roundTrip(socketPath, ipc.Envelope{Type: ipc.TypePing})
	return err == nil && reply.Type == ipc.TypePong
}

// GetEndpoint asks a running daemon for its extension WebSocket endpoint.
func GetEndpoint(socketPath string) (ipc.EndpointInfo, error) {
	reply, err := roundTrip(socketPath, ipc.Envelope{Type: ipc.TypeGetEndpoint})
	if err != nil {
		return ipc.EndpointInfo{}, err
	}
	if reply.Type != ipc.TypeEndpoint {
		return ipc.EndpointInfo{}, fmt.Errorf("unexpected reply type %q", reply.Type)
	}
	var info ipc.EndpointInfo
	if err := json.Unmarshal(reply.Payload, &info); err != nil {
		return ipc.EndpointInfo{}, fmt.Errorf("unmarshal endpoint: %w", err)
	}
	return info, nil
}
