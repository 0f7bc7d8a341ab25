// Package clientserver is the Client Server: it exposes a local stream
// socket, frames newline-delimited JSON envelopes, and dispatches each
// connection's single request to the daemon's service handlers or the
// Command Router.
package clientserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/tabdaemon/tabd/internal/ipc"
	"github.com/tabdaemon/tabd/internal/log"
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 5 * time.Second
)

// CommandHandler submits a command to the Command Router and returns its
// resolved response.
type CommandHandler func(cmd ipc.Command) ipc.Response

// RegisterExtensionHandler services a register_extension envelope.
type RegisterExtensionHandler func(payload json.RawMessage) (interface{}, error)

// Server is the Client Server.
type Server struct {
	socketPath string
	pidPath    string

	onCommand           CommandHandler
	onRegisterExtension RegisterExtensionHandler
	endpoint            func() ipc.EndpointInfo

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopped  bool
}

// New creates a Server bound to socketPath that records the daemon's PID at
// pidPath.
func New(socketPath, pidPath string) *Server {
	return &Server{
		socketPath: socketPath,
		pidPath:    pidPath,
		conns:      make(map[net.Conn]struct{}),
	}
}

// OnCommand sets the handler invoked for "command" envelopes.
func (s *Server) OnCommand(h CommandHandler) { s.onCommand = h }

// OnRegisterExtension sets the handler invoked for "register_extension" envelopes.
func (s *Server) OnRegisterExtension(h RegisterExtensionHandler) { s.onRegisterExtension = h }

// OnGetEndpoint sets the function that answers "get_endpoint" envelopes.
func (s *Server) OnGetEndpoint(h func() ipc.EndpointInfo) { s.endpoint = h }

// Start removes any stale socket/PID files, binds the listener, writes the
// PID file, and begins accepting connections in the background.
func (s *Server) Start() error {
	cleanStale(s.socketPath, s.pidPath)
	os.Remove(s.socketPath)

	listener, err := listen(s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on client socket: %w", err)
	}

	if err := writePID(s.pidPath); err != nil {
		listener.Close()
		return fmt.Errorf("write PID file: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Info("client server listening", "socket", s.socketPath, "pid", os.Getpid())

	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			log.Warn("client accept error", "error", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	conn.SetReadDeadline(time.Now().Add(readDeadline))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		return
	}

	reply := s.dispatch(scanner.Bytes())
	if reply == nil {
		return
	}

	data, err := json.Marshal(reply)
	if err != nil {
		log.Warn("marshal client reply failed", "error", err)
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	fmt.Fprintf(conn, "%s\n", data)
}

// dispatch parses and routes one client envelope, returning the envelope to
// send back (or nil for no reply).
func (s *Server) dispatch(line []byte) *ipc.Envelope {
	var env ipc.Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return errorEnvelope("malformed request")
	}

	switch env.Type {
	case ipc.TypePing:
		return &ipc.Envelope{Type: ipc.TypePong}

	case ipc.TypeGetEndpoint:
		var info ipc.EndpointInfo
		if s.endpoint != nil {
			info = s.endpoint()
		}
		payload, _ := json.Marshal(info)
		return &ipc.Envelope{Type: ipc.TypeEndpoint, Payload: payload}

	case ipc.TypeRegisterExtension:
		if s.onRegisterExtension == nil {
			return errorEnvelope("extension registration is not available")
		}
		result, err := s.onRegisterExtension(env.Payload)
		if err != nil {
			return errorEnvelope(err.Error())
		}
		payload, _ := json.Marshal(result)
		return &ipc.Envelope{Type: ipc.TypeRegistration, Payload: payload}

	case ipc.TypeCommand:
		var cmd ipc.Command
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			return errorEnvelope("invalid command payload")
		}
		if s.onCommand == nil {
			return errorEnvelope("router is not available")
		}
		resp := s.onCommand(cmd)
		payload, _ := json.Marshal(resp)
		return &ipc.Envelope{Type: ipc.TypeResponse, Payload: payload}

	default:
		return errorEnvelope(fmt.Sprintf("unrecognized envelope type %q", env.Type))
	}
}

func errorEnvelope(msg string) *ipc.Envelope {
	resp := ipc.Response{Success: false, Error: msg}
	payload, _ := json.Marshal(resp)
	return &ipc.Envelope{Type: ipc.TypeResponse, Payload: payload}
}

// Stop closes every open connection, the listener, removes the socket
// file, and removes the PID file.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	listener := s.listener
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	if listener != nil {
		listener.Close()
	}

	os.Remove(s.socketPath)
	removePID(s.pidPath)
}
