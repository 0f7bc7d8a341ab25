// Package gateway is the single point of contact for browser-extension
// connections: registration handshake, per-connection heartbeat, and
// command/response multiplexing by session.
package gateway

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tabdaemon/tabd/internal/ipc"
	"github.com/tabdaemon/tabd/internal/log"
)

// maxMessageSize bounds a single extension WebSocket message.
const maxMessageSize = 10 * 1024 * 1024

// RegistrationHandler resolves an extension's register frame to a session
// id. It is owned by the daemon controller, which is the only component
// that consults the Session Registry; the Gateway itself only knows the
// wire protocol.
type RegistrationHandler func(windowID int, cachedSessionID string) (sessionID string, err error)

// Conn is a non-owning handle on an active extension connection, handed to
// the Session Registry for bookkeeping only (session.ExtensionHandle).
type Conn struct {
	sessionID string
	ws        *websocket.Conn
	mu        sync.Mutex
	closed    bool
	gw        *Gateway

	pongCh chan struct{}
}

// Close satisfies session.ExtensionHandle.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.ws.Close()
}

func (c *Conn) send(frame interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Gateway accepts persistent extension connections over a WebSocket-like
// loopback endpoint and multiplexes commands/responses by session.
type Gateway struct {
	port              int
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	upgrader   websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener

	mu    sync.Mutex
	conns map[string]*Conn // sessionID -> active connection

	onRegister     RegistrationHandler
	onConnected    func(sessionID string, conn *Conn)
	onResponse     func(sessionID string, resp ipc.Response)
	onDisconnected func(sessionID string)
}

// New creates a Gateway listening on port, with the given heartbeat timing.
func New(port int, heartbeatInterval, heartbeatTimeout time.Duration) *Gateway {
	return &Gateway{
		port:              port,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		conns:             make(map[string]*Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxMessageSize,
			WriteBufferSize: maxMessageSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// OnRegister sets the handler that resolves a register frame to a session id.
func (g *Gateway) OnRegister(h RegistrationHandler) { g.onRegister = h }

// OnExtensionConnected sets the handler invoked once registration completes.
func (g *Gateway) OnExtensionConnected(h func(sessionID string, conn *Conn)) { g.onConnected = h }

// OnExtensionResponse sets the handler invoked for each inbound response frame.
func (g *Gateway) OnExtensionResponse(h func(sessionID string, resp ipc.Response)) { g.onResponse = h }

// OnExtensionDisconnected sets the handler invoked when a connection closes.
func (g *Gateway) OnExtensionDisconnected(h func(sessionID string)) { g.onDisconnected = h }

// Start binds the listening socket.
func (g *Gateway) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", g.handleWebSocket)

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", g.port))
	if err != nil {
		return fmt.Errorf("listen on extension port: %w", err)
	}
	g.listener = listener
	g.port = listener.Addr().(*net.TCPAddr).Port

	g.httpServer = &http.Server{Handler: mux}
	go g.httpServer.Serve(listener)

	log.Info("extension gateway listening", "port", g.port)
	return nil
}

// Port returns the bound port (useful when constructed with port 0).
func (g *Gateway) Port() int { return g.port }

// Stop closes all connections and the listener.
func (g *Gateway) Stop() {
	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	if g.httpServer != nil {
		g.httpServer.Close()
	}
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("extension upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	// First frame must be a registration.
	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return
	}
	var reg ipc.ExtensionFrame
	if err := json.Unmarshal(data, &reg); err != nil || reg.Type != ipc.ExtRegister {
		ws.Close()
		return
	}

	var sessionID string
	if g.onRegister != nil {
		sessionID, err = g.onRegister(reg.WindowID, reg.CachedSessionID)
		if err != nil {
			log.Warn("extension registration failed", "error", err)
			ws.Close()
			return
		}
	}
	if sessionID == "" {
		ws.Close()
		return
	}

	conn := &Conn{sessionID: sessionID, ws: ws, gw: g, pongCh: make(chan struct{}, 1)}

	g.mu.Lock()
	if old, exists := g.conns[sessionID]; exists {
		g.mu.Unlock()
		old.Close()
		g.mu.Lock()
	}
	g.conns[sessionID] = conn
	g.mu.Unlock()

	if err := conn.send(ipc.ExtensionFrame{Type: ipc.ExtSessionAssigned, SessionID: sessionID}); err != nil {
		log.Warn("failed to send session_assigned", "session", sessionID, "error", err)
	}

	log.Debug("extension connected", "session", sessionID)
	if g.onConnected != nil {
		g.onConnected(sessionID, conn)
	}

	go g.heartbeat(conn)
	g.readLoop(conn)
}

// readLoop processes inbound frames until the connection closes.
func (g *Gateway) readLoop(conn *Conn) {
	defer func() {
		g.mu.Lock()
		if cur, ok := g.conns[conn.sessionID]; ok && cur == conn {
			delete(g.conns, conn.sessionID)
		}
		g.mu.Unlock()

		conn.Close()
		log.Debug("extension disconnected", "session", conn.sessionID)
		if g.onDisconnected != nil {
			g.onDisconnected(conn.sessionID)
		}
	}()

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		var frame ipc.ExtensionFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn("malformed extension frame", "session", conn.sessionID, "error", err)
			continue
		}

		switch frame.Type {
		case ipc.ExtPing:
			conn.send(ipc.ExtensionFrame{Type: ipc.ExtPong})
		case ipc.ExtPong:
			select {
			case conn.pongCh <- struct{}{}:
			default:
			}
		case ipc.ExtResponse:
			if g.onResponse != nil {
				g.onResponse(conn.sessionID, ipc.Response{
					ID:      frame.ID,
					Success: frame.Success,
					Data:    frame.Data,
					Error:   frame.Error,
				})
			}
		default:
			log.Warn("unexpected extension frame type", "session", conn.sessionID, "type", frame.Type)
		}
	}
}

// heartbeat sends periodic pings and closes the connection if a pong
// doesn't arrive within heartbeatTimeout.
func (g *Gateway) heartbeat(conn *Conn) {
	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.send(ipc.ExtensionFrame{Type: ipc.ExtPing}); err != nil {
			return
		}
		select {
		case <-conn.pongCh:
		case <-time.After(g.heartbeatTimeout):
			log.Warn("extension heartbeat timeout, closing", "session", conn.sessionID)
			conn.Close()
			return
		}
		conn.mu.Lock()
		closed := conn.closed
		conn.mu.Unlock()
		if closed {
			return
		}
	}
}

// SendCommand forwards ext to the extension bound to sessionID. Returns
// false if there is no active connection.
func (g *Gateway) SendCommand(sessionID string, ext ipc.ExtensionCommand) bool {
	g.mu.Lock()
	conn, ok := g.conns[sessionID]
	g.mu.Unlock()
	if !ok {
		return false
	}
	if err := conn.send(ext); err != nil {
		log.Warn("failed to send command to extension", "session", sessionID, "error", err)
		return false
	}
	return true
}

// IsConnected reports whether sessionID has an active extension connection.
func (g *Gateway) IsConnected(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.conns[sessionID]
	return ok
}

// GetConnection returns the active connection for sessionID, if any.
func (g *Gateway) GetConnection(sessionID string) (*Conn, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.conns[sessionID]
	return c, ok
}

// UpdateSessionID rekeys a connection when registration resolves to a
// different id than the client-supplied one.
func (g *Gateway) UpdateSessionID(oldID, newID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.conns[oldID]; ok {
		delete(g.conns, oldID)
		c.sessionID = newID
		g.conns[newID] = c
	}
}
