package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tabdaemon/tabd/internal/clientserver"
	"github.com/tabdaemon/tabd/internal/config"
	"github.com/tabdaemon/tabd/internal/ipc"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		IPCSocketPath:     filepath.Join(dir, "tabd.sock"),
		WSPort:            0,
		HeartbeatInterval: 200 * time.Millisecond,
		HeartbeatTimeout:  2 * time.Second,
	}
}

func dialExtension(t *testing.T, wsPort int, windowID int, cachedSessionID string) (*websocket.Conn, ipc.ExtensionFrame) {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("127.0.0.1:%d", wsPort), Path: "/"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial extension endpoint: %v", err)
	}

	reg := ipc.ExtensionFrame{Type: ipc.ExtRegister, WindowID: windowID, CachedSessionID: cachedSessionID}
	data, _ := json.Marshal(reg)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write register frame: %v", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read session_assigned: %v", err)
	}
	var frame ipc.ExtensionFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatalf("unmarshal session_assigned: %v", err)
	}
	if frame.Type != ipc.ExtSessionAssigned {
		t.Fatalf("want session_assigned, got %+v", frame)
	}
	return conn, frame
}

func TestEndToEndCommandRoundTripsThroughExtension(t *testing.T) {
	cfg := testConfig(t)
	c := New(cfg)

	if err := c.Start(); err != nil {
		t.Fatalf("start controller: %v", err)
	}
	defer c.Stop()

	wsPort := c.gateway.Port()

	// Create the default session ourselves so the extension has something
	// to attach to, exercising the routing path without depending on a
	// real browser executable being present.
	s, err := c.registry.GetOrCreateDefault("")
	if err != nil {
		t.Fatalf("create default session: %v", err)
	}

	extConn, assigned := dialExtension(t, wsPort, 1, s.ID)
	defer extConn.Close()
	if assigned.SessionID != s.ID {
		t.Fatalf("want assignment to %s, got %s", s.ID, assigned.SessionID)
	}

	go func() {
		_, msg, err := extConn.ReadMessage()
		if err != nil {
			return
		}
		var cmd ipc.ExtensionCommand
		json.Unmarshal(msg, &cmd)
		resp := ipc.ExtensionFrame{Type: ipc.ExtResponse, ID: cmd.ID, Success: true, Data: json.RawMessage(`{"ok":true}`)}
		data, _ := json.Marshal(resp)
		extConn.WriteMessage(websocket.TextMessage, data)
	}()

	conn, err := clientserver.Dial(cfg.IPCSocketPath)
	if err != nil {
		t.Fatalf("dial client socket: %v", err)
	}
	defer conn.Close()

	cmdPayload, _ := json.Marshal(ipc.Command{ID: "c1", SessionID: s.ID, Type: "click"})
	env := ipc.Envelope{Type: ipc.TypeCommand, Payload: cmdPayload}
	data, _ := json.Marshal(env)
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	fmt.Fprintf(conn, "%s\n", data)

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no reply: %v", scanner.Err())
	}
	var replyEnv ipc.Envelope
	json.Unmarshal(scanner.Bytes(), &replyEnv)
	var resp ipc.Response
	json.Unmarshal(replyEnv.Payload, &resp)

	if !resp.Success || resp.ID != "c1" {
		t.Fatalf("want successful round-trip, got %+v", resp)
	}
}

func TestUnknownSessionFailsForNonNavigationCommand(t *testing.T) {
	cfg := testConfig(t)
	c := New(cfg)
	if err := c.Start(); err != nil {
		t.Fatalf("start controller: %v", err)
	}
	defer c.Stop()

	resp := c.handleCliCommand(ipc.Command{ID: "c1", SessionID: "ghost", Type: "snapshot"})
	if resp.Success {
		t.Fatalf("want failure for unknown non-navigation session, got %+v", resp)
	}
	if resp.Error != "Session not found: ghost" {
		t.Fatalf("want %q, got %q", "Session not found: ghost", resp.Error)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	c := New(cfg)
	if err := c.Start(); err != nil {
		t.Fatalf("start controller: %v", err)
	}
	c.Stop()
	c.Stop()
	if c.IsRunning() {
		t.Fatalf("expected controller to report stopped")
	}
}
