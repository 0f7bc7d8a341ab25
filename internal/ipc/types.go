// Package ipc defines the wire shapes shared across the client transport,
// the extension transport, and the command router.
package ipc

import "encoding/json"

// Command is a client-submitted browser-automation command.
type Command struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Profile   string          `json:"profile,omitempty"`
	Type      string          `json:"type"`
	Params    json.RawMessage `json:"params,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Response is the shape returned to clients and used internally for
// extension responses; both are wire-identical.
type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ExtensionCommand is the command shape forwarded to an extension.
type ExtensionCommand struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Envelope is the newline-delimited JSON frame exchanged with clients.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Recognized envelope types.
const (
	TypeCommand            = "command"
	TypeResponse           = "response"
	TypePing               = "ping"
	TypePong               = "pong"
	TypeGetEndpoint        = "get_endpoint"
	TypeEndpoint           = "endpoint"
	TypeRegisterExtension  = "register_extension"
	TypeRegistration       = "registration"
)

// EndpointInfo is the payload of an "endpoint" reply.
type EndpointInfo struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Recognized command types.
var CommandTypes = map[string]bool{
	"navigate": true, "open": true, "back": true, "forward": true,
	"reload": true, "close": true, "snapshot": true, "click": true,
	"dblclick": true, "fill": true, "type": true, "press": true,
	"hover": true, "focus": true, "check": true, "uncheck": true,
	"select": true, "scroll": true, "scrollintoview": true, "get": true,
	"is": true, "find": true, "drag": true, "upload": true, "mouse": true,
	"wait": true, "tab": true, "tab_new": true, "tab_close": true,
	"tab_switch": true, "tab_list": true, "screenshot": true, "pdf": true,
	"eval": true,
}

// NavigationClass is the subset of command types eligible to auto-launch a
// browser.
var NavigationClass = map[string]bool{
	"navigate": true, "open": true, "tab_new": true,
}

// IsNavigationClass reports whether t is in the navigation-class set.
func IsNavigationClass(t string) bool {
	return NavigationClass[t]
}

// ExtensionRegister is the extension's initial registration frame.
type ExtensionRegister struct {
	WindowID        int    `json:"windowId"`
	CachedSessionID string `json:"cachedSessionId,omitempty"`
}

// SessionAssigned is sent to an extension after registration resolves.
type SessionAssigned struct {
	SessionID string `json:"sessionId"`
}

// ExtensionFrame is a single flat control message on the extension
// transport: register, response, ping, pong, or session_assigned
// Forwarded commands are NOT wrapped in this struct — they
// are sent as a bare ExtensionCommand ({id,type,params}), and the
// extension discriminates a command frame from a control frame by
// checking whether its "type" value is one of the control keywords below;
// the command-type enum (navigate, click, tab, ...) never overlaps with
// them.
type ExtensionFrame struct {
	Type            string          `json:"type"`
	WindowID        int             `json:"windowId,omitempty"`
	CachedSessionID string          `json:"cachedSessionId,omitempty"`
	ID              string          `json:"id,omitempty"`
	Success         bool            `json:"success,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	Error           string          `json:"error,omitempty"`
	SessionID       string          `json:"sessionId,omitempty"`
}

// Extension control-frame type names.
const (
	ExtRegister        = "register"
	ExtResponse        = "response"
	ExtPing            = "ping"
	ExtPong            = "pong"
	ExtSessionAssigned = "session_assigned"
)

// IsControlFrameType reports whether t is a control-frame discriminator
// rather than a forwarded command's type.
func IsControlFrameType(t string) bool {
	switch t {
	case ExtRegister, ExtResponse, ExtPing, ExtPong, ExtSessionAssigned:
		return true
	}
	return false
}
