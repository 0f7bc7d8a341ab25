// Package router is the Command Router: it owns per-session command
// ordering, in-flight tracking, timeouts, and the auto-launch path for
// navigation commands, translating between the client-facing command shape
// and the shape forwarded to extensions.
package router

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tabdaemon/tabd/internal/apierr"
	"github.com/tabdaemon/tabd/internal/ipc"
	"github.com/tabdaemon/tabd/internal/log"
)

// connectionWaitTimeout bounds how long a navigation-class command waits
// for a freshly-launched browser's extension to register.
const connectionWaitTimeout = 30 * time.Second

// Sender forwards commands to extensions and reports connectivity; the
// Extension Gateway implements this.
type Sender interface {
	SendCommand(sessionID string, cmd ipc.ExtensionCommand) bool
	IsConnected(sessionID string) bool
}

// Launcher starts a browser for a session that needs one (navigation-class
// commands against a session with no browser process yet).
type Launcher interface {
	EnsureLaunched(sessionID string) error
}

// pending is one in-flight command awaiting an extension response or timeout.
type pending struct {
	resultCh chan ipc.Response
	timer    *time.Timer
}

// sessionQueue serializes commands for a single session: only one command
// may be in flight at a time, later ones wait their turn.
type sessionQueue struct {
	mu       sync.Mutex
	inFlight bool
	waiting  []func() // resumed in FIFO order once inFlight clears
}

// Router is the Command Router.
type Router struct {
	sender           Sender
	launcher         Launcher
	heartbeatTimeout time.Duration

	mu       sync.Mutex
	queues   map[string]*sessionQueue   // sessionID -> queue state
	pendings map[string]map[string]*pending // sessionID -> commandID -> pending
	waiters  map[string][]chan bool     // sessionID -> channels woken on extension arrival
}

// New creates a Router. heartbeatTimeout sizes the per-command timeout, on
// the theory that a command can't plausibly outlive the connection that
// would have to carry its response.
func New(sender Sender, launcher Launcher, heartbeatTimeout time.Duration) *Router {
	return &Router{
		sender:           sender,
		launcher:         launcher,
		heartbeatTimeout: heartbeatTimeout,
		queues:           make(map[string]*sessionQueue),
		pendings:         make(map[string]map[string]*pending),
		waiters:          make(map[string][]chan bool),
	}
}

func (r *Router) queueFor(sessionID string) *sessionQueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[sessionID]
	if !ok {
		q = &sessionQueue{}
		r.queues[sessionID] = q
	}
	return q
}

// Submit validates and executes cmd, blocking until a response, timeout, or
// structural failure. It is the single entry point used by the client
// server for every inbound command envelope.
func (r *Router) Submit(cmd ipc.Command) ipc.Response {
	if !ipc.CommandTypes[cmd.Type] || cmd.SessionID == "" {
		return errorResponse(cmd.ID, apierr.InvalidCommand, "Invalid command structure")
	}

	q := r.queueFor(cmd.SessionID)

	done := make(chan ipc.Response, 1)
	run := func() {
		done <- r.execute(cmd)
		q.mu.Lock()
		q.inFlight = false
		var next func()
		if len(q.waiting) > 0 {
			next = q.waiting[0]
			q.waiting = q.waiting[1:]
		}
		q.mu.Unlock()
		if next != nil {
			go next()
		}
	}

	q.mu.Lock()
	if q.inFlight {
		q.waiting = append(q.waiting, run)
		q.mu.Unlock()
	} else {
		q.inFlight = true
		q.mu.Unlock()
		go run()
	}

	return <-done
}

// execute runs one already-queued command: auto-launch if needed, wait for
// an extension if one isn't connected yet, forward it, and wait for the
// matching response or the per-command timeout.
func (r *Router) execute(cmd ipc.Command) ipc.Response {
	if !r.sender.IsConnected(cmd.SessionID) {
		if ipc.IsNavigationClass(cmd.Type) {
			if err := r.launcher.EnsureLaunched(cmd.SessionID); err != nil {
				return errorResponse(cmd.ID, apierr.BrowserLaunchFailed, err.Error())
			}
			if !r.waitForExtensionConnection(cmd.SessionID, connectionWaitTimeout) {
				return errorResponse(cmd.ID, apierr.ExtensionNotConnected,
					"timed out waiting for the extension to connect after launch")
			}
		} else {
			return errorResponse(cmd.ID, apierr.ExtensionNotConnected,
				"no extension is connected for this session")
		}
	}

	extCmd, err := translate(cmd)
	if err != nil {
		return errorResponse(cmd.ID, apierr.InvalidCommand, err.Error())
	}

	resultCh := make(chan ipc.Response, 1)
	timer := time.AfterFunc(r.heartbeatTimeout, func() {
		r.resolve(cmd.SessionID, cmd.ID, ipc.Response{
			ID: cmd.ID, Success: false, Error: string(apierr.CommandTimeout),
		})
	})

	r.mu.Lock()
	if r.pendings[cmd.SessionID] == nil {
		r.pendings[cmd.SessionID] = make(map[string]*pending)
	}
	r.pendings[cmd.SessionID][cmd.ID] = &pending{resultCh: resultCh, timer: timer}
	r.mu.Unlock()

	if !r.sender.SendCommand(cmd.SessionID, extCmd) {
		r.resolve(cmd.SessionID, cmd.ID, errorResponse(cmd.ID, apierr.ExtensionNotConnected,
			"extension disconnected before the command could be sent"))
	}

	return <-resultCh
}

// resolve delivers a response to the pending command waiting on
// (sessionID, commandID), if one is still outstanding; otherwise it's a
// no-op (the command already timed out or was already resolved).
func (r *Router) resolve(sessionID, commandID string, resp ipc.Response) {
	r.mu.Lock()
	bySession := r.pendings[sessionID]
	if bySession == nil {
		r.mu.Unlock()
		return
	}
	p, ok := bySession[commandID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(bySession, commandID)
	if len(bySession) == 0 {
		delete(r.pendings, sessionID)
	}
	r.mu.Unlock()

	p.timer.Stop()
	select {
	case p.resultCh <- resp:
	default:
	}
}

// HandleExtensionResponse routes an inbound extension response to the
// command that is awaiting it.
func (r *Router) HandleExtensionResponse(sessionID string, resp ipc.Response) {
	r.resolve(sessionID, resp.ID, resp)
}

// HandleExtensionDisconnected fails every command still in flight for
// sessionID with EXTENSION_NOT_CONNECTED.
func (r *Router) HandleExtensionDisconnected(sessionID string) {
	r.mu.Lock()
	bySession := r.pendings[sessionID]
	delete(r.pendings, sessionID)
	r.mu.Unlock()

	for id, p := range bySession {
		p.timer.Stop()
		select {
		case p.resultCh <- errorResponse(id, apierr.ExtensionNotConnected, "extension disconnected"):
		default:
		}
	}
}

// NotifyExtensionConnected wakes any commands blocked in
// waitForExtensionConnection for sessionID.
func (r *Router) NotifyExtensionConnected(sessionID string) {
	r.mu.Lock()
	chans := r.waiters[sessionID]
	delete(r.waiters, sessionID)
	r.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- true:
		default:
		}
	}
}

func (r *Router) waitForExtensionConnection(sessionID string, timeout time.Duration) bool {
	ch := make(chan bool, 1)
	r.mu.Lock()
	r.waiters[sessionID] = append(r.waiters[sessionID], ch)
	r.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// CancelAll fails every pending command across every session with
// INTERNAL_ERROR; used during shutdown.
func (r *Router) CancelAll() {
	r.mu.Lock()
	all := r.pendings
	r.pendings = make(map[string]map[string]*pending)
	r.mu.Unlock()

	for _, bySession := range all {
		for id, p := range bySession {
			p.timer.Stop()
			select {
			case p.resultCh <- errorResponse(id, apierr.Internal, "daemon is shutting down"):
			default:
			}
		}
	}
}

func errorResponse(id string, cat apierr.Category, msg string) ipc.Response {
	log.Debug("command failed", "id", id, "category", string(cat), "detail", msg)
	return ipc.Response{ID: id, Success: false, Error: msg}
}

// translate maps client-facing command shapes onto the shape the extension
// expects: navigate/open share one extension-side verb, and the four
// tab_* variants collapse into a single "tab" command carrying an action.
func translate(cmd ipc.Command) (ipc.ExtensionCommand, error) {
	switch cmd.Type {
	case "navigate":
		return retype(cmd, "open", cmd.Params)
	case "tab_new", "tab_close", "tab_switch", "tab_list":
		action := cmd.Type[len("tab_"):]
		params, err := withAction(cmd.Params, action)
		if err != nil {
			return ipc.ExtensionCommand{}, err
		}
		return retype(cmd, "tab", params)
	default:
		return ipc.ExtensionCommand{ID: cmd.ID, Type: cmd.Type, Params: cmd.Params}, nil
	}
}

func retype(cmd ipc.Command, extType string, params json.RawMessage) (ipc.ExtensionCommand, error) {
	return ipc.ExtensionCommand{ID: cmd.ID, Type: extType, Params: params}, nil
}

// withAction merges an "action" field into an existing params object
// (or creates one) without disturbing any fields already present.
func withAction(params json.RawMessage, action string) (json.RawMessage, error) {
	m := map[string]interface{}{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &m); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}
	m["action"] = action
	return json.Marshal(m)
}
