// Package daemon is the Daemon Controller: it owns the lifecycle of every
// other component (Session Registry, Browser Supervisor, Extension
// Gateway, Command Router, Client Server), wires their callbacks together,
// and resolves client-facing session references.
package daemon

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tabdaemon/tabd/internal/browser"
	"github.com/tabdaemon/tabd/internal/clientserver"
	"github.com/tabdaemon/tabd/internal/config"
	"github.com/tabdaemon/tabd/internal/gateway"
	"github.com/tabdaemon/tabd/internal/ipc"
	"github.com/tabdaemon/tabd/internal/log"
	"github.com/tabdaemon/tabd/internal/paths"
	"github.com/tabdaemon/tabd/internal/router"
	"github.com/tabdaemon/tabd/internal/session"
)

// shutdownDrainTimeout is how long stop() waits for in-flight commands to
// clear on their own before forcing cancellation again.
const shutdownDrainTimeout = 10 * time.Second

// shutdownPollInterval is how often stop() polls for drained work.
const shutdownPollInterval = 100 * time.Millisecond

// Controller wires every daemon component together and owns the overall
// start/stop lifecycle.
type Controller struct {
	cfg        config.Config
	registry   *session.Registry
	supervisor *browser.Supervisor
	gateway    *gateway.Gateway
	router     *router.Router
	server     *clientserver.Server

	mu        sync.Mutex
	isRunning bool
	stopOnce  sync.Once
}

// New builds a Controller from resolved configuration; nothing is started
// yet.
func New(cfg config.Config) *Controller {
	registry := session.NewRegistry()
	supervisor := browser.NewSupervisor(cfg.DefaultBrowserPath)
	gw := gateway.New(cfg.WSPort, cfg.HeartbeatInterval, cfg.HeartbeatTimeout)

	c := &Controller{
		cfg:        cfg,
		registry:   registry,
		supervisor: supervisor,
		gateway:    gw,
	}

	c.router = router.New(gw, c, cfg.HeartbeatTimeout)
	c.server = clientserver.New(cfg.IPCSocketPath, paths.PIDPath(cfg.IPCSocketPath))

	c.wireSupervisor()
	c.wireGateway()
	c.wireServer()

	return c
}

func (c *Controller) wireSupervisor() {
	c.supervisor.OnExited(func(sessionID string, exitCode *int) {
		log.Info("browser exited", "session", sessionID, "exitCode", exitCode)
		c.registry.SetBrowserProcess(sessionID, nil)
	})
	c.supervisor.OnError(func(sessionID string, err error) {
		log.Warn("browser process error", "session", sessionID, "error", err)
	})
}

func (c *Controller) wireGateway() {
	c.gateway.OnRegister(c.resolveRegistration)

	c.gateway.OnExtensionConnected(func(sessionID string, conn *gateway.Conn) {
		if err := c.registry.SetExtensionConnection(sessionID, conn); err != nil {
			log.Warn("extension connected for unknown session", "session", sessionID, "error", err)
			conn.Close()
			return
		}
		log.Info("extension connected", "session", sessionID)
		c.router.NotifyExtensionConnected(sessionID)
	})

	c.gateway.OnExtensionResponse(func(sessionID string, resp ipc.Response) {
		c.router.HandleExtensionResponse(sessionID, resp)
	})

	c.gateway.OnExtensionDisconnected(func(sessionID string) {
		log.Info("extension disconnected", "session", sessionID)
		c.registry.SetExtensionConnection(sessionID, nil)
		c.router.HandleExtensionDisconnected(sessionID)
	})
}

func (c *Controller) wireServer() {
	c.server.OnCommand(c.handleCliCommand)
	c.server.OnGetEndpoint(func() ipc.EndpointInfo {
		return ipc.EndpointInfo{IP: "127.0.0.1", Port: c.gateway.Port()}
	})
	c.server.OnRegisterExtension(func(payload json.RawMessage) (interface{}, error) {
		var reg ipc.ExtensionRegister
		if err := json.Unmarshal(payload, &reg); err != nil {
			return nil, fmt.Errorf("invalid register_extension payload: %w", err)
		}
		sessionID, err := c.resolveRegistration(reg.WindowID, reg.CachedSessionID)
		if err != nil {
			return nil, err
		}
		return ipc.SessionAssigned{SessionID: sessionID}, nil
	})
}

// resolveRegistration implements the extension registration handshake: an
// extension naming a live, unbound session is reattached to it; otherwise
// the oldest session awaiting an extension claims it; otherwise a session
// is created (named after the extension's cached id when that's a legal
// session name, or the profile default otherwise). If creating a named
// session loses a race to a concurrent registration, this falls back to
// the profile default rather than failing the connection outright.
func (c *Controller) resolveRegistration(windowID int, cachedSessionID string) (string, error) {
	if cachedSessionID != "" {
		if s := c.registry.Get(cachedSessionID); s != nil && s.ExtensionConnection() == nil {
			return s.ID, nil
		}
	}

	if s := c.registry.AssignNextAwaiting(); s != nil {
		return s.ID, nil
	}

	if cachedSessionID != "" && session.ValidName(cachedSessionID) {
		s, err := c.registry.Create(cachedSessionID, "")
		if err == nil {
			return s.ID, nil
		}
		if err != session.ErrNameTaken {
			return "", err
		}
	}

	s, err := c.registry.GetOrCreateDefault("")
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// EnsureLaunched satisfies router.Launcher: it launches a browser for
// sessionID if one isn't already running, and marks the session as
// awaiting its extension to connect.
func (c *Controller) EnsureLaunched(sessionID string) error {
	s := c.registry.Get(sessionID)
	if s == nil {
		return session.ErrNotFound
	}
	if c.supervisor.Has(sessionID) {
		return nil
	}

	h, err := c.supervisor.Launch(browser.LaunchOptions{
		SessionID:      sessionID,
		ProfileDir:     s.ProfileDir,
		ExecutablePath: c.cfg.DefaultBrowserPath,
	})
	if err != nil {
		return err
	}

	c.registry.SetBrowserProcess(sessionID, h)
	return c.registry.UpdateState(sessionID, session.AwaitingExtension)
}

// resolveClientSession maps a client command's sessionId/profile fields
// onto a concrete session: an existing id or name is reused; an empty
// sessionId resolves to the profile's default session. An unknown name is
// only auto-created for navigation-class commands (the ones that can
// legitimately bring a session into being by launching a browser); any
// other command type against an unknown name fails with "Session not
// found: <name>" instead of silently creating one.
func (c *Controller) resolveClientSession(cmd ipc.Command) (string, error) {
	if cmd.SessionID == "" || cmd.SessionID == session.DefaultName {
		s, err := c.registry.GetOrCreateDefault(cmd.Profile)
		if err != nil {
			return "", err
		}
		return s.ID, nil
	}

	if s := c.registry.Get(cmd.SessionID); s != nil {
		return s.ID, nil
	}
	if s := c.registry.GetByName(cmd.SessionID); s != nil {
		return s.ID, nil
	}
	if !session.ValidName(cmd.SessionID) || !ipc.IsNavigationClass(cmd.Type) {
		return "", fmt.Errorf("Session not found: %s", cmd.SessionID)
	}

	s, err := c.registry.Create(cmd.SessionID, cmd.Profile)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// handleCliCommand is the Client Server's entry point for "command" envelopes.
func (c *Controller) handleCliCommand(cmd ipc.Command) ipc.Response {
	if !c.IsRunning() {
		return ipc.Response{ID: cmd.ID, Success: false, Error: "Daemon is shutting down"}
	}
	sessionID, err := c.resolveClientSession(cmd)
	if err != nil {
		return ipc.Response{ID: cmd.ID, Success: false, Error: err.Error()}
	}
	cmd.SessionID = sessionID
	return c.router.Submit(cmd)
}

// Start brings up the Extension Gateway and Client Server and marks the
// controller running.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.gateway.Start(); err != nil {
		return fmt.Errorf("start extension gateway: %w", err)
	}
	if err := c.server.Start(); err != nil {
		c.gateway.Stop()
		return fmt.Errorf("start client server: %w", err)
	}

	c.isRunning = true
	log.Info("daemon started", "socket", c.cfg.IPCSocketPath, "wsPort", c.gateway.Port())
	return nil
}

// Stop is an idempotent shutdown: it stops accepting new work, cancels
// in-flight commands, polls hasPendingWork for up to shutdownDrainTimeout,
// cancels again, kills every managed browser, then tears down the
// transports.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.isRunning = false
		c.mu.Unlock()

		c.router.CancelAll()

		deadline := time.Now().Add(shutdownDrainTimeout)
		for time.Now().Before(deadline) {
			if !c.hasPendingWork() {
				break
			}
			time.Sleep(shutdownPollInterval)
		}
		c.router.CancelAll()

		c.supervisor.KillAll()
		c.server.Stop()
		c.gateway.Stop()

		log.Info("daemon stopped")
	})
}

// hasPendingWork is a conservative liveness check used only to decide
// whether the shutdown drain loop can exit early; CancelAll runs
// regardless once the deadline or an empty queue is observed.
func (c *Controller) hasPendingWork() bool {
	for _, s := range c.registry.ListByState(session.Active) {
		if s.BrowserProcess() != nil {
			return true
		}
	}
	return false
}

// IsRunning reports whether Start has completed and Stop has not yet run.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRunning
}
