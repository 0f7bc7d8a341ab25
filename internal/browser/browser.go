// Package browser launches, monitors, and terminates headed browser child
// processes on behalf of sessions.
package browser

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/tabdaemon/tabd/internal/log"
)

// standardArgs are always appended to every launch, automation-friendly
// flags that suppress first-run UI, popups, and background throttling
// in launch order.
var standardArgs = []string{
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-default-apps",
	"--disable-popup-blocking",
	"--disable-translate",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
}

// gracefulWait is how long Kill waits for a graceful exit before escalating.
const gracefulWait = 5 * time.Second

// forcefulWait is the extra time Kill waits after escalating to a forceful
// termination before giving up.
const forcefulWait = 500 * time.Millisecond

// LaunchOptions configures a single browser launch.
type LaunchOptions struct {
	SessionID      string
	ProfileDir     string
	URL            string
	ExecutablePath string
	ExtraArgs      []string
}

// Handle is an owning reference to a launched browser process.
type Handle struct {
	SessionID  string
	PID        int
	LaunchedAt time.Time

	cmd *exec.Cmd
}

// Pid satisfies session.BrowserHandle.
func (h *Handle) Pid() int { return h.PID }

// Info is the queryable summary of a launched process.
type Info struct {
	Pid        int
	SessionID  string
	LaunchedAt time.Time
}

// Errors returned by Launch.
var (
	ErrAlreadyRunning = fmt.Errorf("browser already running for session")
	ErrNoExecutable   = fmt.Errorf("no browser executable found")
)

// Supervisor manages the set of browser processes launched for sessions.
type Supervisor struct {
	mu                 sync.Mutex
	procs              map[string]*Handle // sessionID -> handle
	executableOverride string

	onStarted func(sessionID string, h *Handle)
	onExited  func(sessionID string, exitCode *int)
	onError   func(sessionID string, err error)
}

// NewSupervisor creates a Supervisor. executableOverride, when non-empty,
// is tried first by FindExecutable and wins whenever it is executable.
func NewSupervisor(executableOverride string) *Supervisor {
	return &Supervisor{
		procs:              make(map[string]*Handle),
		executableOverride: executableOverride,
	}
}

// OnStarted registers a callback invoked after a successful launch.
func (s *Supervisor) OnStarted(fn func(sessionID string, h *Handle)) { s.onStarted = fn }

// OnExited registers a callback invoked when a managed process exits.
func (s *Supervisor) OnExited(fn func(sessionID string, exitCode *int)) { s.onExited = fn }

// OnError registers a callback invoked on a per-process error.
func (s *Supervisor) OnError(fn func(sessionID string, err error)) { s.onError = fn }

// FindExecutable returns the first candidate that exists and is executable,
// consulting the configured override first.
func (s *Supervisor) FindExecutable() (string, bool) {
	if s.executableOverride != "" {
		if isExecutable(s.executableOverride) {
			return s.executableOverride, true
		}
	}
	for _, candidate := range platformCandidates() {
		if isExecutable(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// Launch spawns a browser process for opts.SessionID. Refuses if a process
// is already registered for that session.
func (s *Supervisor) Launch(opts LaunchOptions) (*Handle, error) {
	s.mu.Lock()
	if _, exists := s.procs[opts.SessionID]; exists {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	s.mu.Unlock()

	execPath := opts.ExecutablePath
	if execPath == "" {
		found, ok := s.FindExecutable()
		if !ok {
			return nil, ErrNoExecutable
		}
		execPath = found
	}

	args := make([]string, 0, len(standardArgs)+len(opts.ExtraArgs)+4)
	args = append(args, standardArgs...)
	if opts.ProfileDir != "" {
		args = append(args, "--user-data-dir="+opts.ProfileDir)
	}
	args = append(args, opts.ExtraArgs...)
	if opts.URL != "" {
		args = append(args, "--new-window", opts.URL)
	}

	cmd := exec.Command(execPath, args...)
	setProcGroup(cmd)

	if err := cmd.Start(); err != nil {
		if s.onError != nil {
			s.onError(opts.SessionID, err)
		}
		return nil, fmt.Errorf("spawn browser: %w", err)
	}

	h := &Handle{
		SessionID:  opts.SessionID,
		PID:        cmd.Process.Pid,
		LaunchedAt: time.Now(),
		cmd:        cmd,
	}

	s.mu.Lock()
	s.procs[opts.SessionID] = h
	s.mu.Unlock()

	go s.wait(h)

	log.Debug("browser launched", "session", opts.SessionID, "pid", h.PID, "executable", execPath)
	if s.onStarted != nil {
		s.onStarted(opts.SessionID, h)
	}

	return h, nil
}

// wait blocks until the process exits, removes it from bookkeeping, then
// emits onExited.
func (s *Supervisor) wait(h *Handle) {
	err := h.cmd.Wait()

	s.mu.Lock()
	if cur, ok := s.procs[h.SessionID]; ok && cur == h {
		delete(s.procs, h.SessionID)
	}
	s.mu.Unlock()

	var code *int
	if h.cmd.ProcessState != nil {
		c := h.cmd.ProcessState.ExitCode()
		code = &c
	}
	log.Debug("browser exited", "session", h.SessionID, "pid", h.PID, "err", err)
	if s.onExited != nil {
		s.onExited(h.SessionID, code)
	}
}

// Kill terminates the browser for sessionID: graceful, escalating to
// forceful after gracefulWait, giving up forcefulWait later. Returns
// whether a process was known for the session.
func (s *Supervisor) Kill(sessionID string) bool {
	s.mu.Lock()
	h, ok := s.procs[sessionID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	killGraceful(h.cmd)

	deadline := time.Now().Add(gracefulWait)
	for time.Now().Before(deadline) {
		if !isAlive(h.PID) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}

	killForceful(h.PID)

	deadline = time.Now().Add(forcefulWait)
	for time.Now().Before(deadline) {
		if !isAlive(h.PID) {
			return true
		}
		time.Sleep(25 * time.Millisecond)
	}

	return true
}

// KillAll terminates every managed process concurrently.
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.Kill(id)
		}(id)
	}
	wg.Wait()
}

// GetProcess returns the handle for sessionID, if any.
func (s *Supervisor) GetProcess(sessionID string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.procs[sessionID]
	return h, ok
}

// GetInfo returns a queryable summary for sessionID, if any.
func (s *Supervisor) GetInfo(sessionID string) (Info, bool) {
	h, ok := s.GetProcess(sessionID)
	if !ok {
		return Info{}, false
	}
	return Info{Pid: h.PID, SessionID: h.SessionID, LaunchedAt: h.LaunchedAt}, true
}

// Has reports whether a browser is registered for sessionID.
func (s *Supervisor) Has(sessionID string) bool {
	_, ok := s.GetProcess(sessionID)
	return ok
}

// List returns every managed process's summary.
func (s *Supervisor) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.procs))
	for _, h := range s.procs {
		out = append(out, Info{Pid: h.PID, SessionID: h.SessionID, LaunchedAt: h.LaunchedAt})
	}
	return out
}
