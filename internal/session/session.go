// Package session is the authoritative store of sessions: their names,
// profile directories, state, and bindings to extension connections and
// browser processes.
package session

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a session's lifecycle state.
type State string

const (
	Pending            State = "pending"
	AwaitingExtension  State = "awaiting_extension"
	Active             State = "active"
	Disconnected       State = "disconnected"
)

// DefaultName is the reserved per-profile default session name.
const DefaultName = "default"

// unsetProfileKey is the sentinel profile key for sessions with no explicit
// profile directory, kept distinct from any real path.
const unsetProfileKey = "\x00unset\x00"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ExtensionHandle is a non-owning observation handle on an extension
// connection; the Gateway owns the real connection.
type ExtensionHandle interface {
	Close() error
}

// BrowserHandle is a non-owning observation handle on a browser process;
// the Supervisor owns the real process.
type BrowserHandle interface {
	Pid() int
}

// Session is one logical binding between a browser window and the
// daemon's routing identity.
type Session struct {
	ID         string
	Name       string
	ProfileDir string
	State      State
	CreatedAt  time.Time

	mu                  sync.Mutex
	extensionConnection ExtensionHandle
	browserProcess      BrowserHandle
}

// ExtensionConnection returns the session's current extension handle, if any.
func (s *Session) ExtensionConnection() ExtensionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extensionConnection
}

// BrowserProcess returns the session's current browser handle, if any.
func (s *Session) BrowserProcess() BrowserHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browserProcess
}

// ErrNameInvalid is returned when a session name fails the naming pattern.
var ErrNameInvalid = fmt.Errorf("session name must match ^[A-Za-z0-9_-]{1,64}$")

// ErrNameTaken is returned when a session name is already live.
var ErrNameTaken = fmt.Errorf("session name already in use")

// ErrNotFound is returned by operations on a session id that doesn't exist.
var ErrNotFound = fmt.Errorf("session not found")

// ValidName reports whether name matches the session naming pattern.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// profileKey normalizes a profile directory to an index key; empty/unset
// maps to a sentinel distinct from any real path.
func profileKey(profileDir string) string {
	if profileDir == "" {
		return unsetProfileKey
	}
	return profileDir
}

// Registry is the single source of truth for sessions.
type Registry struct {
	mu          sync.Mutex
	byID        map[string]*Session
	byName      map[string]*Session
	defaultByProfile map[string]string // profileKey -> session id
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:             make(map[string]*Session),
		byName:           make(map[string]*Session),
		defaultByProfile: make(map[string]string),
	}
}

// Create validates name, allocates an id, and registers a new pending
// session. Fails with ErrNameInvalid or ErrNameTaken. name is unique among
// live sessions globally, except the special name "default", which is
// unique only per profileDir (so two different profiles may each have
// their own live "default" session at once).
func (r *Registry) Create(name, profileDir string) (*Session, error) {
	if !ValidName(name) {
		return nil, ErrNameInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := profileKey(profileDir)
	if name == DefaultName {
		if _, exists := r.defaultByProfile[key]; exists {
			return nil, ErrNameTaken
		}
	} else if _, exists := r.byName[name]; exists {
		return nil, ErrNameTaken
	}

	s := &Session{
		ID:         uuid.NewString(),
		Name:       name,
		ProfileDir: profileDir,
		State:      Pending,
		CreatedAt:  time.Now(),
	}

	r.byID[s.ID] = s
	if name == DefaultName {
		r.defaultByProfile[key] = s.ID
	} else {
		r.byName[name] = s
	}

	return s, nil
}

// Get returns the session with the given id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// GetByName returns the session with the given name, or nil.
func (r *Registry) GetByName(name string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byName[name]
}

// GetOrCreateDefault returns the live default session for profileDir,
// creating it if none exists yet.
func (r *Registry) GetOrCreateDefault(profileDir string) (*Session, error) {
	r.mu.Lock()
	key := profileKey(profileDir)
	if id, ok := r.defaultByProfile[key]; ok {
		if s, ok := r.byID[id]; ok {
			r.mu.Unlock()
			return s, nil
		}
	}
	r.mu.Unlock()
	return r.Create(DefaultName, profileDir)
}

// List returns every live session.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// ListByState returns every live session in the given state.
func (r *Registry) ListByState(state State) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.byID {
		s.mu.Lock()
		match := s.State == state
		s.mu.Unlock()
		if match {
			out = append(out, s)
		}
	}
	return out
}

// Delete removes a session from every index, best-effort closing any held
// extension handle. Returns false if the session did not exist.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	s, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, id)
	delete(r.byName, s.Name)
	for key, defID := range r.defaultByProfile {
		if defID == id {
			delete(r.defaultByProfile, key)
		}
	}
	r.mu.Unlock()

	s.mu.Lock()
	conn := s.extensionConnection
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return true
}

// UpdateState transitions a session's state. Fails with ErrNotFound.
func (r *Registry) UpdateState(id string, state State) error {
	r.mu.Lock()
	s, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	s.State = state
	s.mu.Unlock()
	return nil
}

// SetExtensionConnection binds (or clears, if handle is nil) a session's
// extension handle, transitioning state to active or disconnected
// accordingly.
func (r *Registry) SetExtensionConnection(id string, handle ExtensionHandle) error {
	r.mu.Lock()
	s, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	s.extensionConnection = handle
	if handle != nil {
		s.State = Active
	} else {
		s.State = Disconnected
	}
	s.mu.Unlock()
	return nil
}

// SetBrowserProcess binds (or clears) a session's browser process handle.
func (r *Registry) SetBrowserProcess(id string, handle BrowserHandle) error {
	r.mu.Lock()
	s, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	s.browserProcess = handle
	s.mu.Unlock()
	return nil
}

// AssignNextAwaiting returns the awaiting_extension session with the
// earliest CreatedAt (FIFO), without changing its state. Returns nil if
// none are awaiting.
func (r *Registry) AssignNextAwaiting() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *Session
	var bestCreatedAt time.Time
	for _, s := range r.byID {
		s.mu.Lock()
		isAwaiting := s.State == AwaitingExtension
		createdAt := s.CreatedAt
		s.mu.Unlock()
		if !isAwaiting {
			continue
		}
		if best == nil || createdAt.Before(bestCreatedAt) {
			best = s
			bestCreatedAt = createdAt
		}
	}
	return best
}
