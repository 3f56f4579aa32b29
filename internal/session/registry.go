package session

import (
	"sync"
	"time"

	"github.com/relayhub/relay/internal/logger"
)

// Registry maps name -> Session. At most one Session is ever registered
// for a given name at a time: registering a new Session for a name that
// already resolves to one evicts the prior Session first (spec.md §3's
// resolved Open Question — displace-old, not reject-new — see DESIGN.md).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	started  time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		started:  time.Now(),
	}
}

// Register inserts session under name. If a different Session is already
// registered under name, it is evicted: its transport is closed with
// CloseNormal and it is removed before the new Session takes its place.
// Registering the very same *Session twice under its own name is a no-op
// on the map (and never closes itself).
func (r *Registry) Register(name string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[name]; ok && existing != s {
		logger.Router().Info().
			Str("name", name).
			Str("evictedConnID", existing.ConnID).
			Str("newConnID", s.ConnID).
			Msg("displacing prior session for name")
		_ = existing.Close(CloseNormal, "displaced by new connection")
	}

	r.sessions[name] = s
}

// Lookup returns the Session registered under name, if any.
func (r *Registry) Lookup(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Deregister removes the Session registered under name, but only if it is
// still s — this keeps a stale close (e.g. the losing side of a displace
// race) from deleting a session that has already replaced it.
func (r *Registry) Deregister(name string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[name]; ok && current == s {
		delete(r.sessions, name)
	}
}

// Len returns the number of currently registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns every currently registered Session. The returned slice
// is a copy; it is safe to range over without holding the registry lock.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Uptime reports how long the registry has existed, used by the operational
// registry snapshot (SPEC_FULL.md §3.1).
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.started)
}
