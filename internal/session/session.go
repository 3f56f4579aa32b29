// Package session implements the server-side Session and Session Registry
// from spec.md §3 ("Session (server-side)", "Session Registry").
package session

import (
	"sync"
	"time"

	"github.com/relayhub/relay/internal/wire"
)

// Transport abstracts the underlying WebSocket connection so Session can be
// exercised in tests without a real network socket. WriteFrame must be
// safe to call from multiple goroutines; Session itself additionally
// serializes calls to it so that frames are written in the order they are
// handed to Send (spec.md §4.3 "per source Session, outbound frames are
// serialized in the order writes are issued").
type Transport interface {
	WriteFrame(f wire.Frame) error
	Close(code int, reason string) error
}

// Close status codes used throughout the hub (mirrors RFC 6455 codes the
// spec names explicitly).
const (
	CloseNormal       = 1000 // heartbeat timeout, displaced
	CloseGoingAway    = 1001 // graceful shutdown hard close
	ClosePolicyViolation = 1008 // authentication required / failed
)

// Session is the server's per-connection record. It holds no application
// state beyond the four fields spec.md §3 names: transport handle,
// assigned name, last-heartbeat timestamp, and authenticated flag.
//
// LastHeartbeat is read and written through time.Now()/time.Time.Sub, which
// retain Go's monotonic clock reading as long as the value is never
// serialized through a format that strips it (JSON, string formatting).
// Session never does that internally — comparisons in the heartbeat
// supervisor are monotonic-safe by construction, per spec.md §9's design
// note.
type Session struct {
	// ConnID is assigned at accept time, before authentication, and never
	// changes. It lets logs and metrics correlate a connection across the
	// pre-auth window even though it has no name yet.
	ConnID string

	transport Transport

	mu            sync.RWMutex
	name          string
	authenticated bool
	lastHeartbeat time.Time

	writeMu sync.Mutex
}

// New creates a pre-auth Session wrapping transport, identified by connID.
func New(connID string, transport Transport) *Session {
	return &Session{
		ConnID:        connID,
		transport:     transport,
		lastHeartbeat: time.Now(),
	}
}

// Authenticate promotes the session to authenticated under name. Calling
// it again (e.g. on a re-auth attempt, which spec.md never requires but
// does not forbid) simply updates the name.
func (s *Session) Authenticate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	s.authenticated = true
}

// Name returns the session's assigned name, empty before authentication.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Authenticated reports whether Authenticate has succeeded for this
// session.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Touch refreshes the last-heartbeat timestamp to now. Per spec.md §4.4,
// only the server read loop's receipt of a heartbeat_response calls this
// — ordinary traffic frames never do.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = time.Now()
}

// LastHeartbeat returns the timestamp of the last Touch call, or the
// session's creation time if Touch has never been called.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeat
}

// Send writes a frame to the underlying transport. Calls are serialized so
// that concurrent senders (the router, the heartbeat supervisor, the
// lifecycle orchestrator) never interleave partial writes or reorder
// frames relative to each other.
func (s *Session) Send(f wire.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.transport.WriteFrame(f)
}

// Close closes the underlying transport with the given WebSocket status
// code and reason.
func (s *Session) Close(code int, reason string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.transport.Close(code, reason)
}
