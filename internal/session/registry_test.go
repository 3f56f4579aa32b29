package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterThenLookup(t *testing.T) {
	r := NewRegistry()
	s := New("conn-1", &fakeTransport{})
	s.Authenticate("alice")

	r.Register("alice", s)

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterDisplacesOldSession(t *testing.T) {
	r := NewRegistry()

	oldTransport := &fakeTransport{}
	oldSession := New("conn-1", oldTransport)
	oldSession.Authenticate("alice")
	r.Register("alice", oldSession)

	newSession := New("conn-2", &fakeTransport{})
	newSession.Authenticate("alice")
	r.Register("alice", newSession)

	assert.True(t, oldTransport.closed, "displace-old policy requires closing the evicted session's transport")
	assert.Equal(t, CloseNormal, oldTransport.code)

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, newSession, got)
	assert.Equal(t, 1, r.Len(), "registry must hold exactly one session per name")
}

func TestDeregisterOnlyRemovesMatchingSession(t *testing.T) {
	r := NewRegistry()

	first := New("conn-1", &fakeTransport{})
	first.Authenticate("alice")
	r.Register("alice", first)

	second := New("conn-2", &fakeTransport{})
	second.Authenticate("alice")
	r.Register("alice", second)

	// The first session's close handler races in after the displace and
	// tries to deregister — it must not evict the session that replaced it.
	r.Deregister("alice", first)
	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got)

	r.Deregister("alice", second)
	_, ok = r.Lookup("alice")
	assert.False(t, ok)
}

func TestSnapshotReturnsAllSessions(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", New("c1", &fakeTransport{}))
	r.Register("bob", New("c2", &fakeTransport{}))

	snap := r.Snapshot()
	assert.Len(t, snap, 2)
}

func TestUptimeIsNonNegative(t *testing.T) {
	r := NewRegistry()
	assert.GreaterOrEqual(t, r.Uptime().Nanoseconds(), int64(0))
}
