package heartbeat

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/relayhub/relay/internal/eventbus"
	"github.com/relayhub/relay/internal/session"
	"github.com/relayhub/relay/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu      sync.Mutex
	written []wire.Frame
	closed  bool
	code    int
	reason  string
}

func (f *fakeTransport) WriteFrame(frame wire.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, frame)
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
	f.reason = reason
	return nil
}

func (f *fakeTransport) frames() []wire.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Frame(nil), f.written...)
}

func TestSweepSendsHeartbeatToFreshSession(t *testing.T) {
	registry := session.NewRegistry()
	tr := &fakeTransport{}
	s := session.New("c1", tr)
	s.Authenticate("alice")
	registry.Register("alice", s)

	sup := New(registry, eventbus.New(), Config{Interval: time.Hour, Timeout: time.Minute})
	sup.sweep(time.Now())

	require.Len(t, tr.frames(), 1)
	assert.Equal(t, wire.TypeHeartbeat, tr.frames()[0].Type)
	assert.False(t, tr.closed)
}

func TestSweepEvictsStaleSession(t *testing.T) {
	registry := session.NewRegistry()
	tr := &fakeTransport{}
	s := session.New("c1", tr)
	s.Authenticate("alice")
	registry.Register("alice", s)

	bus := eventbus.New()
	var timeoutPayload json.RawMessage
	bus.On("clientTimeout", func(data json.RawMessage, from string) {
		timeoutPayload = data
	})

	sup := New(registry, bus, Config{Interval: time.Hour, Timeout: time.Millisecond})

	// Force staleness by sweeping with a "now" far in the future instead
	// of sleeping, since Touch/LastHeartbeat already use time.Now().
	future := time.Now().Add(time.Hour)
	sup.sweep(future)

	assert.True(t, tr.closed)
	assert.Equal(t, session.CloseNormal, tr.code)

	_, ok := registry.Lookup("alice")
	assert.False(t, ok, "evicted session must be removed from the registry")

	require.NotNil(t, timeoutPayload)
	assert.Contains(t, string(timeoutPayload), "alice")
}

func TestSweepSkipsUnauthenticatedSessions(t *testing.T) {
	registry := session.NewRegistry()
	tr := &fakeTransport{}
	s := session.New("c1", tr)
	registry.Register("preauth", s)

	sup := New(registry, eventbus.New(), Config{Interval: time.Hour, Timeout: time.Nanosecond})
	sup.sweep(time.Now().Add(time.Hour))

	assert.False(t, tr.closed, "pre-auth sessions are not subject to heartbeat eviction")
	assert.Empty(t, tr.frames())
}

func TestTouchRefreshesAgainstEviction(t *testing.T) {
	registry := session.NewRegistry()
	tr := &fakeTransport{}
	s := session.New("c1", tr)
	s.Authenticate("alice")
	registry.Register("alice", s)

	sup := New(registry, eventbus.New(), Config{Interval: time.Hour, Timeout: time.Hour})

	s.Touch()
	sup.sweep(time.Now().Add(time.Minute))

	assert.False(t, tr.closed, "a recent Touch must prevent eviction")
}

func TestConfigDefaultsApplied(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
}

func TestStopIsIdempotent(t *testing.T) {
	registry := session.NewRegistry()
	sup := New(registry, eventbus.New(), Config{})
	sup.Stop()
	assert.NotPanics(t, func() { sup.Stop() })
}
