// Package heartbeat implements the Heartbeat Supervisor from spec.md §4.4:
// a single periodic timer that evicts sessions which stop answering
// heartbeats and otherwise keeps healthy ones probed.
package heartbeat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/relayhub/relay/internal/eventbus"
	"github.com/relayhub/relay/internal/logger"
	"github.com/relayhub/relay/internal/session"
	"github.com/relayhub/relay/internal/wire"
)

// Config holds the supervisor's tunables. Zero values are replaced with
// spec.md §4.4's defaults by New.
type Config struct {
	Interval time.Duration // default 1000ms
	Timeout  time.Duration // default 3000ms
}

const (
	DefaultInterval = time.Second
	DefaultTimeout  = 3 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Supervisor runs the liveness sweep. It is the sole writer of eviction
// decisions: normal traffic frames never refresh a session's heartbeat
// stamp, only Session.Touch (called on heartbeat_response receipt)
// does — see spec.md §4.4's "design choice" note, carried through
// unchanged here.
type Supervisor struct {
	registry *session.Registry
	bus      *eventbus.Bus
	cfg      Config

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Supervisor bound to registry. bus receives a
// `clientTimeout` event for every eviction, so server code can react
// (metrics, cleanup) without depending on the supervisor directly.
func New(registry *session.Registry, bus *eventbus.Bus, cfg Config) *Supervisor {
	return &Supervisor{
		registry: registry,
		bus:      bus,
		cfg:      cfg.withDefaults(),
		stop:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called. Call it in its own
// goroutine.
func (s *Supervisor) Start() {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// Stop halts the sweep loop. Safe to call more than once.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// sweep runs one pass over every registered session. now is threaded in
// explicitly so tests can drive deterministic timeouts without sleeping;
// production callers always pass time.Now(), preserving the monotonic
// clock reading that time.Time.Sub relies on for a correct elapsed
// duration even across NTP adjustments.
func (s *Supervisor) sweep(now time.Time) {
	log := logger.Heartbeat()

	for _, sess := range s.registry.Snapshot() {
		if !sess.Authenticated() {
			continue
		}

		elapsed := now.Sub(sess.LastHeartbeat())
		if elapsed > s.cfg.Timeout {
			name := sess.Name()
			s.registry.Deregister(name, sess)
			_ = sess.Close(session.CloseNormal, "Heartbeat timeout")

			log.Info().Str("name", name).Dur("elapsed", elapsed).Msg("evicting session on heartbeat timeout")

			payload, _ := json.Marshal(map[string]string{"name": name})
			s.bus.Emit("clientTimeout", json.RawMessage(payload), name)
			continue
		}

		if err := sess.Send(wire.NewHeartbeat()); err != nil {
			log.Warn().Err(err).Str("name", sess.Name()).Msg("failed to send heartbeat probe")
		}
	}
}
