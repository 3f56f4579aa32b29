// reconnect.go implements the Reconnect Controller state machine from
// spec.md §4.7.
package client

import (
	"math"
	"sync"
	"time"

	"github.com/relayhub/relay/internal/logger"
)

// State is one of the five Connection States from spec.md §3.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

const (
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

// intentionalCloseCodes are close codes that suppress reconnection
// (spec.md §4.7): 1000 (a clean disconnect or a heartbeat-timeout
// eviction) and 1001 (the server's shutdown hard close) are both things
// the client should not fight to undo.
var intentionalCloseCodes = map[int]bool{1000: true, 1001: true}

// reconnectController serializes state transitions for one Client
// instance and drives the backoff timer between Reconnecting and
// Connecting.
type reconnectController struct {
	mu       sync.Mutex
	state    State
	attempts int

	maxAttempts int
	multiplier  float64

	onStateChange func(newState, oldState State)
	reconnectFn   func()

	timer *time.Timer
}

func newReconnectController(maxAttempts int, multiplier float64, reconnectFn func(), onStateChange func(State, State)) *reconnectController {
	if multiplier <= 0 {
		multiplier = 1.5
	}
	return &reconnectController{
		state:         Disconnected,
		maxAttempts:   maxAttempts,
		multiplier:    multiplier,
		reconnectFn:   reconnectFn,
		onStateChange: onStateChange,
	}
}

func (c *reconnectController) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *reconnectController) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	if from == to {
		return
	}
	if to == Connected {
		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()
	}
	if c.onStateChange != nil {
		c.onStateChange(to, from)
	}
}

// beginConnecting transitions Disconnected -> Connecting. Returns false if
// the controller isn't in a state that allows a fresh connect.
func (c *reconnectController) beginConnecting() bool {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()
	c.transition(Connecting)
	return true
}

// connected marks a successful open+auth, resetting the attempt counter.
func (c *reconnectController) connected() {
	c.transition(Connected)
}

// connectFailed handles a Connecting -> error transition: the initial
// connect() call is rejected outright, with no reconnect loop entered.
func (c *reconnectController) connectFailed() {
	c.transition(Disconnected)
}

// closed handles a transport close arriving while Connected. Close codes
// 1000/1001 are intentional and go straight to Disconnected; any other
// code reconnects if attempts remain and the controller is not mid
// user-initiated Disconnect.
func (c *reconnectController) closed(code int, reason string) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == Disconnecting {
		c.transition(Disconnected)
		return
	}

	if intentionalCloseCodes[code] {
		c.transition(Disconnected)
		return
	}

	c.mu.Lock()
	attempts := c.attempts
	maxAttempts := c.maxAttempts
	c.mu.Unlock()

	if attempts >= maxAttempts {
		c.transition(Disconnected)
		return
	}

	c.transition(Reconnecting)
	c.scheduleReconnect()
}

func (c *reconnectController) scheduleReconnect() {
	c.mu.Lock()
	c.attempts++
	n := c.attempts
	multiplier := c.multiplier
	c.mu.Unlock()

	delay := time.Duration(math.Min(
		float64(baseBackoff)*math.Pow(multiplier, float64(n-1)),
		float64(maxBackoff),
	))

	logger.Client().Info().Int("attempt", n).Dur("delay", delay).Msg("scheduling reconnect")

	c.mu.Lock()
	c.timer = time.AfterFunc(delay, func() {
		c.transition(Connecting)
		if c.reconnectFn != nil {
			c.reconnectFn()
		}
	})
	c.mu.Unlock()
}

// disconnect begins a user-initiated disconnect: any in-flight reconnect
// timer is canceled and the controller settles at Disconnected once the
// caller closes the transport.
func (c *reconnectController) disconnect() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
	c.transition(Disconnecting)
}

func (c *reconnectController) stopTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
}

// backoffDelay exposes the formula for tests:
// min(baseBackoff * multiplier^(n-1), maxBackoff).
func backoffDelay(n int, multiplier float64) time.Duration {
	return time.Duration(math.Min(
		float64(baseBackoff)*math.Pow(multiplier, float64(n-1)),
		float64(maxBackoff),
	))
}
