// Package client implements the relay Client side of the protocol:
// dial, authenticate, issue server/peer RPCs, publish/subscribe events,
// and recover the connection per the Reconnect Controller in reconnect.go
// (spec.md §4, §4.5–§4.7). It is grounded on the teacher's K8sAgent
// connection lifecycle (agents/k8s-agent/connection.go) adapted from a
// single hardcoded control-plane agent into a general-purpose RPC client.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relayhub/relay/internal/errs"
	"github.com/relayhub/relay/internal/eventbus"
	"github.com/relayhub/relay/internal/logger"
	"github.com/relayhub/relay/internal/wire"
)

// InboundHandler answers a peer client_request addressed to this client
// (spec.md §4.5 "peer RPC").
type InboundHandler func(ctx context.Context, data json.RawMessage, fromClient string) (json.RawMessage, error)

// Client is a single relay connection plus its reconnect/request state.
// All public methods are safe for concurrent use.
type Client struct {
	cfg Config

	mu   sync.Mutex
	conn *websocket.Conn

	pending  *pendingTable
	handlers *handlerTable
	events   *eventbus.Bus
	recon    *reconnectController

	heartbeatMu     sync.Mutex
	heartbeatTicker *time.Ticker
	heartbeatStop   chan struct{}

	nextID atomic.Uint64

	name atomic.Value // string

	closeOnce sync.Once
	doneCh    chan struct{}
}

type handlerTable struct {
	mu   sync.RWMutex
	fns  map[string]InboundHandler
}

func newHandlerTable() *handlerTable {
	return &handlerTable{fns: make(map[string]InboundHandler)}
}

func (t *handlerTable) register(name string, fn InboundHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fns[name] = fn
}

func (t *handlerTable) remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.fns, name)
}

func (t *handlerTable) lookup(name string) (InboundHandler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.fns[name]
	return fn, ok
}

// New constructs a Client from cfg. It does not connect; call Connect.
func New(cfg Config) *Client {
	c := &Client{
		cfg:      cfg,
		pending:  newPendingTable(),
		handlers: newHandlerTable(),
		events:   eventbus.New(),
		doneCh:   make(chan struct{}),
	}
	c.name.Store(cfg.Name)
	c.recon = newReconnectController(cfg.MaxReconnectAttempts, cfg.ReconnectBackoffMultiplier, c.attemptReconnect, c.onStateChange)
	return c
}

func (c *Client) onStateChange(to, from State) {
	logger.Client().Info().Str("from", from.String()).Str("to", to.String()).Msg("connection state changed")
}

// State reports the client's current connection state.
func (c *Client) State() State {
	return c.recon.currentState()
}

// Name reports the name the server assigned this client at auth time.
func (c *Client) Name() string {
	v, _ := c.name.Load().(string)
	return v
}

// Connect dials the server and performs the auth handshake. A failure
// here does not start the reconnect loop: the caller decides whether to
// retry the first connection attempt.
func (c *Client) Connect(ctx context.Context) error {
	if !c.recon.beginConnecting() {
		return errs.Connection("already connecting or connected")
	}

	if err := c.dialAndAuth(ctx); err != nil {
		c.recon.connectFailed()
		return err
	}

	c.recon.connected()
	c.startHeartbeatLoop()
	go c.readLoop()
	return nil
}

func (c *Client) dialAndAuth(ctx context.Context) error {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return errs.Network(err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errs.Network(err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	authFrame := wire.NewAuth(c.cfg.Token, c.cfg.Name)
	if err := c.writeFrame(authFrame); err != nil {
		conn.Close()
		return err
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return errs.Network(err)
	}

	resp, err := wire.Decode(raw)
	if err != nil {
		conn.Close()
		return err
	}
	if resp.Type != wire.TypeAuthSuccess {
		conn.Close()
		return errs.Authentication("server rejected credentials")
	}

	c.name.Store(resp.Name)
	logger.Client().Info().Str("name", resp.Name).Msg("authenticated")
	return nil
}

// attemptReconnect is invoked by the reconnectController's backoff timer.
// Its only job is to redial; state bookkeeping (attempt counts, further
// backoff scheduling on failure) is the controller's.
func (c *Client) attemptReconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.dialAndAuth(ctx); err != nil {
		logger.Client().Warn().Err(err).Msg("reconnect attempt failed")
		c.recon.closed(1006, "reconnect failed")
		return
	}

	c.recon.connected()
	c.startHeartbeatLoop()
	go c.readLoop()
}

// startHeartbeatLoop starts the proactive heartbeat ticker (spec.md §4.4:
// the client sends heartbeat_response on its own interval in addition to
// answering the server's heartbeat probes, to keep NAT/LB state warm).
// Any previous ticker is stopped first, since a reconnect calls this again
// on the fresh connection.
func (c *Client) startHeartbeatLoop() {
	c.stopHeartbeatLoop()

	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		return
	}

	c.heartbeatMu.Lock()
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	c.heartbeatTicker = ticker
	c.heartbeatStop = stop
	c.heartbeatMu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := c.writeFrame(wire.NewHeartbeatResponse()); err != nil {
					logger.Client().Warn().Err(err).Msg("failed to send proactive heartbeat")
				}
			case <-stop:
				return
			}
		}
	}()
}

// stopHeartbeatLoop stops the proactive heartbeat ticker, if running. It
// is called alongside the reconnect controller's close handling: by
// Disconnect before closing the transport, and by readLoop before
// reporting a closed connection.
func (c *Client) stopHeartbeatLoop() {
	c.heartbeatMu.Lock()
	defer c.heartbeatMu.Unlock()

	if c.heartbeatTicker != nil {
		c.heartbeatTicker.Stop()
		c.heartbeatTicker = nil
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

func (c *Client) writeFrame(f wire.Frame) error {
	raw, err := wire.Encode(f)
	if err != nil {
		return errs.Protocol(err.Error())
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errs.Connection("not connected")
	}

	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return errs.Network(err)
	}
	return nil
}

// Request issues a server RPC (spec.md §4.5 "Server RPC") and blocks until
// a response arrives, the request timeout elapses, or ctx is canceled.
func (c *Client) Request(ctx context.Context, functionName string, data json.RawMessage) (json.RawMessage, error) {
	id := c.newID()
	entry := c.pending.add(id, functionName, c.cfg.RequestTimeout)

	if err := c.writeFrame(wire.NewRequest(id, functionName, data)); err != nil {
		c.pending.resolve(id, pendingResult{err: err})
		return nil, err
	}

	return c.awaitPending(ctx, id, entry)
}

// RequestClient issues a peer RPC addressed to target (spec.md §4.5 "Peer
// RPC"), stamping the frame with this client's own name as fromClient so
// the target's handler and its reply can both identify the caller.
func (c *Client) RequestClient(ctx context.Context, target, functionName string, data json.RawMessage) (json.RawMessage, error) {
	id := c.newID()
	entry := c.pending.add(id, functionName, c.cfg.RequestTimeout)

	frame := wire.NewClientRequest(id, functionName, target, c.Name(), data)
	if err := c.writeFrame(frame); err != nil {
		c.pending.resolve(id, pendingResult{err: err})
		return nil, err
	}

	return c.awaitPending(ctx, id, entry)
}

func (c *Client) awaitPending(ctx context.Context, id string, entry *pendingEntry) (json.RawMessage, error) {
	select {
	case res := <-entry.resultCh:
		return res.data, res.err
	case <-ctx.Done():
		c.pending.resolve(id, pendingResult{err: ctx.Err()})
		return nil, ctx.Err()
	}
}

// SendEvent publishes a fire-and-forget event (spec.md §4.6). It never
// queues or retries: if the transport is not open, it logs and returns,
// matching spec.md's "no delivery guarantee" note for events.
func (c *Client) SendEvent(eventName string, data json.RawMessage) {
	if c.State() != Connected {
		logger.Client().Warn().Str("event", eventName).Msg("dropping event, not connected")
		return
	}
	if err := c.writeFrame(wire.NewEvent(eventName, data, c.Name())); err != nil {
		logger.Client().Warn().Err(err).Str("event", eventName).Msg("failed to send event")
	}
}

// AddHandler installs the local handler that answers peer client_request
// frames naming functionName (spec.md §4.5 "Peer RPC", receiving side).
func (c *Client) AddHandler(functionName string, fn InboundHandler) {
	c.handlers.register(functionName, fn)
}

// RemoveHandler removes a previously installed peer-request handler.
func (c *Client) RemoveHandler(functionName string) {
	c.handlers.remove(functionName)
}

// On subscribes a persistent event handler.
func (c *Client) On(eventName string, fn eventbus.Handler) *eventbus.Subscription {
	return c.events.On(eventName, fn)
}

// Once subscribes a one-shot event handler.
func (c *Client) Once(eventName string, fn eventbus.Handler) *eventbus.Subscription {
	return c.events.Once(eventName, fn)
}

// Off removes a previously installed event subscription.
func (c *Client) Off(eventName string, sub *eventbus.Subscription) {
	c.events.Off(eventName, sub)
}

func (c *Client) newID() string {
	return fmt.Sprintf("c-%s-%d", uuid.NewString()[:8], c.nextID.Add(1))
}

// Disconnect closes the connection intentionally (spec.md §4.7): the
// reconnect loop is suppressed, and all pending requests are rejected.
func (c *Client) Disconnect() error {
	c.recon.disconnect()
	c.stopHeartbeatLoop()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.pending.rejectAll(errs.Connection("client disconnected"))

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// readLoop pumps inbound frames for the lifetime of one connection. It
// returns when the connection closes, at which point the reconnect
// controller decides whether to redial.
func (c *Client) readLoop() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseNoStatusReceived
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			}
			c.stopHeartbeatLoop()
			c.pending.rejectAll(errs.Network(err))
			c.recon.closed(code, err.Error())
			return
		}

		frame, err := wire.Decode(raw)
		if err != nil {
			logger.Client().Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(f wire.Frame) {
	switch f.Type {
	case wire.TypeResponse:
		var err error
		if !f.Success {
			err = errs.Protocol(f.Error)
		}
		c.pending.resolve(f.ID, pendingResult{data: f.Data, err: err})

	case wire.TypeClientRequest:
		go c.handleInboundClientRequest(f)

	case wire.TypeEvent:
		c.events.Emit(f.EventName, f.Data, f.FromClient)

	case wire.TypeHeartbeat:
		if err := c.writeFrame(wire.NewHeartbeatResponse()); err != nil {
			logger.Client().Warn().Err(err).Msg("failed to answer heartbeat")
		}

	case wire.TypeShutdown:
		grace := time.Duration(f.GracePeriod) * time.Millisecond
		if grace <= 0 || grace > 5*time.Second {
			grace = 5 * time.Second
		}
		logger.Client().Info().Str("reason", f.Reason).Dur("grace", grace).Msg("server is shutting down")
		time.AfterFunc(grace, func() { c.Disconnect() })

	case wire.TypeAuth, wire.TypeAuthSuccess:
		// handled synchronously during the handshake; anything arriving
		// here afterwards is stray and ignored.

	default:
		logger.Client().Warn().Str("type", string(f.Type)).Msg("unhandled frame type")
	}
}

func (c *Client) handleInboundClientRequest(f wire.Frame) {
	fn, ok := c.handlers.lookup(f.FunctionName)
	if !ok {
		_ = c.writeFrame(wire.NewResponseError(f.ID, errs.HandlerNotFound(f.FunctionName).Error(), f.FromClient))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()

	data, err := fn(ctx, f.Data, f.FromClient)
	if err != nil {
		_ = c.writeFrame(wire.NewResponseError(f.ID, err.Error(), f.FromClient))
		return
	}
	_ = c.writeFrame(wire.NewResponseOK(f.ID, data, f.FromClient))
}
