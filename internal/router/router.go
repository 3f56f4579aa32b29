// Package router implements the central dispatch described in spec.md
// §4.3: server-handler invocation for `request` frames, two-hop
// correlation for `client_request`/`response` peer RPC, and fan-out for
// `event` frames.
package router

import (
	"context"
	"encoding/json"

	"github.com/relayhub/relay/internal/errs"
	"github.com/relayhub/relay/internal/eventbus"
	"github.com/relayhub/relay/internal/logger"
	"github.com/relayhub/relay/internal/session"
	"github.com/relayhub/relay/internal/wire"
)

// AuditSink receives a best-effort copy of routed outcomes for external
// telemetry (SPEC_FULL.md §4.9). It must never block or error out of the
// router's hot path — implementations degrade silently.
type AuditSink interface {
	RecordEvent(name string, data json.RawMessage, fromClient string)
	RecordRPC(id, functionName string, success bool)
}

// Router owns the session registry and the server event bus, and is the
// sole place frames from an authenticated session are dispatched through.
type Router struct {
	registry *session.Registry
	bus      *eventbus.Bus
	handlers *handlerTable
	audit    AuditSink
}

// New creates a Router bound to registry. It constructs its own server
// event bus — the one reusable eventbus.Bus abstraction shared with the
// client event bus (internal/client) — for local, in-process dispatch
// only. Cross-session fan-out of inbound client `event` frames is done
// explicitly in handleEvent, alongside the local Emit, never by the bus
// itself: server-internal lifecycle notifications (clientConnected,
// clientDisconnected, clientTimeout) are also emitted on this same bus
// and must never reach another session's wire connection (spec.md §4.6,
// §6).
func New(registry *session.Registry) *Router {
	r := &Router{
		registry: registry,
		handlers: newHandlerTable(),
	}
	r.bus = eventbus.New()
	r.bus.OnError(func(eventName string, err error) {
		logger.Router().Warn().Str("event", eventName).Err(err).Msg("event bus error")
	})
	return r
}

// EventBus returns the router's server-side event bus, so server code can
// subscribe to client-originated events (spec.md §4.6).
func (r *Router) EventBus() *eventbus.Bus {
	return r.bus
}

// SetAuditSink installs the audit sink. A nil sink (the default) disables
// audit recording entirely.
func (r *Router) SetAuditSink(sink AuditSink) {
	r.audit = sink
}

// Dispatch routes a single frame received from an already-authenticated
// caller. Frame types outside {request, client_request, response, event}
// are logged and dropped — the pre-auth/auth handshake and heartbeat
// frames are handled by the session's own read loop, not the router.
func (r *Router) Dispatch(ctx context.Context, caller *session.Session, f wire.Frame) {
	switch f.Type {
	case wire.TypeRequest:
		r.handleRequest(ctx, caller, f)
	case wire.TypeClientRequest:
		r.handleClientRequest(caller, f)
	case wire.TypeResponse:
		r.handleResponseForward(f)
	case wire.TypeEvent:
		r.handleEvent(caller, f)
	default:
		logger.Router().Warn().
			Str("type", string(f.Type)).
			Str("from", caller.Name()).
			Msg("dropping frame of unexpected type at router")
	}
}

func (r *Router) handleRequest(ctx context.Context, caller *session.Session, f wire.Frame) {
	handler, ok := r.handlers.lookup(f.FunctionName)
	if !ok {
		_ = caller.Send(wire.NewResponseError(f.ID, errs.HandlerNotFound(f.FunctionName).Message, ""))
		r.recordRPC(f.ID, f.FunctionName, false)
		return
	}

	// Handlers may be asynchronous; running them off the dispatch
	// goroutine keeps one slow handler from stalling the caller's other
	// in-flight requests and events.
	go func() {
		data, err := handler(ctx, f.Data, caller)

		var resp wire.Frame
		if err != nil {
			resp = wire.NewResponseError(f.ID, err.Error(), "")
		} else {
			resp = wire.NewResponseOK(f.ID, data, "")
		}

		if sendErr := caller.Send(resp); sendErr != nil {
			logger.Router().Warn().Err(sendErr).Str("id", f.ID).Msg("failed to deliver response")
		}
		r.recordRPC(f.ID, f.FunctionName, err == nil)
	}()
}

func (r *Router) handleClientRequest(caller *session.Session, f wire.Frame) {
	target, ok := r.registry.Lookup(f.TargetClient)
	if !ok {
		_ = caller.Send(wire.NewResponseError(f.ID, errs.TargetNotFound(f.TargetClient).Message, ""))
		return
	}

	forwarded := wire.NewClientRequest(f.ID, f.FunctionName, f.TargetClient, caller.Name(), f.Data)
	if err := target.Send(forwarded); err != nil {
		_ = caller.Send(wire.NewResponseError(f.ID, errs.TargetUnavailable(f.TargetClient).Message, ""))
	}
}

func (r *Router) handleResponseForward(f wire.Frame) {
	if f.OriginalFromClient == "" {
		return
	}

	target, ok := r.registry.Lookup(f.OriginalFromClient)
	if !ok {
		return
	}

	if err := target.Send(f); err != nil {
		logger.Router().Warn().Err(err).Str("id", f.ID).Msg("failed to forward peer response")
	}
}

// handleEvent is the only caller of broadcastEvent: an inbound client
// `event` frame both fires local server-side subscribers (r.bus.Emit) and
// fans out to every other authenticated session. Server-internal Emits
// (clientConnected/clientDisconnected/clientTimeout) never go through
// this path, so they never reach another session's wire connection.
func (r *Router) handleEvent(caller *session.Session, f wire.Frame) {
	r.bus.Emit(f.EventName, f.Data, caller.Name())
	r.broadcastEvent(f.EventName, f.Data, caller.Name())
	if r.audit != nil {
		r.audit.RecordEvent(f.EventName, f.Data, caller.Name())
	}
}

// broadcastEvent re-delivers an `event` frame to every authenticated
// session except the originator, regardless of whether that session also
// has a local subscriber for the event name (spec.md §4.3's fan-out
// applies unconditionally to inbound client events).
func (r *Router) broadcastEvent(name string, data json.RawMessage, fromClient string) {
	frame := wire.NewEvent(name, data, fromClient)
	for _, s := range r.registry.Snapshot() {
		if !s.Authenticated() || s.Name() == fromClient {
			continue
		}
		if err := s.Send(frame); err != nil {
			logger.Router().Warn().Err(err).Str("to", s.Name()).Msg("failed to fan out event")
		}
	}
}

func (r *Router) recordRPC(id, functionName string, success bool) {
	if r.audit != nil {
		r.audit.RecordRPC(id, functionName, success)
	}
}
