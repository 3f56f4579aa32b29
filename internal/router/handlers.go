package router

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/relayhub/relay/internal/session"
)

// HandlerFunc implements one server-side RPC function (spec.md §4.3's
// "request" dispatch). It receives the caller's session so a handler can
// read the authenticated name; returning an error yields a
// `success=false` response frame whose `error` field is err.Error().
type HandlerFunc func(ctx context.Context, data json.RawMessage, caller *session.Session) (json.RawMessage, error)

// handlerTable is the server handler table from spec.md §3 ("Handler
// Tables"): a last-writer-wins name -> function mapping, mutable at any
// point in the server's life.
type handlerTable struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func newHandlerTable() *handlerTable {
	return &handlerTable{handlers: make(map[string]HandlerFunc)}
}

func (t *handlerTable) register(name string, fn HandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[name] = fn
}

func (t *handlerTable) remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, name)
}

func (t *handlerTable) lookup(name string) (HandlerFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.handlers[name]
	return fn, ok
}

// RegisterHandler installs or replaces the server handler for
// functionName.
func (r *Router) RegisterHandler(functionName string, fn HandlerFunc) {
	r.handlers.register(functionName, fn)
}

// RemoveHandler removes the server handler for functionName, if any.
func (r *Router) RemoveHandler(functionName string) {
	r.handlers.remove(functionName)
}
