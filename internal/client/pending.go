package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/relayhub/relay/internal/errs"
)

type pendingResult struct {
	data json.RawMessage
	err  error
}

type pendingEntry struct {
	resultCh     chan pendingResult
	timer        *time.Timer
	functionName string
}

// pendingTable is the client's in-flight request table (spec.md §3
// "Pending Request", §5 concurrency discipline). Exactly one of
// {reply, deadline, close} resolves any given entry: resolution removes
// the entry from the map first, under the table's mutex, so a second
// caller racing to resolve the same id always finds it already gone and
// becomes a no-op. This is what makes "first writer wins" atomic without
// a separate per-entry flag.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingEntry)}
}

// add registers a new pending entry for id with a deadline timer. Firing
// the timer resolves the entry with a Timeout error if it is still
// outstanding.
func (t *pendingTable) add(id, functionName string, timeout time.Duration) *pendingEntry {
	e := &pendingEntry{
		resultCh:     make(chan pendingResult, 1),
		functionName: functionName,
	}

	t.mu.Lock()
	t.entries[id] = e
	t.mu.Unlock()

	e.timer = time.AfterFunc(timeout, func() {
		t.resolve(id, pendingResult{err: errs.Timeout("request", functionName, timeout.String())})
	})

	return e
}

// resolve settles the entry for id, if it is still outstanding. Returns
// false if id was already resolved or never existed.
func (t *pendingTable) resolve(id string, res pendingResult) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}

	e.timer.Stop()
	e.resultCh <- res
	close(e.resultCh)
	return true
}

// rejectAll settles every still-outstanding entry with err, used when the
// transport closes (spec.md §5: "disconnect() and gracefulShutdown() ...
// promptly settle all pending requests with a terminal error").
func (t *pendingTable) rejectAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		e.resultCh <- pendingResult{err: err}
		close(e.resultCh)
	}
}

// len reports the number of outstanding entries, for tests and metrics.
func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
