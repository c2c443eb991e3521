// Package tracker implements the per-server connection registry that
// tells the shutdown sequencer how many connections must drain before it
// can finish, and that makes in-flight traffic behave correctly once
// shutdown has started.
//
// Its algorithms are the framework-agnostic core described in the
// orchestrator spec §4.2; tracker.HTTPServer is the one adapter that binds
// it to net/http.
package tracker

import (
	"sync"
)

// ConnID uniquely identifies a connection within a ServerTracker. IDs are
// assigned once, at accept time, and never reused.
type ConnID uint64

// Destroyer is the capability to forcibly terminate a connection. The
// hosted server implements this once per connection (for net/http, by
// closing the underlying net.Conn).
type Destroyer interface {
	Destroy()
}

// connectionRecord is the tracker's side table entry for one connection.
// Spec §9 calls this out explicitly: rather than mutating fields on a
// socket object, the tracker keeps its own table keyed by ConnID.
type connectionRecord struct {
	id            ConnID
	idle          bool
	isHealthCheck bool
	destroy       Destroyer
}

// ServerTracker is the per-server registry of live connections, each
// tagged idle/active/health-check. It owns its connection map
// exclusively; nothing outside this package mutates a record's idle or
// isHealthCheck fields.
type ServerTracker struct {
	mu              sync.Mutex
	name            string
	connections     map[ConnID]*connectionRecord
	healthCheckURLs map[string]struct{}
	isShuttingDown  bool
	nextID          ConnID
	listening       bool
	stopListening   func()
}

// Config configures a ServerTracker.
type Config struct {
	// Name identifies the tracker in logs and the /api/probe/status
	// snapshot. Optional.
	Name string

	// HealthCheckURLs are request paths treated as health-check traffic;
	// connections currently serving one of these never count toward
	// activeConnectionCount.
	HealthCheckURLs []string

	// StopListening is invoked once by ForceClose, if set, to tell the
	// hosted server to stop accepting new connections. Optional: some
	// hosted servers (e.g. one already closed by its own shutdown path)
	// have nothing to do here.
	StopListening func()
}

// New creates a ServerTracker. The tracker starts in the listening state;
// call SetListening(false) if the caller learns the underlying server has
// stopped accepting connections before shutdown.
func New(cfg Config) *ServerTracker {
	urls := make(map[string]struct{}, len(cfg.HealthCheckURLs))
	for _, u := range cfg.HealthCheckURLs {
		urls[u] = struct{}{}
	}
	return &ServerTracker{
		name:            cfg.Name,
		connections:     make(map[ConnID]*connectionRecord),
		healthCheckURLs: urls,
		listening:       true,
		stopListening:   cfg.StopListening,
	}
}

// Name returns the tracker's configured name.
func (t *ServerTracker) Name() string {
	return t.name
}

// SetListening records whether the underlying server is still accepting
// connections. isReady() consults this per spec §4.4 step 4.
func (t *ServerTracker) SetListening(listening bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listening = listening
}

// Listening reports whether the underlying server is still accepting
// connections.
func (t *ServerTracker) Listening() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listening
}

// OnConnection registers a newly accepted connection, idle and not a
// health check, and returns its id. Calling OnConnection twice for the
// same logical connection (duplicate accept events) is the caller's
// responsibility to avoid; the tracker always assigns a fresh id.
func (t *ServerTracker) OnConnection(destroy Destroyer) ConnID {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.connections[id] = &connectionRecord{
		id:      id,
		idle:    true,
		destroy: destroy,
	}
	return id
}

// RequestResult tells the caller how to respond to a request-begin event.
type RequestResult struct {
	// Reject is true when the tracker is shutting down and this is not a
	// health-check request: the caller must respond 503 "Closing", add a
	// connection-close directive, flush, and then call Destroy on the
	// connection.
	Reject bool
}

// OnRequestBegin marks the connection identified by id as active (unless
// it matches a configured health-check URL, in which case it is tagged
// isHealthCheck and never becomes "active") and reports whether the
// request should be rejected because shutdown is in progress.
//
// If id is unknown (the connection was never registered, or was already
// removed), OnRequestBegin registers a fresh record so the request can
// still be tracked, per spec §4.2's "creating one if somehow absent".
func (t *ServerTracker) OnRequestBegin(id ConnID, path string, destroy Destroyer) RequestResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.connections[id]
	if !ok {
		rec = &connectionRecord{id: id, destroy: destroy}
		t.connections[id] = rec
	}

	_, rec.isHealthCheck = t.healthCheckURLs[path]

	if t.isShuttingDown && !rec.isHealthCheck {
		delete(t.connections, id)
		return RequestResult{Reject: true}
	}

	rec.idle = false
	return RequestResult{}
}

// OnResponseFinish marks the connection idle again. If shutdown is in
// progress the caller must destroy the connection immediately afterward
// to deny keepalive reuse; OnResponseFinish reports whether that is
// required.
func (t *ServerTracker) OnResponseFinish(id ConnID) (destroyNow bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.connections[id]
	if !ok {
		return false
	}
	rec.idle = true
	return t.isShuttingDown
}

// OnClose removes the connection's record. Safe to call even if the
// record was already removed (e.g. by OnRequestBegin's immediate-reject
// path or ForceClose).
func (t *ServerTracker) OnClose(id ConnID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.connections, id)
}

// RequestShutdown marks the tracker as shutting down and destroys every
// currently idle connection (non-health requests from here on are
// rejected by OnRequestBegin; active requests are left to finish).
func (t *ServerTracker) RequestShutdown() {
	t.mu.Lock()
	t.isShuttingDown = true

	var toDestroy []*connectionRecord
	for id, rec := range t.connections {
		if rec.idle {
			toDestroy = append(toDestroy, rec)
			delete(t.connections, id)
		}
	}
	t.mu.Unlock()

	for _, rec := range toDestroy {
		if rec.destroy != nil {
			rec.destroy.Destroy()
		}
	}
}

// ForceClose marks the tracker as shutting down (if not already), tells
// the hosted server to stop listening, and destroys every remaining
// connection regardless of state.
func (t *ServerTracker) ForceClose() {
	t.mu.Lock()
	t.isShuttingDown = true
	t.listening = false
	stop := t.stopListening

	all := make([]*connectionRecord, 0, len(t.connections))
	for _, rec := range t.connections {
		all = append(all, rec)
	}
	t.connections = make(map[ConnID]*connectionRecord)
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, rec := range all {
		if rec.destroy != nil {
			rec.destroy.Destroy()
		}
	}
}

// IsShuttingDown reports whether RequestShutdown or ForceClose has run.
func (t *ServerTracker) IsShuttingDown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isShuttingDown
}

// ConnectionCount returns the number of tracked connections.
func (t *ServerTracker) ConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.connections)
}

// ActiveConnectionCount returns the number of connections that are
// neither idle nor a health check.
func (t *ServerTracker) ActiveConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, rec := range t.connections {
		if !rec.idle && !rec.isHealthCheck {
			n++
		}
	}
	return n
}

// Contains reports whether id is currently tracked. Exposed for tests
// asserting spec §8's "after ForceClose, c is not in any tracker's
// mapping" property.
func (t *ServerTracker) Contains(id ConnID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.connections[id]
	return ok
}
