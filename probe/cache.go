package probe

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jonwraymond/podguard/cache"
)

// CachedResult is one named check's last recorded outcome, as reported by
// /api/probe/status. It is diagnostic only: nothing reads it to decide
// readiness or liveness.
type CachedResult struct {
	Name      string        `json:"name"`
	Ready     bool          `json:"ready"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"durationMs"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// DiagnosticCache memoizes the last result of each named ready check for
// the /api/probe/status endpoint, built on cache.MemoryCache the same way
// a tool-execution cache would be: entries expire after TTL so a stale
// snapshot self-heals once probing resumes, without ever being consulted
// by the readiness decision itself.
type DiagnosticCache struct {
	backend *cache.MemoryCache
	ttl     time.Duration

	mu   sync.Mutex
	keys map[string]struct{}
}

// NewDiagnosticCache creates a DiagnosticCache whose entries expire after
// ttl — SPEC_FULL.md wires this to the configured connection-poll
// interval, so a snapshot is never much staler than the next probe cycle.
func NewDiagnosticCache(ttl time.Duration) *DiagnosticCache {
	return &DiagnosticCache{
		backend: cache.NewMemoryCache(cache.Policy{DefaultTTL: ttl, MaxTTL: ttl}),
		ttl:     ttl,
		keys:    make(map[string]struct{}),
	}
}

// Record stores the outcome of running a named check.
func (d *DiagnosticCache) Record(ctx context.Context, name string, ready bool, message string, duration time.Duration, checkedAt time.Time) {
	if err := cache.ValidateKey(name); err != nil {
		return
	}
	result := CachedResult{Name: name, Ready: ready, Message: message, Duration: duration, CheckedAt: checkedAt}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := d.backend.Set(ctx, name, data, d.ttl); err != nil {
		return
	}
	d.mu.Lock()
	d.keys[name] = struct{}{}
	d.mu.Unlock()
}

// Snapshot returns every unexpired cached result, sorted by name for a
// stable JSON rendering.
func (d *DiagnosticCache) Snapshot() []CachedResult {
	d.mu.Lock()
	names := make([]string, 0, len(d.keys))
	for name := range d.keys {
		names = append(names, name)
	}
	d.mu.Unlock()
	sort.Strings(names)

	ctx := context.Background()
	results := make([]CachedResult, 0, len(names))
	for _, name := range names {
		data, ok := d.backend.Get(ctx, name)
		if !ok {
			d.mu.Lock()
			delete(d.keys, name)
			d.mu.Unlock()
			continue
		}
		var result CachedResult
		if err := json.Unmarshal(data, &result); err != nil {
			continue
		}
		results = append(results, result)
	}
	return results
}

// WrapWithDiagnostics wraps check so every invocation's outcome is
// recorded under name, in addition to being returned normally. It never
// changes the check's boolean/error outcome.
func WrapWithDiagnostics(cache *DiagnosticCache, name string, check ReadyCheck) ReadyCheck {
	return func(ctx context.Context) (bool, error) {
		start := time.Now()
		ok, err := check(ctx)
		duration := time.Since(start)

		message := ""
		if err != nil {
			message = err.Error()
		}
		cache.Record(ctx, name, ok && err == nil, message, duration, start)

		return ok, err
	}
}
