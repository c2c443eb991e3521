package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jonwraymond/podguard/phase"
	"github.com/jonwraymond/podguard/resilience"
	"github.com/jonwraymond/podguard/tracker"
)

// ReadyHandler serves GET /api/probe/ready: 200 "ready" or 503 <reason>.
func ReadyHandler(e *Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := e.CheckReadiness(r.Context())
		w.WriteHeader(result.StatusCode)
		fmt.Fprint(w, result.Reason)
	}
}

// LiveHandler serves GET /api/probe/live: 200 "alive" or 503 <message>.
func LiveHandler(e *Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := e.CheckLiveness()
		w.WriteHeader(result.StatusCode)
		fmt.Fprint(w, result.Message)
	}
}

const defaultTestDurationMs = 10000

// TestHandlerConfig configures TestHandler's resilience guard: the
// handler exists to let an operator manually exercise slow-drain and
// connection-tracking behavior, so it is deliberately the one endpoint
// guarded by a rate limiter and bulkhead — a burst of manual pokes must
// never let an operator accidentally load-test the process.
type TestHandlerConfig struct {
	RateLimiter *resilience.RateLimiter
	Bulkhead    *resilience.Bulkhead
}

// TestHandler serves GET /api/probe/test?t=<ms>: writes "Waiting for
// <ms>ms...\n", sleeps, then writes "Done\n". It is wrapped in a
// resilience.Executor composing the configured RateLimiter and Bulkhead;
// a rejection is reported as 429.
func TestHandler(cfg TestHandlerConfig) http.HandlerFunc {
	opts := make([]resilience.ExecutorOption, 0, 2)
	if cfg.RateLimiter != nil {
		opts = append(opts, resilience.WithRateLimiter(cfg.RateLimiter))
	}
	if cfg.Bulkhead != nil {
		opts = append(opts, resilience.WithBulkhead(cfg.Bulkhead))
	}
	executor := resilience.NewExecutor(opts...)

	return func(w http.ResponseWriter, r *http.Request) {
		ms := defaultTestDurationMs
		if raw := r.URL.Query().Get("t"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
				ms = parsed
			}
		}

		err := executor.Execute(r.Context(), func(ctx context.Context) error {
			fmt.Fprintf(w, "Waiting for %dms...\n", ms)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			fmt.Fprint(w, "Done\n")
			return nil
		})

		if err != nil && (errors.Is(err, resilience.ErrRateLimitExceeded) || errors.Is(err, resilience.ErrBulkheadFull)) {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, "Too many requests")
		}
	}
}

// ServerStatus is one tracker's entry in the /api/probe/status snapshot.
type ServerStatus struct {
	Name                  string `json:"name"`
	Listening             bool   `json:"listening"`
	ConnectionCount       int    `json:"connectionCount"`
	ActiveConnectionCount int    `json:"activeConnectionCount"`
}

// StatusResponse is the JSON body served by /api/probe/status.
type StatusResponse struct {
	Phase             string         `json:"phase"`
	ShutdownRequested bool           `json:"shutdownRequested"`
	Fault             string         `json:"fault,omitempty"`
	Servers           []ServerStatus `json:"servers"`
	Diagnostics       []CachedResult `json:"diagnostics,omitempty"`
}

// StatusHandlerConfig configures StatusHandler.
type StatusHandlerConfig struct {
	Machine           *phase.Machine
	ShutdownRequested func() bool
	Fault             func() error
	Servers           func() []*tracker.ServerTracker
	Diagnostics       *DiagnosticCache
}

// StatusHandler serves GET /api/probe/status: a JSON snapshot of phase,
// shutdown state, fault, per-server connection counts, and the last
// cached diagnostic detail for each named check. It is purely
// observational — nothing it reports gates readiness or liveness.
func StatusHandler(cfg StatusHandlerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Phase:             cfg.Machine.Current().String(),
			ShutdownRequested: cfg.ShutdownRequested(),
		}
		if err := cfg.Fault(); err != nil {
			resp.Fault = err.Error()
		}
		for _, s := range cfg.Servers() {
			resp.Servers = append(resp.Servers, ServerStatus{
				Name:                  s.Name(),
				Listening:             s.Listening(),
				ConnectionCount:       s.ConnectionCount(),
				ActiveConnectionCount: s.ActiveConnectionCount(),
			})
		}
		if cfg.Diagnostics != nil {
			resp.Diagnostics = cfg.Diagnostics.Snapshot()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
