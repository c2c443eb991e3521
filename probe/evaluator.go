// Package probe implements the orchestrator's readiness/liveness decision
// logic: two pure functions of current state (fault, shutdownRequested,
// trackers, user checks) that never themselves mutate state except for
// the one documented side effect of advancing Startup to Running.
package probe

import (
	"context"
	"fmt"

	"github.com/jonwraymond/podguard/phase"
	"github.com/jonwraymond/podguard/resilience"
	"github.com/jonwraymond/podguard/settle"
	"github.com/jonwraymond/podguard/tracker"
)

// ReadyCheck is a user-supplied predicate: does the process consider
// itself ready to receive traffic. It may be asynchronous and may fail.
type ReadyCheck func(ctx context.Context) (bool, error)

// ReadinessResult is checkReadiness()'s full answer: the boolean decision
// plus the fixed reason/status pairing spec.md §4.4/§6 requires, so an
// HTTP adapter needs no translation table.
type ReadinessResult struct {
	Ready      bool
	Reason     string
	StatusCode int
}

// LivenessResult is checkLiveness()'s answer.
type LivenessResult struct {
	Healthy    bool
	Message    string
	StatusCode int
}

// Evaluator implements isReady/checkReadiness/isHealthy/checkLiveness.
// It holds no state of its own beyond its HandlerTimeout: every input is
// read fresh, through the supplied accessor funcs, on every call, which is
// what makes both operations safe to call concurrently with phase
// transitions and tracker mutation.
type Evaluator struct {
	// Fault returns the orchestrator's current unrecoverable fault, or
	// nil. Set once via setUnrecoverableError and never cleared.
	Fault func() error

	// ShutdownRequested reports whether startShutdown has been called.
	ShutdownRequested func() bool

	// Servers returns the currently registered trackers.
	Servers func() []*tracker.ServerTracker

	// ReadyChecks returns the currently registered ready checks, already
	// wrapped in whatever resilience policy the caller wants (see
	// WrapWithCircuitBreaker) — Evaluator itself applies no policy.
	ReadyChecks func() []ReadyCheck

	// Machine is transitioned Startup -> Running by a successful isReady.
	Machine *phase.Machine

	// HandlerTimeout bounds each ready check invocation during the
	// all-settle fan-out. Optional.
	HandlerTimeout *resilience.Timeout
}

// IsReady runs the full decision in spec.md §4.4 and returns just the
// boolean, performing the Startup->Running side effect on success.
func (e *Evaluator) IsReady(ctx context.Context) bool {
	return e.CheckReadiness(ctx).Ready
}

// CheckReadiness runs the full readiness decision and returns the
// reason/status pairing alongside the boolean. An internal panic (e.g. a
// Servers or ReadyChecks accessor misbehaving) is caught and surfaced as
// the same "Unexpected error" result an HTTP adapter would otherwise have
// to construct itself.
func (e *Evaluator) CheckReadiness(ctx context.Context) (result ReadinessResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ReadinessResult{Ready: false, Reason: fmt.Sprintf("Unexpected error: %v", r), StatusCode: 500}
		}
	}()

	if e.Fault() != nil || e.ShutdownRequested() {
		return ReadinessResult{Ready: false, Reason: "Service is closing", StatusCode: 503}
	}

	servers := e.Servers()
	if len(servers) == 0 {
		return ReadinessResult{Ready: false, Reason: "Server not ready", StatusCode: 503}
	}

	checks := e.ReadyChecks()
	boolChecks := make([]settle.BoolCheck, len(checks))
	for i, c := range checks {
		c := c
		boolChecks[i] = func(ctx context.Context) (bool, error) { return c(ctx) }
	}
	if !settle.AllTrue(ctx, boolChecks, settle.Options{Timeout: e.HandlerTimeout}) {
		return ReadinessResult{Ready: false, Reason: "Ready check(s) failed", StatusCode: 503}
	}

	for _, s := range servers {
		if !s.Listening() {
			return ReadinessResult{Ready: false, Reason: "HTTP server not ready", StatusCode: 503}
		}
	}

	if e.Machine.Current() == phase.Startup {
		e.Machine.Transition(ctx, phase.Running)
	}

	return ReadinessResult{Ready: true, Reason: "ready", StatusCode: 200}
}

// IsHealthy reports whether no unrecoverable fault has been set.
func (e *Evaluator) IsHealthy() bool {
	return e.Fault() == nil
}

// CheckLiveness returns the liveness decision plus its fixed message and
// status code.
func (e *Evaluator) CheckLiveness() LivenessResult {
	if err := e.Fault(); err != nil {
		return LivenessResult{Healthy: false, Message: "Unrecoverable error: " + err.Error(), StatusCode: 503}
	}
	return LivenessResult{Healthy: true, Message: "alive", StatusCode: 200}
}

// WrapWithCircuitBreaker wraps a ReadyCheck in a resilience.CircuitBreaker
// so that a dependency check that has failed MaxFailures times in a row
// stops being invoked — and is simply treated as failed — until
// ResetTimeout elapses. This never changes the boolean outcome the spec
// requires; it only bounds the cost of producing it.
func WrapWithCircuitBreaker(check ReadyCheck, cfg resilience.CircuitBreakerConfig) ReadyCheck {
	cb := resilience.NewCircuitBreaker(cfg)
	return func(ctx context.Context) (bool, error) {
		var ok bool
		err := cb.Execute(ctx, func(ctx context.Context) error {
			var checkErr error
			ok, checkErr = check(ctx)
			if checkErr != nil {
				return checkErr
			}
			if !ok {
				return errNotReady
			}
			return nil
		})
		if err != nil {
			return false, err
		}
		return ok, nil
	}
}

type notReadyError struct{}

func (notReadyError) Error() string { return "ready check returned false" }

var errNotReady = notReadyError{}
