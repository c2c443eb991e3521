// Package settle implements the orchestrator's one concurrency discipline:
// run every handler in a list, wait for all of them, collect each one's
// outcome, and never let one handler's failure or slowness stop its peers
// from running. Every handler list in the spec — ready checks, shutdown
// callbacks, shutdown-ready checks, phase listeners — fans out through
// this package.
//
// The fan-out shape is grounded on the teacher's health.Aggregator.CheckAll:
// a WaitGroup over goroutines writing into a pre-sized, index-addressed
// slice, so no result lock contends on the hot path.
package settle

import (
	"context"
	"sync"

	"github.com/jonwraymond/podguard/resilience"
)

// Handler is one unit of work run by Run. Handlers are invoked in
// registration order (goroutines are started in slice order) but may
// complete in any order.
type Handler func(ctx context.Context) error

// Outcome is one handler's result.
type Outcome struct {
	Index int
	Err   error
}

// Failed reports whether this outcome should count as a failure for
// all-settle purposes.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Options configures a Run call.
type Options struct {
	// Timeout bounds each individual handler invocation. Zero disables
	// the bound. Grounded on resilience.Timeout: a hung handler is
	// reported as a failed outcome rather than stalling the round.
	Timeout *resilience.Timeout

	// OnFailure, if set, is invoked once per failing handler (including
	// timeouts) as soon as it is known to have failed. Callers use this
	// to log "listener %d failed: %v" per spec.md §4.3/§7 without Run
	// needing to know about logging.
	OnFailure func(index int, err error)
}

// Run invokes every handler concurrently and waits for all of them to
// finish (or be timed out per Options.Timeout) before returning. The
// returned slice is indexed identically to handlers.
func Run(ctx context.Context, handlers []Handler, opts Options) []Outcome {
	outcomes := make([]Outcome, len(handlers))
	if len(handlers) == 0 {
		return outcomes
	}

	var wg sync.WaitGroup
	wg.Add(len(handlers))

	for i, h := range handlers {
		go func(i int, h Handler) {
			defer wg.Done()

			var err error
			if opts.Timeout != nil {
				err = opts.Timeout.Execute(ctx, func(ctx context.Context) error {
					return runGuarded(ctx, h)
				})
			} else {
				err = runGuarded(ctx, h)
			}

			outcomes[i] = Outcome{Index: i, Err: err}
			if err != nil && opts.OnFailure != nil {
				opts.OnFailure(i, err)
			}
		}(i, h)
	}

	wg.Wait()
	return outcomes
}

// runGuarded recovers a panicking handler into an error outcome, since a
// user-supplied callback panicking must never take down the orchestrator
// or abort sibling handlers.
func runGuarded(ctx context.Context, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{recovered: r}
		}
	}()
	return h(ctx)
}

type panicError struct {
	recovered any
}

func (p panicError) Error() string {
	return errorFromPanic(p.recovered)
}

func errorFromPanic(r any) string {
	if err, ok := r.(error); ok {
		return "panic: " + err.Error()
	}
	return "panic: " + toString(r)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "non-string panic value"
}

// BoolCheck is a user-supplied predicate such as a ready check or a
// shutdown-ready check: it may fail (return an error) or simply return
// false, both of which count as "did not pass" for AllTrue.
type BoolCheck func(ctx context.Context) (bool, error)

// AllTrue runs every check via Run and reports whether every one of them
// both succeeded and returned true. An empty check list passes vacuously,
// matching spec.md's "run every readyCheck... passed iff every result is
// fulfilled && value === true" (vacuously true over an empty list).
func AllTrue(ctx context.Context, checks []BoolCheck, opts Options) bool {
	if len(checks) == 0 {
		return true
	}

	results := make([]bool, len(checks))
	handlers := make([]Handler, len(checks))
	for i, check := range checks {
		i, check := i, check
		handlers[i] = func(ctx context.Context) error {
			ok, err := check(ctx)
			if err != nil {
				return err
			}
			results[i] = ok
			if !ok {
				return errCheckFalse
			}
			return nil
		}
	}

	Run(ctx, handlers, opts)

	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

var errCheckFalse = checkFalseError{}

type checkFalseError struct{}

func (checkFalseError) Error() string { return "check returned false" }
