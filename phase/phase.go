// Package phase implements the orchestrator's lifecycle state machine: the
// single source of truth for which of Startup, Running, ShutdownRequested,
// Draining, or Final the process is in, and the ordered fan-out of
// transition listeners.
package phase

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonwraymond/podguard/resilience"
	"github.com/jonwraymond/podguard/settle"
)

// Phase is one state in the orchestrator's lifecycle. Phase values are
// ordinally monotonic: a Machine only ever transitions to a Phase with a
// higher ordinal than its current one.
type Phase int

const (
	Startup Phase = iota
	Running
	ShutdownRequested
	Draining
	Final
)

// String returns the phase's name.
func (p Phase) String() string {
	switch p {
	case Startup:
		return "Startup"
	case Running:
		return "Running"
	case ShutdownRequested:
		return "ShutdownRequested"
	case Draining:
		return "Draining"
	case Final:
		return "Final"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Listener observes a phase transition. Per spec §4.3, a failing listener
// is logged but never aborts the transition or its peers.
type Listener func(ctx context.Context, newPhase, oldPhase Phase) error

// Machine is the phase state machine. It is safe for concurrent use; a
// single mutex serializes the current phase and the listener list, and is
// never held while listeners run.
type Machine struct {
	mu        sync.Mutex
	current   Phase
	listeners []Listener

	onFailure func(index int, err error)
	timeout   *resilience.Timeout
}

// NewMachine creates a Machine starting in Startup. onFailure, if non-nil,
// is called once per failing listener during a transition, with the
// listener's registration index — wired by the root package to the
// configured exception sink.
func NewMachine(onFailure func(index int, err error)) *Machine {
	return &Machine{onFailure: onFailure}
}

// Current returns the machine's current phase.
func (m *Machine) Current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SetTimeout bounds every listener invocation by t; a listener that exceeds
// it is treated as failed for that transition, same as any other error. Pass
// nil (the default) to run listeners with no per-call deadline.
func (m *Machine) SetTimeout(t *resilience.Timeout) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = t
}

// OnTransition registers a listener, appended to the existing list.
func (m *Machine) OnTransition(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Transition moves the machine to target. It is a no-op if the machine is
// already in target. Listeners are fanned out via settle.Run: every
// listener registered at the time Transition is called runs concurrently,
// Transition waits for all of them, and one listener failing never
// prevents its peers from running.
//
// Transition does not enforce forward-only ordering itself — the spec's
// "ordinally monotonic" invariant is a property of how the root package
// sequences calls to Transition (Startup→Running, then the fixed
// ShutdownRequested→Draining→Final chain), not a check Machine performs,
// mirroring the original design's lack of a guard here.
func (m *Machine) Transition(ctx context.Context, target Phase) {
	m.mu.Lock()
	old := m.current
	if old == target {
		m.mu.Unlock()
		return
	}
	m.current = target
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	timeout := m.timeout
	m.mu.Unlock()

	if len(listeners) == 0 {
		return
	}

	handlers := make([]settle.Handler, len(listeners))
	for i, l := range listeners {
		l := l
		handlers[i] = func(ctx context.Context) error {
			return l(ctx, target, old)
		}
	}

	settle.Run(ctx, handlers, settle.Options{OnFailure: m.onFailure, Timeout: timeout})
}
