// Package shutdown implements the orchestrator's shutdown sequencer: the
// timer-driven state machine that takes the process from a live
// ShutdownRequested signal through a bounded connection drain to a final,
// guaranteed process exit.
package shutdown

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/jonwraymond/podguard/clock"
	"github.com/jonwraymond/podguard/phase"
	"github.com/jonwraymond/podguard/resilience"
	"github.com/jonwraymond/podguard/settle"
	"github.com/jonwraymond/podguard/tracker"
)

// Logger is the minimal surface the sequencer needs to report diagnostic
// and failure events. observe.Logger satisfies it.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...any)
	Warn(ctx context.Context, msg string, fields ...any)
	Error(ctx context.Context, msg string, fields ...any)
}

// Exiter abstracts process termination so tests never actually exit.
type Exiter func(code int)

// Config configures a Sequencer. All durations mirror spec §4.5's named
// timers.
type Config struct {
	Clock  clock.Clock
	Phase  *phase.Machine
	Logger Logger
	Exit   Exiter

	// Phase1DurationMs is how long ShutdownRequested is held before
	// Draining begins, giving in-flight load balancer state time to
	// notice the readiness flip. Default 1.5 * readiness interval.
	Phase1DurationMs int64

	// ConnectionPollMs is the drain-poll interval.
	ConnectionPollMs int64

	// DrainTimeoutMs is the hard deadline after which finishShutdown runs
	// regardless of remaining connections or failing checks.
	DrainTimeoutMs int64

	// ForceExitGraceMs is how long shutdown callbacks get to run before
	// the process is unconditionally terminated.
	ForceExitGraceMs int64

	// DevMode, when true, makes SetUnrecoverableError exit(1) immediately.
	DevMode bool

	// Servers are polled for active connection counts and told to drain.
	Servers func() []*tracker.ServerTracker

	// ShutdownReadyChecks gate finishShutdown during the drain poll.
	ShutdownReadyChecks func() []settle.BoolCheck

	// ShutdownCallbacks run once, all-settle, during finishShutdown.
	ShutdownCallbacks func() []settle.Handler

	// HandlerTimeout bounds each ShutdownReadyChecks/ShutdownCallbacks
	// invocation, same as it bounds ready checks in probe.Evaluator. Nil
	// disables the bound.
	HandlerTimeout *resilience.Timeout

	// StartSpan, if set, opens a child span named name and returns a ctx
	// carrying it plus the function that ends it. Used to nest
	// enterDraining/finishShutdown under the caller's shutdown trace.
	StartSpan func(ctx context.Context, name string) (context.Context, func())

	// RecordDrainDuration, if set, is called once with the time elapsed
	// between entering Draining and finishShutdown running.
	RecordDrainDuration func(d time.Duration)
}

// Sequencer drives the Draining/Final half of the lifecycle. Every
// mutation of its own fields happens under mu; scheduled callbacks read
// configuration through the accessor funcs in Config so the orchestrator
// can register servers/checks/callbacks after the Sequencer is created.
type Sequencer struct {
	cfg Config

	mutex             sync.Mutex
	shutdownRequested bool
	fault             error
	drainStart        time.Time

	drainPollCancel    clock.CancelFunc
	drainTimeoutCancel clock.CancelFunc
}

// New creates a Sequencer in its initial (not-yet-shutting-down) state.
func New(cfg Config) *Sequencer {
	if cfg.Phase1DurationMs <= 0 {
		cfg.Phase1DurationMs = 1500
	}
	if cfg.ConnectionPollMs <= 0 {
		cfg.ConnectionPollMs = 1000
	}
	if cfg.DrainTimeoutMs <= 0 {
		cfg.DrainTimeoutMs = 540000
	}
	if cfg.ForceExitGraceMs <= 0 {
		cfg.ForceExitGraceMs = 5000
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	if cfg.StartSpan == nil {
		cfg.StartSpan = func(ctx context.Context, name string) (context.Context, func()) {
			return ctx, func() {}
		}
	}
	if cfg.RecordDrainDuration == nil {
		cfg.RecordDrainDuration = func(time.Duration) {}
	}
	return &Sequencer{cfg: cfg}
}

// ShutdownRequested reports whether StartShutdown has been called.
func (s *Sequencer) ShutdownRequested() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.shutdownRequested
}

// Fault returns the stored unrecoverable error, or nil.
func (s *Sequencer) Fault() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.fault
}

func ms(n int64) time.Duration { return time.Duration(n) * time.Millisecond }

// StartShutdown is the entry point bound to both a manual trigger and the
// process termination signal. A second call while shutdown is already in
// progress terminates the process immediately with code -127, per spec.
func (s *Sequencer) StartShutdown(ctx context.Context) {
	s.mutex.Lock()
	if s.shutdownRequested {
		s.mutex.Unlock()
		s.cfg.Logger.Error(ctx, "shutdown requested a second time, terminating immediately")
		s.cfg.Exit(-127)
		return
	}
	s.shutdownRequested = true
	s.mutex.Unlock()

	s.cfg.Phase.Transition(ctx, phase.ShutdownRequested)
	s.cfg.Clock.Schedule(ms(s.cfg.Phase1DurationMs), func() {
		s.enterDraining(ctx)
	})
}

// enterDraining is Phase 2: sockets stop accepting idle traffic, drain
// polling begins, and the hard deadline is armed.
func (s *Sequencer) enterDraining(ctx context.Context) {
	ctx, endSpan := s.cfg.StartSpan(ctx, "podguard.shutdown.enterDraining")
	defer endSpan()

	s.cfg.Phase.Transition(ctx, phase.Draining)

	for _, t := range s.cfg.Servers() {
		t.RequestShutdown()
	}

	s.mutex.Lock()
	s.drainStart = s.cfg.Clock.Now()
	s.drainPollCancel = s.cfg.Clock.Schedule(ms(s.cfg.ConnectionPollMs), func() {
		s.drainPoll(ctx)
	})
	s.drainTimeoutCancel = s.cfg.Clock.Schedule(ms(s.cfg.DrainTimeoutMs), func() {
		s.cfg.Logger.Warn(ctx, "drain timeout reached, forcing shutdown")
		s.finishShutdown(ctx)
	})
	s.mutex.Unlock()
}

// drainPoll checks whether every connection has drained and every
// shutdown-ready check passes; if not, it reschedules itself.
func (s *Sequencer) drainPoll(ctx context.Context) {
	active := 0
	for _, t := range s.cfg.Servers() {
		active += t.ActiveConnectionCount()
	}

	checksPass := true
	if s.cfg.ShutdownReadyChecks != nil {
		checksPass = settle.AllTrue(ctx, s.cfg.ShutdownReadyChecks(), settle.Options{Timeout: s.cfg.HandlerTimeout})
	}

	if active == 0 && checksPass {
		s.finishShutdown(ctx)
		return
	}

	s.cfg.Logger.Info(ctx, "drain still in progress", "activeConnections", active, "checksPass", checksPass)

	s.mutex.Lock()
	s.drainPollCancel = s.cfg.Clock.Schedule(ms(s.cfg.ConnectionPollMs), func() {
		s.drainPoll(ctx)
	})
	s.mutex.Unlock()
}

// finishShutdown is Phase 3. It is idempotent: the phase machine's
// same-phase no-op plus timer cancellation here ensure it has effect only
// once, however many of drainPoll/the drain-timeout timer/a second
// drainPoll race to call it.
func (s *Sequencer) finishShutdown(ctx context.Context) {
	s.mutex.Lock()
	if s.cfg.Phase.Current() == phase.Final {
		s.mutex.Unlock()
		return
	}
	if s.drainPollCancel != nil {
		s.drainPollCancel()
		s.drainPollCancel = nil
	}
	if s.drainTimeoutCancel != nil {
		s.drainTimeoutCancel()
		s.drainTimeoutCancel = nil
	}
	drainStart := s.drainStart
	s.mutex.Unlock()

	ctx, endSpan := s.cfg.StartSpan(ctx, "podguard.shutdown.finishShutdown")
	defer endSpan()

	if !drainStart.IsZero() {
		s.cfg.RecordDrainDuration(s.cfg.Clock.Now().Sub(drainStart))
	}

	s.cfg.Phase.Transition(ctx, phase.Final)

	for _, t := range s.cfg.Servers() {
		t.ForceClose()
	}

	if s.cfg.ShutdownCallbacks != nil {
		settle.Run(ctx, s.cfg.ShutdownCallbacks(), settle.Options{
			Timeout: s.cfg.HandlerTimeout,
			OnFailure: func(index int, err error) {
				s.cfg.Logger.Error(ctx, "shutdown callback failed", "index", index, "error", err)
			},
		})
	}

	s.cfg.Clock.Schedule(ms(s.cfg.ForceExitGraceMs), func() {
		s.cfg.Exit(0)
	})
}

// SetUnrecoverableError stores err and logs it. In devMode it exits the
// process with code 1 immediately; otherwise the fault is surfaced only
// through the liveness probe, and no shutdown is initiated automatically.
func (s *Sequencer) SetUnrecoverableError(ctx context.Context, err error) {
	s.mutex.Lock()
	s.fault = err
	s.mutex.Unlock()

	s.cfg.Logger.Error(ctx, "unrecoverable error", "error", err)

	if s.cfg.DevMode {
		s.cfg.Exit(1)
	}
}
