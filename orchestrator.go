// Package podguard is a Kubernetes-style lifecycle orchestrator: it tracks
// a process through Startup, Running, ShutdownRequested, Draining, and
// Final, serves the readiness/liveness probes a container platform polls,
// and coordinates a bounded connection drain before the process exits.
//
// An Orchestrator is the single mutable-state owner (spec.md §5); every
// other package in this module (clock, tracker, phase, probe, settle,
// shutdown) is a stateless or narrowly-scoped collaborator it wires
// together.
package podguard

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonwraymond/podguard/auth"
	"github.com/jonwraymond/podguard/clock"
	"github.com/jonwraymond/podguard/health"
	"github.com/jonwraymond/podguard/observe"
	"github.com/jonwraymond/podguard/phase"
	"github.com/jonwraymond/podguard/probe"
	"github.com/jonwraymond/podguard/resilience"
	"github.com/jonwraymond/podguard/settle"
	"github.com/jonwraymond/podguard/shutdown"
	"github.com/jonwraymond/podguard/tracker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// Orchestrator is the lifecycle orchestrator singleton. Create one with
// New, register servers and callbacks, then call Run (or wire Start/Wait
// manually) and install signal handling via ListenForShutdownSignals.
type Orchestrator struct {
	mu sync.Mutex

	cfg         Config
	observer    observe.Observer
	clock       clock.Clock
	machine     *phase.Machine
	sequencer   *shutdown.Sequencer
	evaluator   *probe.Evaluator
	diagnostics *probe.DiagnosticCache

	servers             []*tracker.ServerTracker
	readyChecks         []probe.ReadyCheck
	shutdownReadyChecks []settle.BoolCheck
	shutdownCallbacks   []settle.Handler

	exceptionSink func(ctx context.Context, err error)

	handlerTimeout *resilience.Timeout

	// readySF collapses concurrent IsReady callers onto a single
	// CheckReadiness evaluation, so a burst of simultaneous probe requests
	// doesn't run every registered dependency check once per request.
	readySF singleflight.Group

	readyCounter   metric.Int64Counter
	liveCounter    metric.Int64Counter
	drainHistogram metric.Float64Histogram
}

// New creates an Orchestrator wired from cfg and observer. observer may be
// a no-op Observer (see observe.NewObserver with all subsystems disabled)
// when telemetry isn't needed.
func New(cfg Config, observer observe.Observer) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		observer: observer,
		clock:    clock.NewSystemClock(),
	}
	handlerTimeoutMs := cfg.HandlerTimeoutMs
	if handlerTimeoutMs <= 0 {
		handlerTimeoutMs = 10000
	}
	connectionPollMs := cfg.ConnectionPollMs
	if connectionPollMs <= 0 {
		connectionPollMs = 1000
	}
	o.machine = phase.NewMachine(o.onListenerFailure)
	o.handlerTimeout = resilience.NewTimeout(resilience.TimeoutConfig{
		Timeout: time.Duration(handlerTimeoutMs) * time.Millisecond,
	})
	o.machine.SetTimeout(o.handlerTimeout)
	o.diagnostics = probe.NewDiagnosticCache(time.Duration(connectionPollMs) * time.Millisecond)

	o.evaluator = &probe.Evaluator{
		Fault:             func() error { return o.Fault() },
		ShutdownRequested: func() bool { return o.sequencer.ShutdownRequested() },
		Servers:           o.Servers,
		ReadyChecks:       o.ReadyChecks,
		Machine:           o.machine,
		HandlerTimeout:    o.handlerTimeout,
	}

	o.sequencer = shutdown.New(shutdown.Config{
		Clock:               o.clock,
		Phase:               o.machine,
		Logger:              shutdownLogger{logger: observer.Logger()},
		Phase1DurationMs:    cfg.Phase1DurationMs(),
		ConnectionPollMs:    cfg.ConnectionPollMs,
		DrainTimeoutMs:      cfg.DrainTimeoutMs(),
		ForceExitGraceMs:    cfg.ForceExitGraceMs,
		DevMode:             cfg.DevMode,
		Servers:             o.Servers,
		ShutdownReadyChecks: o.ShutdownReadyChecks,
		ShutdownCallbacks:   o.ShutdownCallbacks,
		HandlerTimeout:      o.handlerTimeout,
		StartSpan: func(ctx context.Context, name string) (context.Context, func()) {
			ctx, span := o.observer.Tracer().Start(ctx, name)
			return ctx, func() { span.End() }
		},
		RecordDrainDuration: func(d time.Duration) {
			if o.drainHistogram != nil {
				o.drainHistogram.Record(context.Background(), d.Seconds())
			}
		},
	})

	if meter := observer.Meter(); meter != nil {
		o.readyCounter, _ = meter.Int64Counter("podguard.probe.ready.total")
		o.liveCounter, _ = meter.Int64Counter("podguard.probe.live.total")
		o.drainHistogram, _ = meter.Float64Histogram("podguard.shutdown.drain_duration",
			metric.WithUnit("s"))
		_, _ = meter.Int64ObservableGauge("podguard.phase",
			metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
				obs.Observe(int64(o.machine.Current()))
				return nil
			}))
		_, _ = meter.Int64ObservableGauge("podguard.connections.active",
			metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
				obs.Observe(int64(o.sumActiveConnections()))
				return nil
			}))
		_, _ = meter.Int64ObservableGauge("podguard.connections.idle",
			metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
				obs.Observe(int64(o.sumIdleConnections()))
				return nil
			}))
	}

	return o
}

// AddHTTPServer registers an *http.Server (via its tracker.HTTPServer
// adapter) with the orchestrator so its connections are drained on
// shutdown and its Listening() state gates readiness.
func (o *Orchestrator) AddHTTPServer(tr *tracker.ServerTracker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.servers = append(o.servers, tr)
}

// Servers returns a snapshot of the registered trackers.
func (o *Orchestrator) Servers() []*tracker.ServerTracker {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*tracker.ServerTracker, len(o.servers))
	copy(out, o.servers)
	return out
}

// OnReadyCheck registers a readiness check. If cbConfig is non-nil the
// check is wrapped in a resilience.CircuitBreaker per SPEC_FULL.md §4.7 so
// a persistently failing dependency stops being polled every cycle; pass
// nil to invoke check directly on every readiness evaluation.
func (o *Orchestrator) OnReadyCheck(name string, check probe.ReadyCheck, cbConfig *resilience.CircuitBreakerConfig) {
	wrapped := check
	if cbConfig != nil {
		wrapped = probe.WrapWithCircuitBreaker(wrapped, *cbConfig)
	}
	wrapped = probe.WrapWithDiagnostics(o.diagnostics, name, wrapped)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.readyChecks = append(o.readyChecks, wrapped)
}

// ReadyChecks returns a snapshot of the registered ready checks.
func (o *Orchestrator) ReadyChecks() []probe.ReadyCheck {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]probe.ReadyCheck, len(o.readyChecks))
	copy(out, o.readyChecks)
	return out
}

// OnMemoryPressureCheck registers a readiness check backed by a
// health.MemoryChecker: Unhealthy memory pressure fails readiness, Degraded
// does not. cbConfig behaves as in OnReadyCheck.
func (o *Orchestrator) OnMemoryPressureCheck(cfg health.MemoryCheckerConfig, cbConfig *resilience.CircuitBreakerConfig) {
	o.OnReadyCheck("memory", probe.FromChecker(health.NewMemoryChecker(cfg)), cbConfig)
}

// OnDependencyAggregate registers a readiness check backed by a
// health.Aggregator, composing several named health.Checker dependencies
// (database, cache, external API, ...) under a single ready check.
func (o *Orchestrator) OnDependencyAggregate(name string, agg *health.Aggregator, cbConfig *resilience.CircuitBreakerConfig) {
	o.OnReadyCheck(name, probe.FromAggregator(agg), cbConfig)
}

// AddShutdownReadyCheck registers a check that must pass, alongside zero
// active connections, before finishShutdown runs.
func (o *Orchestrator) AddShutdownReadyCheck(check settle.BoolCheck) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shutdownReadyChecks = append(o.shutdownReadyChecks, check)
}

// ShutdownReadyChecks returns the registered checks as settle.BoolChecks.
func (o *Orchestrator) ShutdownReadyChecks() []settle.BoolCheck {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]settle.BoolCheck, len(o.shutdownReadyChecks))
	copy(out, o.shutdownReadyChecks)
	return out
}

// OnShutdown registers a callback invoked, all-settle, once finishShutdown
// runs. Callbacks run in registration order; completion order is not
// guaranteed, and one failing never blocks the rest.
func (o *Orchestrator) OnShutdown(handler settle.Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shutdownCallbacks = append(o.shutdownCallbacks, handler)
}

// ShutdownCallbacks returns the registered callbacks.
func (o *Orchestrator) ShutdownCallbacks() []settle.Handler {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]settle.Handler, len(o.shutdownCallbacks))
	copy(out, o.shutdownCallbacks)
	return out
}

// OnStateChange registers a phase transition listener.
func (o *Orchestrator) OnStateChange(listener phase.Listener) {
	o.machine.OnTransition(listener)
}

// SetOnException installs the sink invoked for every per-handler failure
// across every all-settle list (ready checks, shutdown-ready checks,
// shutdown callbacks, phase listeners). The default sink logs at warn via
// the configured observe.Logger, matching spec.md §7's "platform's warning
// logger" default.
func (o *Orchestrator) SetOnException(sink func(ctx context.Context, err error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exceptionSink = sink
}

func (o *Orchestrator) onListenerFailure(index int, err error) {
	o.mu.Lock()
	sink := o.exceptionSink
	o.mu.Unlock()

	ctx := context.Background()
	if sink != nil {
		sink(ctx, err)
		return
	}
	o.observer.Logger().Warn(ctx, "phase listener failed", observe.Field{Key: "index", Value: index}, observe.Field{Key: "error", Value: err.Error()})
}

// Fault returns the currently stored unrecoverable error, or nil.
func (o *Orchestrator) Fault() error {
	return o.sequencer.Fault()
}

// SetUnrecoverableError stores an unrecoverable fault; see
// shutdown.Sequencer.SetUnrecoverableError for the devMode/non-dev
// behavior split.
func (o *Orchestrator) SetUnrecoverableError(ctx context.Context, err error) {
	o.sequencer.SetUnrecoverableError(ctx, err)
}

// StartShutdown begins the shutdown sequence. Safe to call from a signal
// handler or an HTTP admin endpoint.
func (o *Orchestrator) StartShutdown(ctx context.Context) {
	ctx, span := o.observer.Tracer().Start(ctx, "podguard.shutdown")
	defer span.End()
	o.sequencer.StartShutdown(ctx)
}

// IsReady reports the current readiness decision and records it to the
// probe.ready.total counter.
func (o *Orchestrator) IsReady(ctx context.Context) probe.ReadinessResult {
	v, _, _ := o.readySF.Do("ready", func() (any, error) {
		return o.evaluator.CheckReadiness(ctx), nil
	})
	result := v.(probe.ReadinessResult)
	if o.readyCounter != nil {
		o.readyCounter.Add(ctx, 1, resultAttr(result.Ready))
	}
	return result
}

// IsHealthy reports the current liveness decision and records it to the
// probe.live.total counter.
func (o *Orchestrator) IsHealthy(ctx context.Context) probe.LivenessResult {
	result := o.evaluator.CheckLiveness()
	if o.liveCounter != nil {
		o.liveCounter.Add(ctx, 1, resultAttr(result.Healthy))
	}
	return result
}

// Evaluator exposes the underlying probe.Evaluator for callers that want
// direct access (e.g. to build their own HTTP routes instead of using
// RegisterHandlers).
func (o *Orchestrator) Evaluator() *probe.Evaluator {
	return o.evaluator
}

// Diagnostics exposes the probe.DiagnosticCache backing /api/probe/status.
func (o *Orchestrator) Diagnostics() *probe.DiagnosticCache {
	return o.diagnostics
}

// RegisterHandlers mounts the probe HTTP surface (spec.md §6 plus
// SPEC_FULL.md §4.7's supplemental endpoints) onto mux, under prefix
// (e.g. "/api/probe", "/api/admin"). The admin shutdown endpoint is
// registered only when cfg.AdminKey is non-empty.
func (o *Orchestrator) RegisterHandlers(mux *http.ServeMux, probePrefix, adminPrefix string) {
	if path, ok := resolveProbePath(o.cfg.ReadyPath, "/ready"); ok {
		mux.HandleFunc(probePrefix+path, func(w http.ResponseWriter, r *http.Request) {
			result := o.IsReady(r.Context())
			w.WriteHeader(result.StatusCode)
			fmt.Fprint(w, result.Reason)
		})
	}
	if path, ok := resolveProbePath(o.cfg.LivePath, "/live"); ok {
		mux.HandleFunc(probePrefix+path, func(w http.ResponseWriter, r *http.Request) {
			result := o.IsHealthy(r.Context())
			w.WriteHeader(result.StatusCode)
			fmt.Fprint(w, result.Message)
		})
	}
	if path, ok := resolveProbePath(o.cfg.TestPath, "/test"); ok {
		mux.HandleFunc(probePrefix+path, probe.TestHandler(o.testHandlerConfig()))
	}
	if path, ok := resolveProbePath(o.cfg.StatusPath, "/status"); ok {
		mux.HandleFunc(probePrefix+path, probe.StatusHandler(probe.StatusHandlerConfig{
			Machine:           o.machine,
			ShutdownRequested: o.sequencer.ShutdownRequested,
			Fault:             o.Fault,
			Servers:           o.Servers,
			Diagnostics:       o.diagnostics,
		}))
	}

	if o.cfg.AdminKey == "" {
		return
	}
	store := auth.NewMemoryAPIKeyStore()
	_ = store.Add(&auth.APIKeyInfo{
		ID:        "admin",
		KeyHash:   auth.HashAPIKey(o.cfg.AdminKey),
		Principal: "admin",
	})
	authenticator := auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{}, store)

	mux.HandleFunc(adminPrefix+"/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		req := &auth.AuthRequest{Headers: map[string][]string{"X-API-Key": r.Header.Values("X-API-Key")}}
		result, err := authenticator.Authenticate(r.Context(), req)
		if err != nil || !result.Authenticated {
			o.observer.Logger().Info(r.Context(), "admin shutdown auth failed")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		o.StartShutdown(context.WithoutCancel(r.Context()))
		w.WriteHeader(http.StatusAccepted)
	})
}

// resolveProbePath applies override to def: nil selects def, a pointer to
// "" disables the endpoint (ok is false, nothing is mounted), and any other
// pointer value replaces def outright.
func resolveProbePath(override *string, def string) (path string, ok bool) {
	if override == nil {
		return def, true
	}
	return *override, *override != ""
}

func (o *Orchestrator) testHandlerConfig() probe.TestHandlerConfig {
	cfg := probe.TestHandlerConfig{}
	if o.cfg.TestRate > 0 || o.cfg.TestBurst > 0 {
		cfg.RateLimiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:  o.cfg.TestRate,
			Burst: o.cfg.TestBurst,
		})
	}
	if o.cfg.TestConcurrency > 0 {
		cfg.Bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: o.cfg.TestConcurrency})
	}
	return cfg
}

func (o *Orchestrator) sumActiveConnections() int {
	n := 0
	for _, s := range o.Servers() {
		n += s.ActiveConnectionCount()
	}
	return n
}

func (o *Orchestrator) sumIdleConnections() int {
	n := 0
	for _, s := range o.Servers() {
		n += s.ConnectionCount() - s.ActiveConnectionCount()
	}
	return n
}

func resultAttr(ok bool) metric.AddOption {
	label := "fail"
	if ok {
		label = "pass"
	}
	return metric.WithAttributes(attribute.String("result", label))
}
