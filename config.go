package podguard

import (
	"context"
	"os"
	"strconv"

	"github.com/jonwraymond/podguard/secret"
)

// Config configures an Orchestrator. Zero values for the numeric fields
// select the spec's defaults; use LoadConfig to populate Config from the
// environment the way spec.md §6 specifies.
type Config struct {
	// ReadyProbeIntervalSeconds is READYPROBE_INTERVAL: used only to
	// derive Phase1DurationMs = 1.5 * value * 1000. Default 30.
	ReadyProbeIntervalSeconds int

	// ShutdownTimeoutSeconds is SHUTDOWN_TIMEOUT: DrainTimeoutMs = value *
	// 1000. Default 540.
	ShutdownTimeoutSeconds int

	// DevMode is derived from NODE_ENV != "production".
	DevMode bool

	// ConnectionPollMs is the drain-poll interval. Default 1000.
	ConnectionPollMs int64

	// ForceExitGraceMs bounds how long shutdown callbacks get before the
	// process is terminated unconditionally. Default 5000.
	ForceExitGraceMs int64

	// HandlerTimeoutMs bounds every individual all-settle handler
	// invocation (ready checks, shutdown-ready checks, shutdown
	// callbacks, phase listeners). Default 10000.
	HandlerTimeoutMs int64

	// AdminKey, if non-empty, enables POST /api/admin/shutdown guarded by
	// this API key. Resolved through secret.Resolver, so it may be a
	// literal value, an ${ENV_VAR} reference, or a secretref:provider:ref.
	AdminKey string

	// TestRate/TestBurst/TestConcurrency tune the resilience.Executor
	// guarding GET /api/probe/test. Zero selects resilience's own
	// defaults.
	TestRate        float64
	TestBurst       int
	TestConcurrency int

	// MetricsExporter/TracingExporter/LogLevel are loaded by LoadConfig for
	// the caller to use when building the observe.Config behind the
	// Observer passed to New; New itself does not read them.
	MetricsExporter string
	TracingExporter string
	LogLevel        string

	// ReadyPath/LivePath/TestPath/StatusPath override RegisterHandlers'
	// default probePrefix-relative mount points ("/ready", "/live",
	// "/test", "/status"). nil selects the default; a pointer to ""
	// disables that endpoint entirely — it is never registered on the
	// mux and so can never be matched as a health check, per spec.md §6.
	ReadyPath  *string
	LivePath   *string
	TestPath   *string
	StatusPath *string
}

// Phase1DurationMs derives the ShutdownRequested hold duration per spec.md
// §4.5: 1.5 * ReadyProbeIntervalSeconds * 1000.
func (c Config) Phase1DurationMs() int64 {
	interval := c.ReadyProbeIntervalSeconds
	if interval <= 0 {
		interval = 30
	}
	return int64(1.5 * float64(interval) * 1000)
}

// DrainTimeoutMs derives the hard shutdown deadline per spec.md §4.5:
// ShutdownTimeoutSeconds * 1000.
func (c Config) DrainTimeoutMs() int64 {
	seconds := c.ShutdownTimeoutSeconds
	if seconds <= 0 {
		seconds = 540
	}
	return int64(seconds) * 1000
}

// LoadConfig populates a Config from the environment, exactly as spec.md
// §6 specifies, plus the domain-stack additions from SPEC_FULL.md §4.7.
// resolver resolves secret references in PODGUARD_ADMIN_KEY; pass nil to
// use plain strict environment expansion.
func LoadConfig(ctx context.Context, resolver *secret.Resolver) (Config, error) {
	cfg := Config{
		ReadyProbeIntervalSeconds: envInt("READYPROBE_INTERVAL", 30),
		ShutdownTimeoutSeconds:    envInt("SHUTDOWN_TIMEOUT", 540),
		DevMode:                   os.Getenv("NODE_ENV") != "production",
		ConnectionPollMs:          1000,
		ForceExitGraceMs:          5000,
		HandlerTimeoutMs:          10000,
		TestRate:                  envFloat("PODGUARD_TEST_RATE", 0),
		TestBurst:                 envInt("PODGUARD_TEST_BURST", 0),
		TestConcurrency:           envInt("PODGUARD_TEST_CONCURRENCY", 0),
		MetricsExporter:           os.Getenv("PODGUARD_METRICS_EXPORTER"),
		TracingExporter:           os.Getenv("PODGUARD_TRACING_EXPORTER"),
		LogLevel:                  envOr("PODGUARD_LOG_LEVEL", "warn"),
		ReadyPath:                 envPathOverride("PODGUARD_READY_PATH"),
		LivePath:                  envPathOverride("PODGUARD_LIVE_PATH"),
		TestPath:                  envPathOverride("PODGUARD_TEST_PATH"),
		StatusPath:                envPathOverride("PODGUARD_STATUS_PATH"),
	}

	if raw := os.Getenv("PODGUARD_ADMIN_KEY"); raw != "" {
		resolved, err := resolver.ResolveValue(ctx, raw)
		if err != nil {
			return Config{}, err
		}
		cfg.AdminKey = resolved
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envPathOverride distinguishes an unset env var (nil, selects
// RegisterHandlers' default path) from one explicitly set, including set to
// empty (a pointer to the value, "" disabling the endpoint), since
// os.Getenv alone cannot tell "unset" from "set to empty".
func envPathOverride(key string) *string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	return &v
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
