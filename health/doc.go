// Package health provides health checking primitives for tool operations.
//
// This package implements a generic health checking framework that can be used
// to monitor the health of various components in a tool execution system. It
// provides interfaces for defining health checks and aggregating results from
// multiple checkers. It has no HTTP handlers of its own.
//
// # Core Concepts
//
// A Checker is any component that can report its health status. The Status
// type represents the health state: Healthy, Degraded, or Unhealthy.
//
// # Basic Usage
//
//	// Create a memory checker
//	memCheck := health.NewMemoryChecker(health.MemoryCheckerConfig{
//	    WarningThreshold:  0.80,
//	    CriticalThreshold: 0.95,
//	})
//
//	// Check health
//	result := memCheck.Check(ctx)
//	if result.Status == health.StatusUnhealthy {
//	    log.Printf("Memory critical: %s", result.Message)
//	}
//
// # Aggregating Health Checks
//
// Use Aggregator to combine multiple health checks into a single composite check:
//
//	agg := health.NewAggregator()
//	agg.Register("memory", memChecker)
//	agg.Register("database", dbChecker)
//	agg.Register("cache", cacheChecker)
//
//	// Check all components
//	results := agg.CheckAll(ctx)
//	overall := agg.OverallStatus(results)
//
// # Wiring Into Readiness Checks
//
// The probe package adapts a Checker or Aggregator into a single ready
// check via probe.FromChecker and probe.FromAggregator, so a composite
// dependency check can be registered on an Orchestrator alongside any
// other probe.ReadyCheck.
package health
