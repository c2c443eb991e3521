// Package resilience provides resilience patterns for guarding the
// orchestrator's own probe and readiness checks from misbehaving
// dependencies.
//
// A readiness check that hangs, or a downstream dependency that's
// unavailable, should not be allowed to stall the probe HTTP surface. The
// patterns here bound that blast radius. They compose together to build a
// single execution pipeline around a check function.
//
// # Patterns
//
// The package provides the following resilience patterns:
//
//   - Circuit Breaker: Prevents cascading failures by stopping requests to
//     failing services after a threshold is reached.
//
//   - Rate Limiter: Controls the rate of operations to prevent overwhelming
//     downstream services.
//
//   - Bulkhead: Limits concurrent operations to prevent resource exhaustion.
//
//   - Timeout: Ensures operations complete within a time limit.
//
// # Usage
//
// Each pattern can be used independently or composed together:
//
//	// Create a circuit breaker
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    MaxFailures:  5,
//	    ResetTimeout: time.Minute,
//	})
//
//	// Create a rate limiter
//	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{
//	    Rate:  100, // requests per second
//	    Burst: 10,
//	})
//
//	// Compose patterns
//	executor := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(cb),
//	    resilience.WithRateLimiter(rl),
//	    resilience.WithTimeout(5*time.Second),
//	)
//
//	err := executor.Execute(ctx, func(ctx context.Context) error {
//	    return checkDependency(ctx)
//	})
package resilience
