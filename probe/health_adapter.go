package probe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jonwraymond/podguard/health"
)

// FromChecker adapts a health.Checker into a ReadyCheck. A StatusDegraded
// result still counts as ready: this package only has a binary ready/not-ready
// contract, so a degraded dependency is not pulled out of rotation, and its
// message is not passed on. Only StatusUnhealthy fails the check.
//
// Register the result through Orchestrator.OnReadyCheck so an unhealthy
// checker's message shows up on the /status diagnostics surface.
func FromChecker(checker health.Checker) ReadyCheck {
	return func(ctx context.Context) (bool, error) {
		result := checker.Check(ctx)
		if result.Status != health.StatusUnhealthy {
			return true, nil
		}
		if result.Error != nil {
			return false, result.Error
		}
		return false, fmt.Errorf("%s: %s", checker.Name(), result.Message)
	}
}

// FromAggregator adapts a health.Aggregator into a single ReadyCheck
// representing every checker registered with it, so a caller can compose
// several named dependency checks (database, cache, memory pressure, ...)
// under one OnReadyCheck registration instead of one per dependency.
func FromAggregator(agg *health.Aggregator) ReadyCheck {
	return func(ctx context.Context) (bool, error) {
		results := agg.CheckAll(ctx)
		if agg.OverallStatus(results) != health.StatusUnhealthy {
			return true, nil
		}
		return false, unhealthyDependenciesError(results)
	}
}

func unhealthyDependenciesError(results map[string]health.Result) error {
	names := make([]string, 0, len(results))
	for name, result := range results {
		if result.Status == health.StatusUnhealthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return fmt.Errorf("unhealthy dependencies: %s", strings.Join(names, ", "))
}
