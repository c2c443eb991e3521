// Package cache provides a small in-memory TTL cache.
//
// podguard uses it in probe.DiagnosticCache to keep the last result of each
// named readiness check for the /api/probe/status endpoint. The readiness
// decision never reads it: every readiness evaluation runs the checks live.
package cache
