// Package auth provides a minimal API-key authentication primitive used to
// guard podguard's optional admin HTTP surface.
//
// The probe endpoints themselves (§6 of the orchestrator spec) are always
// unauthenticated, since the host platform's kubelet polls them without
// credentials. This package exists only for the operator-triggered
// POST /api/admin/shutdown endpoint, which is disabled unless an admin key
// is configured.
package auth
