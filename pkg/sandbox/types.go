// Package sandbox implements SandboxManager, the top-level orchestrator
// that resolves a thread to its (terminal, lease, chat session) triple,
// creating whichever of the three don't exist yet, and that drives
// pause/resume/destroy and idle reaping across all of them. Every other
// package in this module (terminal, lease, provider, chatsession,
// runtime) is a leaf Manager composes; nothing above this package
// reaches into those directly.
package sandbox

import "time"

// DefaultCwd seeds a brand-new terminal's working directory. The
// original implementation asked each provider for a default_cwd/
// default_context_path/mount_path attribute; this module's Capability
// record carries no such field, so every provider is assumed to start
// sessions rooted here, matching the baseline pkg/runtime/remote.go
// already hydrates against.
const DefaultCwd = "/root"

// SessionInfo is the read-only projection list_sessions returns: one
// row per (lease, thread) pair, or one "(untracked)" row for a lease no
// terminal references. ListSessions does not report provider instances
// that have no lease row, so the Source it sets is always "lease".
type SessionInfo struct {
	SessionID      string
	ThreadID       string
	Provider       string
	Status         string
	CreatedAt      time.Time
	LastActive     time.Time
	LeaseID        string
	InstanceID     string
	ChatSessionID  string
	Source         string // "lease" | "provider_orphan"
	InspectVisible bool
}

const (
	sourceLease          = "lease"
	sourceProviderOrphan = "provider_orphan"
)
