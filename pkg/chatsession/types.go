package chatsession

import (
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runtime"
)

// Policy configures idle/duration TTLs; touch and cleanup_expired read
// these to decide when a session goes stale.
type Policy struct {
	IdleTTLSec     int
	MaxDurationSec int
}

// DefaultPolicy mirrors the original implementation's ChatSessionPolicy
// defaults.
var DefaultPolicy = Policy{IdleTTLSec: 300, MaxDurationSec: 86400}

// Session is the policy/lifecycle window binding a thread to a
// (terminal, lease, runtime) triple. Runtime is nil for a session
// loaded from storage but not yet rehydrated into the live registry.
type Session struct {
	SessionID    string
	ThreadID     string
	TerminalID   string
	LeaseID      string
	Runtime      runtime.Runtime
	Policy       Policy
	Status       Status
	StartedAt    time.Time
	LastActiveAt time.Time
	EndedAt      *time.Time
	CloseReason  string
}

// IsExpired reports whether the session has exceeded either its idle
// or its max-duration TTL as of now.
func (s *Session) IsExpired(now time.Time) bool {
	idle := now.Sub(s.LastActiveAt).Seconds()
	total := now.Sub(s.StartedAt).Seconds()
	return idle > float64(s.Policy.IdleTTLSec) || total > float64(s.Policy.MaxDurationSec)
}
