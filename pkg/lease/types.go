package lease

import "time"

// Instance is the ephemeral compute instance currently bound to a lease.
type Instance struct {
	InstanceID   string
	ProviderName string
	Status       InstanceState
	CreatedAt    time.Time
}

// Lease is the durable, shared compute handle snapshot used across one
// Apply/EnsureActiveInstance call. Fields mirror the SandboxLease ent
// schema directly; Instance is nil when no compute is currently bound.
type Lease struct {
	LeaseID          string
	ProviderName     string
	WorkspaceKey     string
	Instance         *Instance
	DesiredState     string // "running" | "paused" | "destroyed"
	ObservedState    InstanceState
	Version          int
	ObservedAt       *time.Time
	LastError        string
	NeedsRefresh     bool
	RefreshHintAt    *time.Time
	Status           string // "active" | "recovering" | "expired"
	CreatedAt        time.Time
	UpdatedAt        time.Time
	detachedInstance *Instance // set transiently when an instance is being detached this call
}

// instanceState returns the observed state of the currently bound
// instance, or DETACHED if none is bound.
func (l *Lease) instanceState() InstanceState {
	if l.Instance == nil {
		return StateDetached
	}
	return l.Instance.Status
}

// IsFresh reports whether the lease's last observation is recent enough
// that callers may trust ObservedState without probing the provider
// again.
func (l *Lease) IsFresh(maxAge time.Duration) bool {
	if l.ObservedAt == nil {
		return false
	}
	return time.Since(*l.ObservedAt) <= maxAge
}

// Event is one durable row in the lease's audit log, append-only.
type Event struct {
	EventID   int
	LeaseID   string
	EventType string
	Source    string
	Payload   map[string]any
	Error     string
	CreatedAt time.Time
}

// Event type constants used as the event_type argument to Apply.
const (
	EventIntentEnsureRunning = "intent.ensure_running"
	EventIntentPause         = "intent.pause"
	EventIntentResume        = "intent.resume"
	EventIntentDestroy       = "intent.destroy"
	EventObserveStatus       = "observe.status"
	EventProviderError       = "provider.error"
)
