// Package providerevent ingests provider webhook deliveries, persists
// them as an append-only log regardless of whether a matching lease is
// found, and converges matched leases' observed state through the
// lease state machine. A periodic reconciler covers the gap between
// webhook deliveries by force-probing leases flagged needs_refresh.
package providerevent

import "time"

// ObservedStatus is the classified status a webhook or probe reports,
// independent of any provider's own vocabulary for it.
type ObservedStatus string

const (
	StatusRunning  ObservedStatus = "running"
	StatusPaused   ObservedStatus = "paused"
	StatusDetached ObservedStatus = "detached"
	StatusUnknown  ObservedStatus = "unknown"
)

// Observation is a parsed webhook payload, ready to look up a matching
// lease by (provider, instance_id) and potentially feed observe.status.
type Observation struct {
	ProviderName string
	InstanceID   string
	Status       ObservedStatus
	ObservedAt   *time.Time
	EventType    string
}

// Event is one row of the append-only provider event log.
type Event struct {
	EventID        int
	ProviderName   string
	InstanceID     string
	EventType      string
	Payload        map[string]any
	MatchedLeaseID string
	CreatedAt      time.Time
}
