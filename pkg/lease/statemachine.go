package lease

import (
	"fmt"
	"strings"
)

// InstanceState is the observed lifecycle state of the compute instance
// currently (or most recently) bound to a lease.
type InstanceState string

const (
	StateRunning  InstanceState = "running"
	StatePaused   InstanceState = "paused"
	StateDetached InstanceState = "detached"
	StateUnknown  InstanceState = "unknown"
)

// legalTransitions is the closed set of lease-instance transitions the
// system will ever perform. Anything not listed here is a bug, not a
// recoverable condition — apply() fails loudly rather than silently
// coercing state.
var legalTransitions = map[InstanceState]map[InstanceState]bool{
	StateDetached: {StateRunning: true, StateUnknown: true},
	StateRunning:  {StatePaused: true, StateDetached: true, StateUnknown: true},
	StatePaused:   {StateRunning: true, StateDetached: true, StateUnknown: true},
	StateUnknown:  {StateRunning: true, StatePaused: true, StateDetached: true},
}

// ParseInstanceState normalizes a raw provider-reported status string.
// Unset/empty is DETACHED (no instance bound yet); "deleted"/"dead"/
// "stopped" collapse to DETACHED since providers use inconsistent verbs
// for the same terminal condition; anything else must be one of the four
// known states or parsing fails loudly.
func ParseInstanceState(raw string) (InstanceState, error) {
	if raw == "" {
		return StateDetached, nil
	}
	switch strings.ToLower(raw) {
	case "deleted", "dead", "stopped":
		return StateDetached, nil
	case string(StateRunning):
		return StateRunning, nil
	case string(StatePaused):
		return StatePaused, nil
	case string(StateDetached):
		return StateDetached, nil
	case string(StateUnknown):
		return StateUnknown, nil
	default:
		return "", fmt.Errorf("lease: invalid instance state %q", raw)
	}
}

// NormalizeProviderState is the permissive counterpart used when folding
// a raw provider webhook/status string into an observe.status event
// payload — unrecognized strings degrade to UNKNOWN rather than erroring,
// since provider payloads are untrusted input.
func NormalizeProviderState(raw string) InstanceState {
	switch strings.ToLower(raw) {
	case "running":
		return StateRunning
	case "paused":
		return StatePaused
	case "unknown":
		return StateUnknown
	case "deleted", "dead", "stopped", "detached":
		return StateDetached
	default:
		return StateUnknown
	}
}

// AssertTransition returns a descriptive error if current -> target is
// neither a same-state no-op nor in legalTransitions. A nil current is treated
// as DETACHED, matching the "no instance yet" starting point.
func AssertTransition(current *InstanceState, target InstanceState, reason string) error {
	from := StateDetached
	if current != nil {
		from = *current
	}
	if from == target {
		return nil
	}
	if legalTransitions[from][target] {
		return nil
	}
	return fmt.Errorf("lease: illegal instance transition %s -> %s (%s)", from, target, reason)
}
