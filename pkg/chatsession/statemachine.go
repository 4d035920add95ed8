// Package chatsession implements ChatSession, the policy/lifecycle
// window that binds a thread to a (terminal, lease, runtime) triple
// with idle and max-duration TTLs. Like the lease instance state
// machine, a chat session's legal transitions are a literal from->to
// allow map.
package chatsession

import "fmt"

// Status is the lifecycle state of a ChatSession row.
type Status string

const (
	StatusActive Status = "active"
	StatusIdle   Status = "idle"
	StatusPaused Status = "paused"
	StatusClosed Status = "closed"
	StatusFailed Status = "failed"
)

// ParseStatus fails loudly on anything outside the five known states —
// chat session status is never provider-reported, so there is no
// permissive counterpart the way lease instance state has one.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusActive, StatusIdle, StatusPaused, StatusClosed, StatusFailed:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("chatsession: invalid status %q", raw)
	}
}

var legalTransitions = map[Status]map[Status]bool{
	StatusActive: {StatusIdle: true, StatusPaused: true, StatusClosed: true, StatusFailed: true},
	StatusIdle:   {StatusActive: true, StatusPaused: true, StatusClosed: true, StatusFailed: true},
	StatusPaused: {StatusActive: true, StatusClosed: true, StatusFailed: true},
	StatusFailed: {StatusClosed: true},
}

// AssertTransition mirrors assert_chat_session_transition: a nil
// current is a brand-new session, legal only into active; same-state
// is always a no-op; anything else must be in legalTransitions.
func AssertTransition(current *Status, target Status, reason string) error {
	if current == nil {
		if target != StatusActive {
			return fmt.Errorf("chatsession: illegal transition <new> -> %s (%s)", target, reason)
		}
		return nil
	}
	if *current == target {
		return nil
	}
	if legalTransitions[*current][target] {
		return nil
	}
	return fmt.Errorf("chatsession: illegal transition %s -> %s (%s)", *current, target, reason)
}
