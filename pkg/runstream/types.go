// Package runstream decouples run execution from SSE consumers: an
// in-process cursor-addressable buffer per (thread, run) pair backed by
// a durable, append-only log so a client can reconnect mid-run and
// resume exactly where it left off by _seq.
package runstream

import "time"

// Event is one emission in a run's event stream. Data carries the
// event-type-specific payload plus the _seq/_run_id/message_id envelope
// fields a consumer uses to resume after reconnection.
type Event struct {
	Seq       int
	ThreadID  string
	RunID     string
	EventType string
	Data      map[string]any
	MessageID string
	CreatedAt time.Time
}

// Event type constants mirroring the run producer's vocabulary.
const (
	EventText       = "text"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventStatus     = "status"
	EventCancelled  = "cancelled"
	EventError      = "error"
	EventDone       = "done"
)
