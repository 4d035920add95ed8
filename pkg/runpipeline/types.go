// Package runpipeline drives one agent run end to end: it ensures a
// thread's sandbox session is live, iterates an injected agent graph's
// node and token streams, and turns what it sees into runstream events.
//
// The agent graph itself is never a concrete dependency of this
// package. Whatever drives the actual conversation — a checkpointed
// graph, a single-shot completion loop, anything with a streaming
// node/token surface — plugs in behind AgentGraph, Checkpointer,
// StatusProvider, and Monitor. This package only knows the shape of
// the seam, not what sits behind it.
package runpipeline

import "context"

// NodeUpdateKind classifies one NodeUpdate.
type NodeUpdateKind string

const (
	NodeUpdateToolCall   NodeUpdateKind = "tool_call"
	NodeUpdateToolResult NodeUpdateKind = "tool_result"
	NodeUpdateStatus     NodeUpdateKind = "status"
)

// NodeUpdate is one item off the agent graph's node-level stream: a
// tool invocation, its result, or a bare status update attached to a
// graph node.
//
// ParentToolCallID is set only when this update actually originates
// from a subagent run spawned by a tool call in the parent run. When
// set, the producer forwards it verbatim rather than interpreting
// Kind: SubEventType and Data carry the subagent's own event type and
// payload, and the producer rewrites them as "subagent_<SubEventType>"
// with parent_tool_call_id attached, so a client sees subagent
// activity as a distinguishable sub-stream of the parent run.
type NodeUpdate struct {
	Kind       NodeUpdateKind
	ToolCallID string
	ToolName   string
	Args       map[string]any
	Result     map[string]any
	IsError    bool
	Data       map[string]any

	ParentToolCallID string
	SubEventType     string
}

// TextDelta is one incremental chunk off the agent graph's token
// stream.
type TextDelta struct {
	MessageID string
	Delta     string
}

// AgentGraph is the external agent runtime this package drives. Both
// streams are scoped to one (threadID, message) invocation and run
// concurrently with each other; the producer multiplexes them onto a
// single runstream.Stream. Each channel closes when that half of the
// run finishes; a non-nil value on the paired error channel (sent at
// most once, before the channel closes) reports why it ended early.
// Both streams must stop producing and close their channels promptly
// once ctx is cancelled — the producer stops reading from them the
// moment it observes cancellation, and a graph that keeps sending
// after that point will block forever on a full channel.
type AgentGraph interface {
	StreamUpdates(ctx context.Context, threadID, message string) (<-chan NodeUpdate, <-chan error)
	StreamTokens(ctx context.Context, threadID, message string) (<-chan TextDelta, <-chan error)
}

// PendingToolCall is a tool call the producer has seen start but not
// yet seen resolve — the set a cancelled run must checkpoint markers
// for.
type PendingToolCall struct {
	ToolCallID string
	ToolName   string
	Args       map[string]any
}

// Checkpointer lets the producer write cancellation markers into
// whatever durable checkpoint the agent graph itself maintains, so a
// later resume sees the in-flight tool calls as cancelled rather than
// silently abandoned. It returns the tool_call_ids it actually marked.
type Checkpointer interface {
	WriteCancellationMarkers(ctx context.Context, threadID string, pending map[string]PendingToolCall) ([]string, error)
}

// StatusProvider supplies a point-in-time snapshot of runtime status —
// sandbox state, resource usage, whatever the agent graph's host
// process can report — taken after each tool result.
type StatusProvider interface {
	StatusSnapshot(ctx context.Context, threadID string) (map[string]any, error)
}

// AgentState is the coarse lifecycle state a thread's agent monitor
// tracks across runs.
type AgentState string

const (
	StateActive    AgentState = "active"
	StateIdle      AgentState = "idle"
	StateError     AgentState = "error"
	StateSuspended AgentState = "suspended"
)

// Monitor records a thread's agent lifecycle transitions.
type Monitor interface {
	Transition(ctx context.Context, threadID string, state AgentState) error
}
