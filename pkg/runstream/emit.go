package runstream

import (
	"context"
	"fmt"
)

// Stream pairs one run's durable log writer with its in-process live
// buffer, enforcing the emission contract: every event that reaches the
// buffer is persisted first, carrying the seq the store assigned it.
type Stream struct {
	store    *Store
	buffer   *Buffer
	threadID string
	runID    string
}

// NewStream builds a Stream for one (threadID, runID) run.
func NewStream(store *Store, threadID, runID string) *Stream {
	return &Stream{store: store, buffer: NewBuffer(), threadID: threadID, runID: runID}
}

// Buffer exposes the live buffer for consumer reads.
func (s *Stream) Buffer() *Buffer { return s.buffer }

// ThreadID and RunID identify which run this stream belongs to, so an
// HTTP handler holding a "current run" stream can tell whether it
// matches a client-requested run_id before deciding to tail it live.
func (s *Stream) ThreadID() string { return s.threadID }
func (s *Stream) RunID() string    { return s.runID }

// Emit persists data under eventType (injecting _seq, _run_id, and — if
// non-empty — message_id into the envelope) and makes it visible to
// every reader waiting on the buffer. The returned seq is the event's
// stable, client-visible resume id.
func (s *Stream) Emit(ctx context.Context, eventType string, data map[string]any, messageID string) (int, error) {
	if data == nil {
		data = map[string]any{}
	}
	seq, err := s.store.AppendEvent(ctx, s.threadID, s.runID, eventType, data, messageID)
	if err != nil {
		return 0, fmt.Errorf("runstream: emit %s for run %s: %w", eventType, s.runID, err)
	}

	envelope := make(map[string]any, len(data)+3)
	for k, v := range data {
		envelope[k] = v
	}
	envelope["_seq"] = seq
	envelope["_run_id"] = s.runID
	if messageID != "" {
		envelope["message_id"] = messageID
	}

	s.buffer.Put(Event{
		Seq:       seq,
		ThreadID:  s.threadID,
		RunID:     s.runID,
		EventType: eventType,
		Data:      envelope,
		MessageID: messageID,
	})
	return seq, nil
}

// Done marks the stream finished, waking any blocked readers.
func (s *Stream) Done() {
	s.buffer.MarkDone()
}
