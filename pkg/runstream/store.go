package runstream

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/tarsy-sandboxd/ent"
	"github.com/codeready-toolchain/tarsy-sandboxd/ent/runevent"
)

// Store persists the append-only run event log. seq is assigned by the
// database's identity column, not by this package, so AppendEvent must
// round-trip through a Save to learn the seq it was issued.
type Store struct {
	client *ent.Client
}

// NewStore wraps an ent client.
func NewStore(client *ent.Client) *Store {
	return &Store{client: client}
}

// AppendEvent inserts one row and returns the seq the database assigned
// it. Callers inject this seq (plus run_id and, when applicable,
// message_id) into the event's data envelope before calling Buffer.Put,
// so persistence always happens before the event is visible to any
// consumer.
func (s *Store) AppendEvent(ctx context.Context, threadID, runID, eventType string, data map[string]any, messageID string) (int, error) {
	builder := s.client.RunEvent.Create().
		SetThreadID(threadID).
		SetRunID(runID).
		SetEventType(eventType)
	if data != nil {
		builder = builder.SetData(data)
	}
	if messageID != "" {
		builder = builder.SetMessageID(messageID)
	}
	row, err := builder.Save(ctx)
	if err != nil {
		return 0, fmt.Errorf("runstream: append event for run %s: %w", runID, err)
	}
	return row.Seq, nil
}

// ReadAfter returns every persisted event for (threadID, runID) with
// seq > afterSeq, ordered by seq — used to replay history to a
// reconnecting consumer before it starts following the live buffer.
func (s *Store) ReadAfter(ctx context.Context, threadID, runID string, afterSeq int) ([]Event, error) {
	rows, err := s.client.RunEvent.Query().
		Where(
			runevent.ThreadID(threadID),
			runevent.RunID(runID),
			runevent.SeqGT(afterSeq),
		).
		Order(ent.Asc(runevent.FieldSeq)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("runstream: read after seq for run %s: %w", runID, err)
	}
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// CleanupOldRuns deletes every event belonging to a run for threadID
// older than the most recent keepLatest runs (by their newest seq).
// Thread deletion should call this with keepLatest=0 to drop everything.
func (s *Store) CleanupOldRuns(ctx context.Context, threadID string, keepLatest int) (int, error) {
	rows, err := s.client.RunEvent.Query().
		Where(runevent.ThreadID(threadID)).
		Order(ent.Desc(runevent.FieldSeq)).
		All(ctx)
	if err != nil {
		return 0, fmt.Errorf("runstream: cleanup old runs list for thread %s: %w", threadID, err)
	}

	keep := make(map[string]bool, keepLatest)
	var dropRunIDs []string
	seenDrop := make(map[string]bool)
	for _, row := range rows {
		if keep[row.RunID] {
			continue
		}
		if len(keep) < keepLatest {
			keep[row.RunID] = true
			continue
		}
		if !seenDrop[row.RunID] {
			seenDrop[row.RunID] = true
			dropRunIDs = append(dropRunIDs, row.RunID)
		}
	}
	if len(dropRunIDs) == 0 {
		return 0, nil
	}

	n, err := s.client.RunEvent.Delete().
		Where(runevent.ThreadID(threadID), runevent.RunIDIn(dropRunIDs...)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("runstream: cleanup old runs delete for thread %s: %w", threadID, err)
	}
	return n, nil
}

// DeleteByThread removes every event for threadID, used on thread
// deletion.
func (s *Store) DeleteByThread(ctx context.Context, threadID string) (int, error) {
	n, err := s.client.RunEvent.Delete().
		Where(runevent.ThreadID(threadID)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("runstream: delete by thread %s: %w", threadID, err)
	}
	return n, nil
}

func fromRow(row *ent.RunEvent) Event {
	ev := Event{
		Seq:       row.Seq,
		ThreadID:  row.ThreadID,
		RunID:     row.RunID,
		EventType: row.EventType,
		Data:      row.Data,
		CreatedAt: row.CreatedAt,
	}
	if row.MessageID != nil {
		ev.MessageID = *row.MessageID
	}
	return ev
}
