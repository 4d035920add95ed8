package providerevent

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/ent"
	"github.com/codeready-toolchain/tarsy-sandboxd/ent/providerevent"
)

// Store persists the append-only provider event log via ent.
type Store struct {
	client *ent.Client
}

// NewStore wraps an ent client.
func NewStore(client *ent.Client) *Store {
	return &Store{client: client}
}

// Append inserts one raw webhook delivery row, recorded regardless of
// whether matchedLeaseID is empty.
func (s *Store) Append(ctx context.Context, providerName, instanceID, eventType string, payload map[string]any, matchedLeaseID string) (*Event, error) {
	builder := s.client.ProviderEvent.Create().
		SetProviderName(providerName).
		SetInstanceID(instanceID).
		SetEventType(eventType)
	if payload != nil {
		builder = builder.SetPayload(payload)
	}
	if matchedLeaseID != "" {
		builder = builder.SetMatchedLeaseID(matchedLeaseID)
	}
	row, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("providerevent: append %s/%s: %w", providerName, instanceID, err)
	}
	return fromRow(row), nil
}

// ListRecent returns the most recent limit events, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := s.client.ProviderEvent.Query().
		Order(ent.Desc(providerevent.FieldCreatedAt)).
		Limit(limit).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("providerevent: list recent: %w", err)
	}
	out := make([]*Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// PruneOlderThan deletes every event recorded before cutoff, returning
// the number of rows removed. The raw webhook log is append-only and
// otherwise unbounded, so a periodic retention sweep is the only thing
// that ever shrinks it.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.client.ProviderEvent.Delete().
		Where(providerevent.CreatedAtLT(cutoff)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("providerevent: prune older than %s: %w", cutoff, err)
	}
	return n, nil
}

func fromRow(row *ent.ProviderEvent) *Event {
	ev := &Event{
		EventID:      row.ID,
		ProviderName: row.ProviderName,
		InstanceID:   row.InstanceID,
		EventType:    row.EventType,
		Payload:      row.Payload,
		CreatedAt:    row.CreatedAt,
	}
	if row.MatchedLeaseID != nil {
		ev.MatchedLeaseID = *row.MatchedLeaseID
	}
	return ev
}
