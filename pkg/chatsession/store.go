package chatsession

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/ent"
	"github.com/codeready-toolchain/tarsy-sandboxd/ent/chatsession"
)

// liveStatuses is the set of statuses the partial unique index allows
// at most one of per thread.
var liveStatuses = []chatsession.Status{
	chatsession.StatusActive,
	chatsession.StatusIdle,
	chatsession.StatusPaused,
}

// Store is a thin CRUD layer over the chat_sessions table. It applies
// no policy of its own — Manager decides when a transition is legal
// before calling Store to persist it.
type Store struct {
	client *ent.Client
}

// NewStore wraps an ent client.
func NewStore(client *ent.Client) *Store {
	return &Store{client: client}
}

// GetLiveByThread returns the thread's current active/idle/paused
// session row, or nil if none exists.
func (s *Store) GetLiveByThread(ctx context.Context, threadID string) (*Session, error) {
	row, err := s.client.ChatSession.Query().
		Where(
			chatsession.ThreadID(threadID),
			chatsession.StatusIn(liveStatuses...),
		).
		Order(ent.Desc(chatsession.FieldStartedAt)).
		First(ctx)
	if ent.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chatsession: get live by thread %s: %w", threadID, err)
	}
	return fromRow(row), nil
}

// GetByID returns a session by id, or nil if it doesn't exist.
func (s *Store) GetByID(ctx context.Context, sessionID string) (*Session, error) {
	row, err := s.client.ChatSession.Query().
		Where(chatsession.ID(sessionID)).
		Only(ctx)
	if ent.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chatsession: get by id %s: %w", sessionID, err)
	}
	return fromRow(row), nil
}

// CreateSuperseding closes any existing live session for threadID with
// reason "superseded", then inserts the new row — both in one
// transaction so no reader ever observes two live sessions for the
// same thread.
func (s *Store) CreateSuperseding(ctx context.Context, sessionID, threadID, terminalID, leaseID string, policy Policy) (*Session, error) {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("chatsession: create superseding begin tx: %w", err)
	}

	now := time.Now()
	if _, err := tx.ChatSession.Update().
		Where(chatsession.ThreadID(threadID), chatsession.StatusIn(liveStatuses...)).
		SetStatus(chatsession.StatusClosed).
		SetEndedAt(now).
		SetCloseReason("superseded").
		Save(ctx); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("chatsession: supersede existing for thread %s: %w", threadID, err)
	}

	row, err := tx.ChatSession.Create().
		SetID(sessionID).
		SetThreadID(threadID).
		SetTerminalID(terminalID).
		SetLeaseID(leaseID).
		SetStatus(chatsession.StatusActive).
		SetIdleTTLSec(policy.IdleTTLSec).
		SetMaxDurationSec(policy.MaxDurationSec).
		SetStartedAt(now).
		SetLastActiveAt(now).
		Save(ctx)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("chatsession: create %s: %w", sessionID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("chatsession: create superseding commit: %w", err)
	}
	return fromRow(row), nil
}

// Touch updates last_active_at and, unless the session is paused,
// transitions it to active.
func (s *Store) Touch(ctx context.Context, sessionID string, current Status) error {
	target := StatusActive
	if current == StatusPaused {
		target = StatusPaused
	}
	if err := AssertTransition(&current, target, "touch"); err != nil {
		return err
	}
	_, err := s.client.ChatSession.UpdateOneID(sessionID).
		SetLastActiveAt(time.Now()).
		SetStatus(chatsession.Status(target)).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("chatsession: touch %s: %w", sessionID, err)
	}
	return nil
}

// SetStatus persists a bare status transition without touching
// last_active_at, used by Pause/Resume.
func (s *Store) SetStatus(ctx context.Context, sessionID string, status Status, closeReason string) error {
	update := s.client.ChatSession.UpdateOneID(sessionID).SetStatus(chatsession.Status(status))
	if closeReason != "" {
		update = update.SetCloseReason(closeReason)
	} else {
		update = update.ClearCloseReason()
	}
	if _, err := update.Save(ctx); err != nil {
		return fmt.Errorf("chatsession: set status %s: %w", sessionID, err)
	}
	return nil
}

// Close persists status=closed with reason and ended_at=now.
func (s *Store) Close(ctx context.Context, sessionID, reason string) error {
	_, err := s.client.ChatSession.UpdateOneID(sessionID).
		SetStatus(chatsession.StatusClosed).
		SetEndedAt(time.Now()).
		SetCloseReason(reason).
		Save(ctx)
	if err != nil && !ent.IsNotFound(err) {
		return fmt.Errorf("chatsession: close %s: %w", sessionID, err)
	}
	return nil
}

// ListLive returns every active/idle/paused session, most recently
// started first — used by cleanup_expired and list_sessions.
func (s *Store) ListLive(ctx context.Context) ([]*Session, error) {
	rows, err := s.client.ChatSession.Query().
		Where(chatsession.StatusIn(liveStatuses...)).
		Order(ent.Desc(chatsession.FieldStartedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("chatsession: list live: %w", err)
	}
	out := make([]*Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

func fromRow(row *ent.ChatSession) *Session {
	s := &Session{
		SessionID:    row.ID,
		ThreadID:     row.ThreadID,
		TerminalID:   row.TerminalID,
		LeaseID:      row.LeaseID,
		Status:       Status(row.Status),
		StartedAt:    row.StartedAt,
		LastActiveAt: row.LastActiveAt,
	}
	if row.EndedAt != nil {
		s.EndedAt = row.EndedAt
	}
	if row.CloseReason != nil {
		s.CloseReason = *row.CloseReason
	}
	s.Policy = Policy{IdleTTLSec: row.IdleTTLSec, MaxDurationSec: row.MaxDurationSec}
	return s
}
