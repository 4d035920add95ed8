package terminal

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/ent"
	"github.com/codeready-toolchain/tarsy-sandboxd/ent/abstractterminal"
)

// Store is a thin CRUD layer over the abstract_terminals table. It
// holds no policy — callers decide when to fork, promote, or delete a
// terminal; Store only persists what it's told.
type Store struct {
	client *ent.Client
}

// NewStore wraps an ent client.
func NewStore(client *ent.Client) *Store {
	return &Store{client: client}
}

// GetDefaultByThread returns the thread's default terminal, or nil if
// the thread has none yet.
func (s *Store) GetDefaultByThread(ctx context.Context, threadID string) (*Terminal, error) {
	row, err := s.client.AbstractTerminal.Query().
		Where(
			abstractterminal.ThreadID(threadID),
			abstractterminal.IsDefault(true),
		).
		Only(ctx)
	if ent.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("terminal: get default by thread %s: %w", threadID, err)
	}
	return fromRow(row), nil
}

// GetByID returns a terminal by id, or nil if it doesn't exist.
func (s *Store) GetByID(ctx context.Context, terminalID string) (*Terminal, error) {
	row, err := s.client.AbstractTerminal.Query().
		Where(abstractterminal.ID(terminalID)).
		Only(ctx)
	if ent.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("terminal: get by id %s: %w", terminalID, err)
	}
	return fromRow(row), nil
}

// ListByThread returns every terminal (default and forked) belonging
// to a thread, most recently created first.
func (s *Store) ListByThread(ctx context.Context, threadID string) ([]*Terminal, error) {
	rows, err := s.client.AbstractTerminal.Query().
		Where(abstractterminal.ThreadID(threadID)).
		Order(ent.Desc(abstractterminal.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("terminal: list by thread %s: %w", threadID, err)
	}
	out := make([]*Terminal, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// ListAll returns every terminal row, used by list_sessions to build
// the lease_id -> thread_ids join.
func (s *Store) ListAll(ctx context.Context) ([]*Terminal, error) {
	rows, err := s.client.AbstractTerminal.Query().All(ctx)
	if err != nil {
		return nil, fmt.Errorf("terminal: list all: %w", err)
	}
	out := make([]*Terminal, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// ExistsForLease reports whether any terminal still references leaseID
// — destroy_thread_resources uses this after deleting one thread's
// terminals to decide whether the now-possibly-orphaned lease can be
// deleted too.
func (s *Store) ExistsForLease(ctx context.Context, leaseID string) (bool, error) {
	exists, err := s.client.AbstractTerminal.Query().
		Where(abstractterminal.LeaseID(leaseID)).
		Exist(ctx)
	if err != nil {
		return false, fmt.Errorf("terminal: exists for lease %s: %w", leaseID, err)
	}
	return exists, nil
}

// Create inserts a new terminal row. isDefault must be true at most
// once per thread; the partial unique index on (thread_id, is_default)
// enforces this at the database level, so a second default insert for
// the same thread fails with a constraint error rather than silently
// clobbering the existing default.
func (s *Store) Create(ctx context.Context, terminalID, threadID, leaseID string, isDefault bool, initial State) (*Terminal, error) {
	builder := s.client.AbstractTerminal.Create().
		SetID(terminalID).
		SetThreadID(threadID).
		SetLeaseID(leaseID).
		SetIsDefault(isDefault).
		SetCwd(initial.Cwd).
		SetStateVersion(initial.StateVersion)
	if len(initial.EnvDelta) > 0 {
		builder = builder.SetEnvDelta(initial.EnvDelta)
	}
	row, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("terminal: create %s: %w", terminalID, err)
	}
	return fromRow(row), nil
}

// UpdateState persists a new state snapshot. state_version must equal
// the caller's in-memory version before incrementing it by one here —
// callers pass the version they observed, and this always writes
// version+1, matching the "strictly increases on every update_state"
// invariant regardless of how many times a given terminal has been
// mutated by other callers.
func (s *Store) UpdateState(ctx context.Context, terminalID string, state State) (int, error) {
	nextVersion := state.StateVersion + 1
	update := s.client.AbstractTerminal.UpdateOneID(terminalID).
		SetCwd(state.Cwd).
		SetStateVersion(nextVersion).
		SetUpdatedAt(time.Now())
	if state.EnvDelta != nil {
		update = update.SetEnvDelta(state.EnvDelta)
	}
	if _, err := update.Save(ctx); err != nil {
		return 0, fmt.Errorf("terminal: update state %s: %w", terminalID, err)
	}
	return nextVersion, nil
}

// Delete removes a terminal row. Cascades are not involved here; the
// terminal is the leaf of the lease->terminal relationship.
func (s *Store) Delete(ctx context.Context, terminalID string) error {
	if err := s.client.AbstractTerminal.DeleteOneID(terminalID).Exec(ctx); err != nil && !ent.IsNotFound(err) {
		return fmt.Errorf("terminal: delete %s: %w", terminalID, err)
	}
	return nil
}

// DeleteByThread removes every terminal belonging to a thread, used by
// destroy_thread_resources.
func (s *Store) DeleteByThread(ctx context.Context, threadID string) error {
	if _, err := s.client.AbstractTerminal.Delete().
		Where(abstractterminal.ThreadID(threadID)).
		Exec(ctx); err != nil {
		return fmt.Errorf("terminal: delete by thread %s: %w", threadID, err)
	}
	return nil
}

func fromRow(row *ent.AbstractTerminal) *Terminal {
	t := &Terminal{
		TerminalID: row.ID,
		ThreadID:   row.ThreadID,
		LeaseID:    row.LeaseID,
		IsDefault:  row.IsDefault,
		State: State{
			Cwd:          row.Cwd,
			EnvDelta:     row.EnvDelta,
			StateVersion: row.StateVersion,
		},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	return t
}
