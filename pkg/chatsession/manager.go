package chatsession

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runtime"
)

// RuntimeBuilder constructs the PhysicalTerminalRuntime for a fresh
// session — the concrete choice of local-shell vs remote-wrapped lives
// in the orchestrator (SandboxManager), which knows the provider
// registry and the lease's capability; Manager only ever calls this
// function, never a provider directly.
type RuntimeBuilder func(ctx context.Context, threadID, terminalID, leaseID string) (runtime.Runtime, error)

// Manager owns ChatSession lifecycle: loading, creating (superseding
// any prior live session for the thread), touching, pausing, resuming,
// deleting, and sweeping expired sessions. It holds no lease or
// provider logic of its own — SandboxManager composes those.
type Manager struct {
	store         *Store
	live          *liveRegistry
	buildRuntime  RuntimeBuilder
	defaultPolicy Policy
}

// NewManager builds a Manager. buildRuntime may be nil for tests that
// never rehydrate a runtime.
func NewManager(store *Store, buildRuntime RuntimeBuilder) *Manager {
	return &Manager{
		store:         store,
		live:          newLiveRegistry(),
		buildRuntime:  buildRuntime,
		defaultPolicy: DefaultPolicy,
	}
}

// Get returns the thread's live session, or nil. A session found
// in-memory is returned directly; one found only in storage is
// rehydrated into a fresh runtime before being registered live. Either
// way, an expired session is closed and nil is returned instead.
func (m *Manager) Get(ctx context.Context, threadID string) (*Session, error) {
	if live := m.live.get(threadID); live != nil {
		if live.IsExpired(time.Now()) {
			if err := m.Delete(ctx, live.SessionID, "expired"); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return live, nil
	}

	row, err := m.store.GetLiveByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	if row.IsExpired(time.Now()) {
		if err := m.Delete(ctx, row.SessionID, "expired"); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if m.buildRuntime != nil {
		rt, err := m.buildRuntime(ctx, threadID, row.TerminalID, row.LeaseID)
		if err != nil {
			return nil, fmt.Errorf("chatsession: rehydrate runtime for %s: %w", row.SessionID, err)
		}
		row.Runtime = rt
	}
	m.live.put(threadID, row)
	return row, nil
}

// Create supersedes any existing live session for the thread (closing
// its runtime with reason "superseded") in the same store transaction
// as the insert, builds a fresh runtime, and registers the new session
// live.
func (m *Manager) Create(ctx context.Context, sessionID, threadID, terminalID, leaseID string, policy Policy) (*Session, error) {
	if existing := m.live.get(threadID); existing != nil && existing.SessionID != sessionID {
		m.closeRuntime(ctx, existing, "superseded")
		m.live.delete(threadID)
	}

	row, err := m.store.CreateSuperseding(ctx, sessionID, threadID, terminalID, leaseID, policy)
	if err != nil {
		return nil, err
	}

	if m.buildRuntime != nil {
		rt, err := m.buildRuntime(ctx, threadID, terminalID, leaseID)
		if err != nil {
			return nil, fmt.Errorf("chatsession: build runtime for %s: %w", sessionID, err)
		}
		row.Runtime = rt
	}
	m.live.put(threadID, row)
	return row, nil
}

// Touch updates last_active_at and marks the session active. A paused
// session is left untouched: neither its status nor last_active_at
// changes.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	s := m.live.popBySessionID(sessionID)
	defer func() {
		if s != nil {
			m.live.put(s.ThreadID, s)
		}
	}()

	current, err := m.currentStatus(ctx, sessionID, s)
	if err != nil {
		return err
	}
	if current == nil || *current == StatusPaused {
		return nil
	}

	if err := m.store.Touch(ctx, sessionID, *current); err != nil {
		return err
	}
	if s != nil {
		s.LastActiveAt = time.Now()
		if s.Status != StatusPaused {
			s.Status = StatusActive
		}
	}
	return nil
}

// Pause persists status=paused without touching the bound lease —
// lease pause/resume is the orchestrator's responsibility.
func (m *Manager) Pause(ctx context.Context, sessionID string) error {
	s := m.live.popBySessionID(sessionID)
	defer func() {
		if s != nil {
			m.live.put(s.ThreadID, s)
		}
	}()

	current, err := m.currentStatus(ctx, sessionID, s)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if err := AssertTransition(current, StatusPaused, "pause"); err != nil {
		return err
	}
	if err := m.store.SetStatus(ctx, sessionID, StatusPaused, "paused"); err != nil {
		return err
	}
	if s != nil {
		s.Status = StatusPaused
		s.CloseReason = "paused"
	}
	return nil
}

// Resume persists status=active, clearing close_reason.
func (m *Manager) Resume(ctx context.Context, sessionID string) error {
	s := m.live.popBySessionID(sessionID)
	defer func() {
		if s != nil {
			m.live.put(s.ThreadID, s)
		}
	}()

	current, err := m.currentStatus(ctx, sessionID, s)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if err := AssertTransition(current, StatusActive, "resume"); err != nil {
		return err
	}
	if err := m.store.SetStatus(ctx, sessionID, StatusActive, ""); err != nil {
		return err
	}
	if s != nil {
		s.Status = StatusActive
		s.CloseReason = ""
	}
	return nil
}

// currentStatus returns live's status if present, else the persisted
// status for sessionID, or nil if the session doesn't exist at all.
func (m *Manager) currentStatus(ctx context.Context, sessionID string, live *Session) (*Status, error) {
	if live != nil {
		st := live.Status
		return &st, nil
	}
	row, err := m.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	st := row.Status
	return &st, nil
}

// GetByID returns a session by id regardless of liveness, preferring
// the live copy (with its attached Runtime) when one is registered —
// used to validate session/thread ownership before a destructive call.
func (m *Manager) GetByID(ctx context.Context, sessionID string) (*Session, error) {
	for _, s := range m.live.snapshot() {
		if s.SessionID == sessionID {
			return s, nil
		}
	}
	return m.store.GetByID(ctx, sessionID)
}

// Delete closes the runtime (if live), persists status=closed with
// reason, and removes the session from the live registry.
func (m *Manager) Delete(ctx context.Context, sessionID, reason string) error {
	s := m.live.popBySessionID(sessionID)
	if s != nil {
		m.closeRuntime(ctx, s, reason)
	}
	return m.store.Close(ctx, sessionID, reason)
}

// CleanupExpired scans live sessions in storage and closes those
// exceeding their idle or max-duration TTL, returning the count
// closed.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	rows, err := m.store.ListLive(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	closed := 0
	for _, row := range rows {
		if row.IsExpired(now) {
			if err := m.Delete(ctx, row.SessionID, "expired"); err != nil {
				return closed, err
			}
			closed++
		}
	}
	return closed, nil
}

// ListLive returns every currently live session row.
func (m *Manager) ListLive(ctx context.Context) ([]*Session, error) {
	return m.store.ListLive(ctx)
}

func (m *Manager) closeRuntime(ctx context.Context, s *Session, reason string) {
	if s.Runtime == nil {
		return
	}
	if err := s.Runtime.Close(ctx); err != nil {
		slog.Warn("chatsession: runtime close failed", "session_id", s.SessionID, "reason", reason, "error", err)
	}
}
