package sandbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/chatsession"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/lease"
)

// PauseSession pauses the thread's bound compute instance (re-resolving
// it through EnsureActiveInstance first, so a stale detached binding is
// never mistaken for one that needs pausing) and transitions every live
// chat session on the thread to paused.
func (m *Manager) PauseSession(ctx context.Context, threadID string) error {
	terms, err := m.getThreadTerminals(ctx, threadID)
	if err != nil {
		return err
	}
	if len(terms) == 0 {
		return fmt.Errorf("sandbox: pause: thread %s has no terminals", threadID)
	}

	l, err := m.getThreadLease(ctx, threadID)
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("sandbox: pause: thread %s has no lease", threadID)
	}
	prov, err := m.resolveProvider(l.ProviderName)
	if err != nil {
		return err
	}

	if l.ObservedState != lease.StatePaused {
		if _, err := m.leaseManager.EnsureActiveInstance(ctx, l.LeaseID, prov); err != nil {
			return fmt.Errorf("sandbox: pause: ensure active instance for lease %s: %w", l.LeaseID, err)
		}
		if err := m.leaseManager.PauseInstance(ctx, l.LeaseID, prov); err != nil {
			return fmt.Errorf("sandbox: pause: %w", err)
		}
	}

	sess, err := m.sessions.Get(ctx, threadID)
	if err != nil {
		return err
	}
	if sess != nil && sess.Status != chatsession.StatusPaused {
		if err := m.sessions.Pause(ctx, sess.SessionID); err != nil {
			return err
		}
	}
	return nil
}

// ResumeSession resumes the thread's lease unconditionally (resume is
// provider-idempotent) and resumes its live chat session, or creates a
// fresh one via GetSandbox if the thread's terminals currently have
// none.
func (m *Manager) ResumeSession(ctx context.Context, threadID string) error {
	l, err := m.getThreadLease(ctx, threadID)
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("sandbox: resume: thread %s has no lease", threadID)
	}
	prov, err := m.resolveProvider(l.ProviderName)
	if err != nil {
		return err
	}
	if err := m.leaseManager.ResumeInstance(ctx, l.LeaseID, prov); err != nil {
		return fmt.Errorf("sandbox: resume: %w", err)
	}

	sess, err := m.sessions.Get(ctx, threadID)
	if err != nil {
		return err
	}
	if sess != nil {
		return m.sessions.Resume(ctx, sess.SessionID)
	}

	_, err = m.GetSandbox(ctx, threadID)
	return err
}

// PauseAllSessions pauses every thread with a live session, skipping
// ones already paused earlier in the same call and logging (without
// failing the whole sweep) any individual pause failure — used for
// graceful shutdown.
func (m *Manager) PauseAllSessions(ctx context.Context) (int, error) {
	rows, err := m.sessions.ListLive(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	paused := make(map[string]bool, len(rows))
	for _, row := range rows {
		if paused[row.ThreadID] {
			continue
		}
		if err := m.PauseSession(ctx, row.ThreadID); err != nil {
			slog.Warn("sandbox: pause_all_sessions failed for thread", "thread_id", row.ThreadID, "error", err)
			continue
		}
		paused[row.ThreadID] = true
		count++
	}
	return count, nil
}

// DestroySession validates an optional session_id against threadID
// (hard error on disagreement) and destroys every physical resource the
// thread owns.
func (m *Manager) DestroySession(ctx context.Context, threadID, sessionID string) error {
	if sessionID != "" {
		row, err := m.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if row != nil && row.ThreadID != threadID {
			return fmt.Errorf("sandbox: session %s belongs to thread %s, not thread %s", sessionID, row.ThreadID, threadID)
		}
	}

	terms, err := m.getThreadTerminals(ctx, threadID)
	if err != nil {
		return err
	}
	if len(terms) == 0 {
		return fmt.Errorf("sandbox: destroy: thread %s has no terminals", threadID)
	}
	return m.DestroyThreadResources(ctx, threadID)
}

// DestroyThreadResources closes the thread's chat session, deletes its
// terminal rows, destroys each referenced lease's compute instance, and
// deletes any lease no longer referenced by any terminal. A thread that
// never acquired any sandbox resources is a no-op, not an error: the
// thread-deletion cascade calls this unconditionally for every thread
// regardless of whether it ever ran anything.
func (m *Manager) DestroyThreadResources(ctx context.Context, threadID string) error {
	terms, err := m.getThreadTerminals(ctx, threadID)
	if err != nil {
		return err
	}
	if len(terms) == 0 {
		return nil
	}

	leaseIDs := make(map[string]bool, len(terms))
	for _, t := range terms {
		leaseIDs[t.LeaseID] = true
	}

	sess, err := m.sessions.Get(ctx, threadID)
	if err != nil {
		return err
	}
	if sess != nil {
		if err := m.sessions.Delete(ctx, sess.SessionID, "thread_deleted"); err != nil {
			return err
		}
	}

	if err := m.termStore.DeleteByThread(ctx, threadID); err != nil {
		return err
	}

	for leaseID := range leaseIDs {
		l, err := m.leaseStore.Get(ctx, leaseID)
		if err != nil {
			return err
		}
		if l == nil {
			return fmt.Errorf("sandbox: destroy thread resources: missing lease %s for thread %s", leaseID, threadID)
		}
		prov, err := m.resolveProvider(l.ProviderName)
		if err != nil {
			return err
		}
		if err := m.leaseManager.DestroyInstance(ctx, leaseID, prov); err != nil {
			return fmt.Errorf("sandbox: destroy thread resources: destroy lease %s: %w", leaseID, err)
		}
		inUse, err := m.termStore.ExistsForLease(ctx, leaseID)
		if err != nil {
			return err
		}
		if !inUse {
			if err := m.leaseStore.Delete(ctx, leaseID); err != nil {
				return err
			}
		}
	}
	return nil
}
