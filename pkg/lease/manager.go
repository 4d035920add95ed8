package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
)

// FreshnessTTL is how long an observed lease state may be trusted before
// a caller must re-probe the provider. 3s matches the upstream default —
// long enough to avoid hammering providers on every command, short
// enough that a paused-out-from-under-us sandbox is noticed quickly.
const FreshnessTTL = 3 * time.Second

// Manager owns the SandboxLease state machine: every physical lifecycle
// write goes through Apply. Nothing outside this package ever mutates a
// Lease's desired/observed state directly.
type Manager struct {
	store *Store
	locks *lockRegistry
}

// NewManager builds a Manager backed by store.
func NewManager(store *Store) *Manager {
	return &Manager{store: store, locks: newLockRegistry()}
}

// Apply is the single entry point for physical lease lifecycle writes.
// It loads the latest snapshot (except for intent.ensure_running, which
// is invoked from inside EnsureActiveInstance's own critical section —
// see ensure.go), executes the event against the provider, persists the
// result, and appends an audit event row regardless of outcome.
func (m *Manager) Apply(ctx context.Context, leaseID string, prov provider.SandboxProvider, eventType, source string, payload map[string]any) (*Lease, error) {
	mu := m.locks.get(leaseID)
	mu.Lock()
	defer mu.Unlock()

	l, err := m.store.Get(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("lease: apply %s: lease not found", leaseID)
	}
	return m.applyLocked(ctx, l, prov, eventType, source, payload)
}

// applyLocked assumes the caller already holds the per-lease lock (the
// Go equivalent of the Python reentrant-lock call from inside
// ensureActiveInstance — see ensure.go for why this split exists).
func (m *Manager) applyLocked(ctx context.Context, l *Lease, prov provider.SandboxProvider, eventType, source string, payload map[string]any) (*Lease, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	now := time.Now()
	var applyErr error

	switch eventType {
	case EventIntentPause:
		applyErr = m.doPause(ctx, l, prov)
	case EventIntentResume:
		applyErr = m.doResume(ctx, l, prov)
	case EventIntentDestroy:
		applyErr = m.doDestroy(ctx, l, prov)
	case EventIntentEnsureRunning:
		applyErr = m.doEnsureRunning(l)
	case EventObserveStatus:
		applyErr = m.doObserveStatus(l, payload)
	case EventProviderError:
		m.doProviderError(l, payload, now)
	default:
		applyErr = fmt.Errorf("lease: unsupported event type %q", eventType)
	}

	l.Version++
	l.ObservedAt = &now

	if applyErr != nil {
		l.LastError = truncate(applyErr.Error(), 500)
		l.NeedsRefresh = true
		hint := time.Now()
		l.RefreshHintAt = &hint
		if err := m.store.PersistMetadataOnly(ctx, l); err != nil {
			return nil, err
		}
		_ = m.store.AppendEvent(ctx, Event{LeaseID: l.LeaseID, EventType: eventType, Source: source, Payload: payload, Error: applyErr.Error(), CreatedAt: now})
		return nil, applyErr
	}

	if err := m.store.PersistSnapshot(ctx, l); err != nil {
		return nil, err
	}
	if err := m.store.AppendEvent(ctx, Event{LeaseID: l.LeaseID, EventType: eventType, Source: source, Payload: payload, CreatedAt: now}); err != nil {
		return nil, err
	}
	return l, nil
}

func (m *Manager) doPause(ctx context.Context, l *Lease, prov provider.SandboxProvider) error {
	capability := prov.Capability()
	if !capability.CanPause {
		return fmt.Errorf("provider %s does not support pause", prov.Name())
	}
	if l.Instance == nil {
		return fmt.Errorf("lease %s has no instance to pause", l.LeaseID)
	}
	if err := prov.PauseSession(ctx, l.Instance.InstanceID); err != nil {
		return fmt.Errorf("provider pause_session failed for lease %s: %w", l.LeaseID, err)
	}
	l.DesiredState = "paused"
	if err := m.setObservedState(l, StatePaused, "intent.pause"); err != nil {
		return err
	}
	l.Status = "active"
	l.LastError = ""
	l.NeedsRefresh = false
	l.RefreshHintAt = nil
	return nil
}

func (m *Manager) doResume(ctx context.Context, l *Lease, prov provider.SandboxProvider) error {
	capability := prov.Capability()
	if !capability.CanResume {
		return fmt.Errorf("provider %s does not support resume", prov.Name())
	}
	if l.Instance == nil {
		return fmt.Errorf("lease %s has no instance to resume", l.LeaseID)
	}
	if err := prov.ResumeSession(ctx, l.Instance.InstanceID); err != nil {
		return fmt.Errorf("provider resume_session failed for lease %s: %w", l.LeaseID, err)
	}
	l.DesiredState = "running"
	if err := m.setObservedState(l, StateRunning, "intent.resume"); err != nil {
		return err
	}
	l.Status = "active"
	l.LastError = ""
	l.NeedsRefresh = false
	l.RefreshHintAt = nil
	return nil
}

func (m *Manager) doDestroy(ctx context.Context, l *Lease, prov provider.SandboxProvider) error {
	capability := prov.Capability()
	if !capability.CanDestroy {
		return fmt.Errorf("provider %s does not support destroy", prov.Name())
	}
	if l.Instance != nil {
		if err := prov.DestroySession(ctx, l.Instance.InstanceID, true); err != nil {
			return fmt.Errorf("provider destroy_session failed for lease %s: %w", l.LeaseID, err)
		}
	}
	l.DesiredState = "destroyed"
	if err := m.setObservedState(l, StateDetached, "intent.destroy"); err != nil {
		return err
	}
	l.Status = "expired"
	l.LastError = ""
	l.NeedsRefresh = false
	l.RefreshHintAt = nil
	return nil
}

func (m *Manager) doEnsureRunning(l *Lease) error {
	if l.Instance == nil {
		return fmt.Errorf("lease %s: intent.ensure_running requires bound instance", l.LeaseID)
	}
	l.DesiredState = "running"
	if err := m.setObservedState(l, StateRunning, "intent.ensure_running"); err != nil {
		return err
	}
	l.Status = "active"
	l.LastError = ""
	l.NeedsRefresh = false
	l.RefreshHintAt = nil
	return nil
}

func (m *Manager) doObserveStatus(l *Lease, payload map[string]any) error {
	raw, _ := payload["status"].(string)
	if raw == "" {
		raw, _ = payload["observed_state"].(string)
	}
	if raw == "" {
		raw = "unknown"
	}
	observed := NormalizeProviderState(raw)
	if err := m.setObservedState(l, observed, "observe.status"); err != nil {
		return err
	}
	if observed == StateDetached {
		l.Status = "expired"
	} else {
		l.Status = "active"
	}
	l.LastError = ""
	l.NeedsRefresh = false
	l.RefreshHintAt = nil
	return nil
}

func (m *Manager) doProviderError(l *Lease, payload map[string]any, now time.Time) {
	msg, _ := payload["error"].(string)
	if msg == "" {
		msg = "provider error"
	}
	l.LastError = truncate(msg, 500)
	l.NeedsRefresh = true
	l.RefreshHintAt = &now
}

// setObservedState mutates l's observed state (and bound instance, when
// relevant) after checking the transition is legal.
func (m *Manager) setObservedState(l *Lease, observed InstanceState, reason string) error {
	if (observed == StateRunning || observed == StatePaused || observed == StateUnknown) && l.Instance == nil {
		if observed == StateUnknown {
			l.ObservedState = StateUnknown
			return nil
		}
		return fmt.Errorf("lease %s: cannot set observed=%s without bound instance (%s)", l.LeaseID, observed, reason)
	}

	switch observed {
	case StateRunning, StatePaused, StateUnknown:
		current := l.instanceState()
		if err := AssertTransition(&current, observed, reason); err != nil {
			return err
		}
		if l.Instance != nil {
			l.Instance.Status = observed
		}
		l.ObservedState = observed
		return nil
	case StateDetached:
		current := l.instanceState()
		if err := AssertTransition(&current, StateDetached, reason); err != nil {
			return err
		}
		l.detachedInstance = l.Instance
		l.Instance = nil
		l.ObservedState = StateDetached
		return nil
	default:
		return fmt.Errorf("lease %s: invalid observed state %q", l.LeaseID, observed)
	}
}

// PauseInstance applies an intent.pause event.
func (m *Manager) PauseInstance(ctx context.Context, leaseID string, prov provider.SandboxProvider) error {
	_, err := m.Apply(ctx, leaseID, prov, EventIntentPause, "api", nil)
	return err
}

// ResumeInstance applies an intent.resume event.
func (m *Manager) ResumeInstance(ctx context.Context, leaseID string, prov provider.SandboxProvider) error {
	_, err := m.Apply(ctx, leaseID, prov, EventIntentResume, "api", nil)
	return err
}

// DestroyInstance applies an intent.destroy event.
func (m *Manager) DestroyInstance(ctx context.Context, leaseID string, prov provider.SandboxProvider) error {
	_, err := m.Apply(ctx, leaseID, prov, EventIntentDestroy, "api", nil)
	return err
}

// MarkNeedsRefresh flags a lease for forced re-probing on its next
// EnsureActiveInstance/RefreshInstanceStatus call.
func (m *Manager) MarkNeedsRefresh(ctx context.Context, leaseID string, hintAt *time.Time) error {
	at := time.Now()
	if hintAt != nil {
		at = *hintAt
	}
	return m.store.MarkNeedsRefresh(ctx, leaseID, at)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
