package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
)

// ErrPaused is returned when a caller tries to get or use an instance
// that is currently paused — the caller must resume explicitly first.
type ErrPaused struct {
	LeaseID string
}

func (e *ErrPaused) Error() string {
	return fmt.Sprintf("sandbox lease %s is paused; resume before executing commands", e.LeaseID)
}

// EnsureActiveInstance returns a running instance for leaseID, probing
// the provider or creating a fresh instance as needed. This is the one
// method that calls Apply from inside its own critical section — hence
// the applyLocked split in manager.go, since Go's sync.Mutex is not
// reentrant the way the Python original's per-lease RLock is.
func (m *Manager) EnsureActiveInstance(ctx context.Context, leaseID string, prov provider.SandboxProvider) (*Instance, error) {
	mu := m.locks.get(leaseID)

	l, err := m.store.Get(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("lease: ensure active instance %s: lease not found", leaseID)
	}
	capability := prov.Capability()

	if l.Instance != nil && l.ObservedState == StateRunning && l.IsFresh(FreshnessTTL) && !l.NeedsRefresh {
		return l.Instance, nil
	}

	if l.Instance != nil {
		inst, done, err := m.probeAndApply(ctx, mu, l, prov, capability, "run.refresh")
		if done {
			return inst, err
		}
	}

	mu.Lock()
	defer mu.Unlock()

	refreshed, err := m.store.Get(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if refreshed != nil {
		l = refreshed
	}

	if l.Instance != nil {
		inst, done, err := m.probeAndApplyLocked(ctx, l, prov, capability, "run.refresh_locked")
		if done {
			return inst, err
		}
	}

	l.Status = "recovering"
	if err := m.store.PersistMetadataOnly(ctx, l); err != nil {
		return nil, err
	}

	info, err := prov.CreateSession(ctx, "leon-"+l.LeaseID)
	if err != nil {
		return nil, fmt.Errorf("lease %s: create_session failed: %w", l.LeaseID, err)
	}
	l.Instance = &Instance{
		InstanceID:   info.SessionID,
		ProviderName: l.ProviderName,
		Status:       StateRunning,
		CreatedAt:    time.Now(),
	}
	updated, err := m.applyLocked(ctx, l, prov, EventIntentEnsureRunning, "run.create", map[string]any{
		"created":     true,
		"instance_id": info.SessionID,
	})
	if err != nil {
		return nil, err
	}
	if updated.Instance == nil {
		return nil, fmt.Errorf("lease %s: failed to bind created instance", l.LeaseID)
	}
	return updated.Instance, nil
}

// probeAndApply acquires the lock for the duration of the probe. It
// returns done=true when the caller should return (inst, err)
// immediately; done=false means the unlocked fast path didn't resolve
// things and the caller should fall through to the locked retry.
func (m *Manager) probeAndApply(ctx context.Context, mu lockerWithTryApply, l *Lease, prov provider.SandboxProvider, capability provider.Capability, source string) (*Instance, bool, error) {
	if !capability.SupportsStatusProbe {
		inst, err := noProbeInstanceOrRaise(l)
		return inst, true, err
	}
	mu.Lock()
	defer mu.Unlock()
	return m.probeAndApplyLocked(ctx, l, prov, capability, source)
}

// probeAndApplyLocked assumes the per-lease lock is already held.
func (m *Manager) probeAndApplyLocked(ctx context.Context, l *Lease, prov provider.SandboxProvider, capability provider.Capability, source string) (*Instance, bool, error) {
	if !capability.SupportsStatusProbe {
		inst, err := noProbeInstanceOrRaise(l)
		return inst, true, err
	}
	status, err := prov.GetSessionStatus(ctx, l.Instance.InstanceID)
	if err != nil {
		m.recordProviderError(ctx, l, err.Error())
		return nil, false, nil
	}
	updated, err := m.applyLocked(ctx, l, prov, EventObserveStatus, source, map[string]any{"status": status})
	if err != nil {
		return nil, true, err
	}
	*l = *updated
	if l.ObservedState == StateRunning && l.Instance != nil {
		return l.Instance, true, nil
	}
	if l.ObservedState == StatePaused {
		return nil, true, &ErrPaused{LeaseID: l.LeaseID}
	}
	return nil, false, nil
}

func (m *Manager) recordProviderError(ctx context.Context, l *Lease, message string) {
	l.LastError = truncate(message, 500)
	l.NeedsRefresh = true
	hint := time.Now()
	l.RefreshHintAt = &hint
	l.Version++
	_ = m.store.PersistMetadataOnly(ctx, l)
}

func noProbeInstanceOrRaise(l *Lease) (*Instance, error) {
	if l.ObservedState == StatePaused {
		return nil, &ErrPaused{LeaseID: l.LeaseID}
	}
	return l.Instance, nil
}

// RefreshInstanceStatus re-probes the provider for leaseID's bound
// instance when stale (or force=true), returning the resulting observed
// state. Used by the idle reaper and the provider-event reconciler.
func (m *Manager) RefreshInstanceStatus(ctx context.Context, leaseID string, prov provider.SandboxProvider, force bool, maxAge time.Duration) (InstanceState, error) {
	mu := m.locks.get(leaseID)
	mu.Lock()
	defer mu.Unlock()

	l, err := m.store.Get(ctx, leaseID)
	if err != nil {
		return "", err
	}
	if l == nil {
		return "", fmt.Errorf("lease: refresh instance status %s: lease not found", leaseID)
	}
	capability := prov.Capability()

	if l.NeedsRefresh {
		force = true
	}
	if l.Instance == nil {
		return StateDetached, nil
	}
	if !capability.SupportsStatusProbe {
		return l.ObservedState, nil
	}
	if !force && l.IsFresh(maxAge) {
		return l.ObservedState, nil
	}

	status, err := prov.GetSessionStatus(ctx, l.Instance.InstanceID)
	if err != nil {
		updated, applyErr := m.applyLocked(ctx, l, prov, EventProviderError, "read.status", map[string]any{"error": err.Error()})
		if applyErr != nil {
			return "", applyErr
		}
		return updated.ObservedState, nil
	}
	updated, err := m.applyLocked(ctx, l, prov, EventObserveStatus, "read.status", map[string]any{"status": status})
	if err != nil {
		return "", err
	}
	return updated.ObservedState, nil
}

// lockerWithTryApply is the subset of *sync.Mutex probeAndApply needs;
// defined as an interface purely so probeAndApply's signature doesn't
// leak the sync package into its callers' mental model.
type lockerWithTryApply interface {
	Lock()
	Unlock()
}
