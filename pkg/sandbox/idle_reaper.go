package sandbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/chatsession"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/lease"
)

// IdleReaper periodically pauses cost-bearing leases and closes idle
// chat sessions. Ticking-loop shape grounded on pkg/cleanup/service.go:
// a context.CancelFunc plus a done channel the caller blocks on in
// Stop.
type IdleReaper struct {
	mgr      *Manager
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewIdleReaper builds a reaper that ticks every interval.
func NewIdleReaper(mgr *Manager, interval time.Duration) *IdleReaper {
	return &IdleReaper{mgr: mgr, interval: interval}
}

// Start launches the background loop. A second call is a no-op.
func (r *IdleReaper) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.run(ctx)
	slog.Info("sandbox: idle reaper started", "interval", r.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (r *IdleReaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	slog.Info("sandbox: idle reaper stopped")
}

func (r *IdleReaper) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, err := r.mgr.EnforceIdleTimeouts(ctx)
			if err != nil {
				slog.Error("sandbox: enforce idle timeouts failed", "error", err)
				continue
			}
			if closed > 0 {
				slog.Info("sandbox: idle reaper closed sessions", "count", closed)
			}
		}
	}
}

// EnforceIdleTimeouts closes chat sessions past their idle or
// max-duration TTL. A session whose terminal is busy (an in-flight
// Handle.Execute) is left alone and retried next tick. When another
// live session still shares the lease, this session closes but the
// lease is left running. Otherwise the lease is paused before the
// session closes, but
// only if the lease itself isn't busy and its provider's capability
// declares CanPause — which is false for the local provider, so a
// local-backed thread's idle session still closes on schedule, it just
// never gets a pause_session call first (matching capability-driven
// dispatch everywhere else in this module; there is no switch on
// provider name here).
func (m *Manager) EnforceIdleTimeouts(ctx context.Context) (int, error) {
	rows, err := m.sessions.ListLive(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	closed := 0

	for _, row := range rows {
		if !row.IsExpired(now) {
			continue
		}

		term, err := m.termStore.GetByID(ctx, row.TerminalID)
		if err != nil {
			return closed, err
		}
		if term == nil {
			continue
		}
		l, err := m.leaseStore.Get(ctx, term.LeaseID)
		if err != nil {
			return closed, err
		}
		if l == nil {
			continue
		}

		if m.busy.terminalBusy(term.TerminalID) {
			continue
		}

		hasOtherActive := false
		for _, other := range rows {
			if other.SessionID == row.SessionID || other.LeaseID != l.LeaseID {
				continue
			}
			if other.Status != chatsession.StatusActive && other.Status != chatsession.StatusIdle {
				continue
			}
			if other.IsExpired(now) {
				continue
			}
			hasOtherActive = true
			break
		}

		if !hasOtherActive {
			if m.busy.leaseBusy(l.LeaseID) {
				continue
			}
			prov, err := m.resolveProvider(l.ProviderName)
			if err != nil {
				return closed, err
			}
			status, err := m.leaseManager.RefreshInstanceStatus(ctx, l.LeaseID, prov, false, lease.FreshnessTTL)
			if err != nil {
				return closed, err
			}
			if status == lease.StateRunning && prov.Capability().CanPause {
				if err := m.leaseManager.PauseInstance(ctx, l.LeaseID, prov); err != nil {
					slog.Warn("sandbox: idle reaper failed to pause lease", "lease_id", l.LeaseID, "thread_id", row.ThreadID, "error", err)
					continue
				}
			}
		}

		if err := m.sessions.Delete(ctx, row.SessionID, "idle_timeout"); err != nil {
			return closed, err
		}
		closed++
	}

	return closed, nil
}
