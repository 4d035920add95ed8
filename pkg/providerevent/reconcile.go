package providerevent

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/lease"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
)

// Reconciler periodically force-probes leases flagged needs_refresh
// whose hint is older than staleAfter, covering the gap between webhook
// deliveries (a provider's webhook delivery can be delayed or dropped
// entirely). Ticking-loop shape grounded on pkg/cleanup/service.go, the
// same idiom pkg/sandbox.IdleReaper uses.
type Reconciler struct {
	leases     *lease.Store
	leaseMgr   *lease.Manager
	registry   *provider.Registry
	interval   time.Duration
	staleAfter time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler builds a Reconciler that ticks every interval, only
// acting on needs_refresh leases whose RefreshHintAt is older than
// staleAfter.
func NewReconciler(leases *lease.Store, leaseMgr *lease.Manager, registry *provider.Registry, interval, staleAfter time.Duration) *Reconciler {
	return &Reconciler{leases: leases, leaseMgr: leaseMgr, registry: registry, interval: interval, staleAfter: staleAfter}
}

// Start launches the background loop. A second call is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.run(ctx)
	slog.Info("providerevent: reconciler started", "interval", r.interval, "stale_after", r.staleAfter)
}

// Stop signals the loop to exit and waits for it to finish.
func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	slog.Info("providerevent: reconciler stopped")
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.sweepOnce(ctx)
			if err != nil {
				slog.Error("providerevent: reconcile sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("providerevent: reconcile sweep refreshed leases", "count", n)
			}
		}
	}
}

// sweepOnce force-refreshes every stale needs_refresh lease once.
func (r *Reconciler) sweepOnce(ctx context.Context) (int, error) {
	rows, err := r.leases.ListNeedingRefresh(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	refreshed := 0
	for _, l := range rows {
		if l.RefreshHintAt != nil && now.Sub(*l.RefreshHintAt) < r.staleAfter {
			continue
		}
		prov, ok := r.registry.Get(l.ProviderName)
		if !ok {
			slog.Warn("providerevent: reconcile sweep skipping lease with unregistered provider", "lease_id", l.LeaseID, "provider_name", l.ProviderName)
			continue
		}
		if _, err := r.leaseMgr.RefreshInstanceStatus(ctx, l.LeaseID, prov, true, lease.FreshnessTTL); err != nil {
			slog.Warn("providerevent: reconcile sweep failed for lease", "lease_id", l.LeaseID, "error", err)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}
