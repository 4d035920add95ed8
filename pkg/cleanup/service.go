// Package cleanup runs the periodic retention sweep over the raw
// provider webhook event log — the one durable table this module never
// prunes inline, since pkg/providerevent.Ingester appends unconditionally
// and pkg/runstream's own retention happens per-run inside
// pkg/runpipeline.Producer instead of here.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/providerevent"
)

// Service periodically deletes provider event rows older than
// retention. All operations are idempotent and safe to run from
// multiple processes.
type Service struct {
	events    *providerevent.Store
	retention time.Duration
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(events *providerevent.Store, retention, interval time.Duration) *Service {
	return &Service{events: events, retention: retention, interval: interval}
}

// Start launches the background cleanup loop. A second call is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup: service started", "retention", s.retention, "interval", s.interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup: service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.pruneProviderEvents(ctx)
}

func (s *Service) pruneProviderEvents(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	count, err := s.events.PruneOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("cleanup: prune provider events failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("cleanup: pruned provider events", "count", count)
	}
}
