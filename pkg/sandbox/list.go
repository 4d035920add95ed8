package sandbox

import (
	"context"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/lease"
)

// ListSessions joins every lease bound to the given provider with its
// thread-terminal bindings, producing one row per (lease, thread) pair.
// A lease whose refreshed status is detached is excluded. The original
// implementation additionally surfaces provider-reported sessions with
// no matching lease row as source="provider_orphan"; SandboxProvider in
// this module has no optional list-all-sessions method to source those
// from (none of the providers the pack grounds this module on — local
// shell, remote gRPC — expose one), so that half is left for a future
// provider capable of reporting it.
func (m *Manager) ListSessions(ctx context.Context, providerName string) ([]SessionInfo, error) {
	prov, err := m.resolveProvider(providerName)
	if err != nil {
		return nil, err
	}

	terms, err := m.termStore.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	threadsByLease := make(map[string][]string)
	for _, t := range terms {
		threadsByLease[t.LeaseID] = appendUnique(threadsByLease[t.LeaseID], t.ThreadID)
	}

	liveRows, err := m.sessions.ListLive(ctx)
	if err != nil {
		return nil, err
	}
	chatByThreadLease := make(map[[2]string]chatRow, len(liveRows))
	for _, row := range liveRows {
		key := [2]string{row.ThreadID, row.LeaseID}
		if _, ok := chatByThreadLease[key]; !ok {
			chatByThreadLease[key] = chatRow{sessionID: row.SessionID, lastActive: row.LastActiveAt}
		}
	}

	inspectVisible := prov.Capability().InspectVisible

	var out []SessionInfo
	leases, err := m.leaseStore.ListByProvider(ctx, providerName)
	if err != nil {
		return nil, err
	}
	for _, l := range leases {
		if l.Instance == nil {
			continue
		}
		status, err := m.leaseManager.RefreshInstanceStatus(ctx, l.LeaseID, prov, false, lease.FreshnessTTL)
		if err != nil {
			return nil, err
		}
		if status == lease.StateDetached {
			continue
		}

		threads := threadsByLease[l.LeaseID]
		if len(threads) == 0 {
			out = append(out, SessionInfo{
				SessionID:      l.Instance.InstanceID,
				ThreadID:       "(untracked)",
				Provider:       providerName,
				Status:         string(status),
				CreatedAt:      l.CreatedAt,
				LastActive:     l.UpdatedAt,
				LeaseID:        l.LeaseID,
				InstanceID:     l.Instance.InstanceID,
				Source:         sourceLease,
				InspectVisible: inspectVisible,
			})
			continue
		}

		for _, threadID := range threads {
			chat := chatByThreadLease[[2]string{threadID, l.LeaseID}]
			lastActive := l.UpdatedAt
			if !chat.lastActive.IsZero() {
				lastActive = chat.lastActive
			}
			out = append(out, SessionInfo{
				SessionID:      l.Instance.InstanceID,
				ThreadID:       threadID,
				Provider:       providerName,
				Status:         string(status),
				CreatedAt:      l.CreatedAt,
				LastActive:     lastActive,
				LeaseID:        l.LeaseID,
				InstanceID:     l.Instance.InstanceID,
				ChatSessionID:  chat.sessionID,
				Source:         sourceLease,
				InspectVisible: inspectVisible,
			})
		}
	}
	return out, nil
}

type chatRow struct {
	sessionID  string
	lastActive time.Time
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
