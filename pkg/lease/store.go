package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/ent"
	"github.com/codeready-toolchain/tarsy-sandboxd/ent/sandboxinstance"
	"github.com/codeready-toolchain/tarsy-sandboxd/ent/sandboxlease"
)

// Store persists Lease snapshots and their audit trail via ent. It holds
// no business logic — Manager owns the state machine and calls Store
// only to read and write rows.
type Store struct {
	client *ent.Client
}

// NewStore wraps an ent client.
func NewStore(client *ent.Client) *Store {
	return &Store{client: client}
}

// Get loads a lease snapshot, or nil if it doesn't exist.
func (s *Store) Get(ctx context.Context, leaseID string) (*Lease, error) {
	row, err := s.client.SandboxLease.Query().
		Where(sandboxlease.ID(leaseID)).
		Only(ctx)
	if ent.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease: get %s: %w", leaseID, err)
	}
	return fromRow(ctx, s.client, row)
}

// Create inserts a brand-new lease row with no bound instance, desired
// state "running", observed state "detached".
func (s *Store) Create(ctx context.Context, leaseID, providerName, workspaceKey string) (*Lease, error) {
	builder := s.client.SandboxLease.Create().
		SetID(leaseID).
		SetProviderName(providerName).
		SetDesiredState(sandboxlease.DesiredStateRunning).
		SetObservedState(sandboxlease.ObservedStateDetached).
		SetVersion(0).
		SetStatus("active")
	if workspaceKey != "" {
		builder = builder.SetWorkspaceKey(workspaceKey)
	}
	row, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("lease: create %s: %w", leaseID, err)
	}
	return fromRow(ctx, s.client, row)
}

// FindByInstance looks up the lease currently bound to a given provider
// instance id, used by the webhook reconciler to match an inbound
// provider event back to a lease.
func (s *Store) FindByInstance(ctx context.Context, providerName, instanceID string) (*Lease, error) {
	row, err := s.client.SandboxLease.Query().
		Where(
			sandboxlease.ProviderName(providerName),
			sandboxlease.CurrentInstanceID(instanceID),
		).
		Only(ctx)
	if ent.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease: find by instance %s/%s: %w", providerName, instanceID, err)
	}
	return fromRow(ctx, s.client, row)
}

// PersistSnapshot writes the full lease + bound-instance state back.
// When detachedInstance is non-nil, that instance's row is marked detached — this
// mirrors the moment a lease transitions its currently-bound instance out
// to detached.
func (s *Store) PersistSnapshot(ctx context.Context, l *Lease) error {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("lease: persist snapshot begin tx: %w", err)
	}

	update := tx.SandboxLease.UpdateOneID(l.LeaseID).
		SetDesiredState(sandboxlease.DesiredState(l.DesiredState)).
		SetObservedState(sandboxlease.ObservedState(l.ObservedState)).
		SetVersion(l.Version).
		SetNeedsRefresh(l.NeedsRefresh).
		SetStatus(l.Status).
		SetUpdatedAt(time.Now())
	if l.Instance != nil {
		update = update.SetCurrentInstanceID(l.Instance.InstanceID).SetInstanceCreatedAt(l.Instance.CreatedAt)
	} else {
		update = update.ClearCurrentInstanceID().ClearInstanceCreatedAt()
	}
	if l.ObservedAt != nil {
		update = update.SetObservedAt(*l.ObservedAt)
	}
	if l.LastError != "" {
		update = update.SetLastError(l.LastError)
	} else {
		update = update.ClearLastError()
	}
	if l.RefreshHintAt != nil {
		update = update.SetRefreshHintAt(*l.RefreshHintAt)
	} else {
		update = update.ClearRefreshHintAt()
	}
	if _, err := update.Save(ctx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("lease: persist snapshot update %s: %w", l.LeaseID, err)
	}

	if l.Instance != nil {
		err = tx.SandboxInstance.Create().
			SetID(l.Instance.InstanceID).
			SetLeaseID(l.LeaseID).
			SetStatus(sandboxinstance.Status(l.Instance.Status)).
			SetCreatedAt(l.Instance.CreatedAt).
			SetLastSeenAt(time.Now()).
			OnConflict().
			UpdateStatus().
			UpdateLastSeenAt().
			Exec(ctx)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("lease: persist snapshot upsert instance %s: %w", l.Instance.InstanceID, err)
		}
	}

	if l.detachedInstance != nil {
		if err := tx.SandboxInstance.UpdateOneID(l.detachedInstance.InstanceID).
			SetStatus(sandboxinstance.StatusDetached).
			SetLastSeenAt(time.Now()).
			Exec(ctx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("lease: persist snapshot detach instance %s: %w", l.detachedInstance.InstanceID, err)
		}
		l.detachedInstance = nil
	}

	return tx.Commit()
}

// PersistMetadataOnly writes lease-level fields without touching any
// instance row — used on the error path, where no instance transition
// happened.
func (s *Store) PersistMetadataOnly(ctx context.Context, l *Lease) error {
	update := s.client.SandboxLease.UpdateOneID(l.LeaseID).
		SetDesiredState(sandboxlease.DesiredState(l.DesiredState)).
		SetObservedState(sandboxlease.ObservedState(l.ObservedState)).
		SetVersion(l.Version).
		SetNeedsRefresh(l.NeedsRefresh).
		SetStatus(l.Status).
		SetUpdatedAt(time.Now())
	if l.ObservedAt != nil {
		update = update.SetObservedAt(*l.ObservedAt)
	}
	if l.LastError != "" {
		update = update.SetLastError(l.LastError)
	}
	if l.RefreshHintAt != nil {
		update = update.SetRefreshHintAt(*l.RefreshHintAt)
	}
	if _, err := update.Save(ctx); err != nil {
		return fmt.Errorf("lease: persist metadata %s: %w", l.LeaseID, err)
	}
	return nil
}

// AppendEvent inserts one audit-log row. Never mutated once written.
func (s *Store) AppendEvent(ctx context.Context, ev Event) error {
	builder := s.client.LeaseEvent.Create().
		SetLeaseID(ev.LeaseID).
		SetEventType(ev.EventType).
		SetSource(ev.Source).
		SetCreatedAt(ev.CreatedAt)
	if ev.Payload != nil {
		builder = builder.SetPayload(ev.Payload)
	}
	if ev.Error != "" {
		builder = builder.SetError(ev.Error)
	}
	if _, err := builder.Save(ctx); err != nil {
		return fmt.Errorf("lease: append event for %s: %w", ev.LeaseID, err)
	}
	return nil
}

// MarkNeedsRefresh flips needs_refresh on a lease row without a full
// snapshot round-trip — used by the webhook ingester on parse failures
// and by Manager.MarkNeedsRefresh.
func (s *Store) MarkNeedsRefresh(ctx context.Context, leaseID string, hintAt time.Time) error {
	_, err := s.client.SandboxLease.UpdateOneID(leaseID).
		SetNeedsRefresh(true).
		SetRefreshHintAt(hintAt).
		AddVersion(1).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("lease: mark needs refresh %s: %w", leaseID, err)
	}
	return nil
}

// Delete removes a lease row and cascades to its instances, events, and
// terminals via the FK ON DELETE CASCADE annotations on those schemas.
func (s *Store) Delete(ctx context.Context, leaseID string) error {
	if err := s.client.SandboxLease.DeleteOneID(leaseID).Exec(ctx); err != nil && !ent.IsNotFound(err) {
		return fmt.Errorf("lease: delete %s: %w", leaseID, err)
	}
	return nil
}

// ListByProvider returns every lease bound to providerName, used by
// list_sessions to join lease rows against thread-terminal bindings.
func (s *Store) ListByProvider(ctx context.Context, providerName string) ([]*Lease, error) {
	rows, err := s.client.SandboxLease.Query().
		Where(sandboxlease.ProviderName(providerName)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("lease: list by provider %s: %w", providerName, err)
	}
	out := make([]*Lease, 0, len(rows))
	for _, row := range rows {
		l, err := fromRow(ctx, s.client, row)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// ListNeedingRefresh returns leases flagged needs_refresh, used by the
// provider-event reconciler's periodic sweep.
func (s *Store) ListNeedingRefresh(ctx context.Context) ([]*Lease, error) {
	rows, err := s.client.SandboxLease.Query().
		Where(sandboxlease.NeedsRefresh(true)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("lease: list needing refresh: %w", err)
	}
	out := make([]*Lease, 0, len(rows))
	for _, row := range rows {
		l, err := fromRow(ctx, s.client, row)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// fromRow converts an ent row into a Lease snapshot, resolving its bound
// instance (if any) in a follow-up query.
func fromRow(ctx context.Context, client *ent.Client, row *ent.SandboxLease) (*Lease, error) {
	l := &Lease{
		LeaseID:       row.ID,
		ProviderName:  row.ProviderName,
		DesiredState:  string(row.DesiredState),
		ObservedState: InstanceState(row.ObservedState),
		Version:       row.Version,
		NeedsRefresh:  row.NeedsRefresh,
		Status:        row.Status,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.WorkspaceKey != nil {
		l.WorkspaceKey = *row.WorkspaceKey
	}
	if row.LastError != nil {
		l.LastError = *row.LastError
	}
	if row.ObservedAt != nil {
		l.ObservedAt = row.ObservedAt
	}
	if row.RefreshHintAt != nil {
		l.RefreshHintAt = row.RefreshHintAt
	}
	if row.CurrentInstanceID != nil {
		inst, err := client.SandboxInstance.Get(ctx, *row.CurrentInstanceID)
		if err != nil && !ent.IsNotFound(err) {
			return nil, fmt.Errorf("lease: load bound instance %s: %w", *row.CurrentInstanceID, err)
		}
		if inst != nil {
			l.Instance = &Instance{
				InstanceID:   inst.ID,
				ProviderName: l.ProviderName,
				Status:       InstanceState(inst.Status),
				CreatedAt:    inst.CreatedAt,
			}
		}
	}
	return l, nil
}
