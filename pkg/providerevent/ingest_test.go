package providerevent_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/lease"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/providerevent"
	testdb "github.com/codeready-toolchain/tarsy-sandboxd/test/database"
)

// fakeE2B is a minimal provider.SandboxProvider double registered as
// "e2b" so webhook payloads that classify cleanly can be fed all the
// way through to the lease state machine.
type fakeE2B struct{ statuses map[string]string }

func newFakeE2B() *fakeE2B { return &fakeE2B{statuses: map[string]string{}} }

func (f *fakeE2B) Name() string { return "e2b" }
func (f *fakeE2B) Capability() provider.Capability {
	return provider.Capability{CanPause: true, CanResume: true, CanDestroy: true, SupportsWebhook: true, RuntimeKind: provider.RuntimeKindRemoteWrapped}
}
func (f *fakeE2B) CreateSession(ctx context.Context, contextID string) (provider.SessionInfo, error) {
	f.statuses[contextID] = "running"
	return provider.SessionInfo{SessionID: contextID, Provider: "e2b", Status: "running"}, nil
}
func (f *fakeE2B) DestroySession(ctx context.Context, sessionID string, sync bool) error {
	delete(f.statuses, sessionID)
	return nil
}
func (f *fakeE2B) PauseSession(ctx context.Context, sessionID string) error {
	f.statuses[sessionID] = "paused"
	return nil
}
func (f *fakeE2B) ResumeSession(ctx context.Context, sessionID string) error {
	f.statuses[sessionID] = "running"
	return nil
}
func (f *fakeE2B) GetSessionStatus(ctx context.Context, sessionID string) (string, error) {
	return f.statuses[sessionID], nil
}
func (f *fakeE2B) Execute(ctx context.Context, sessionID, command string, timeoutMS int, cwd string) (provider.ExecResult, error) {
	return provider.ExecResult{}, nil
}
func (f *fakeE2B) ReadFile(ctx context.Context, sessionID, path string) (string, error) {
	return "", nil
}
func (f *fakeE2B) WriteFile(ctx context.Context, sessionID, path, content string) (string, error) {
	return "", nil
}
func (f *fakeE2B) ListDir(ctx context.Context, sessionID, path string) ([]provider.DirEntry, error) {
	return nil, nil
}
func (f *fakeE2B) GetMetrics(ctx context.Context, sessionID string) (*provider.Metrics, error) {
	return nil, nil
}

func newTestIngester(t *testing.T) (*providerevent.Ingester, *lease.Store, *fakeE2B) {
	t.Helper()
	client := testdb.NewTestClient(t)
	leaseStore := lease.NewStore(client.Ent())
	leaseMgr := lease.NewManager(leaseStore)
	prov := newFakeE2B()
	registry := provider.NewRegistry(prov)
	store := providerevent.NewStore(client.Ent())
	secrets := map[string][]byte{"e2b": []byte("top-secret")}
	return providerevent.NewIngester(store, leaseStore, leaseMgr, registry, secrets), leaseStore, prov
}

func TestIngest_UnmatchedInstance_StillPersisted(t *testing.T) {
	ing, _, _ := newTestIngester(t)
	ctx := context.Background()

	res, err := ing.Ingest(ctx, "e2b", map[string]any{
		"type":      "sandbox.lifecycle.created",
		"sandboxId": "sbx-unknown",
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.False(t, res.Matched)
	assert.Empty(t, res.LeaseID)
}

func TestIngest_MatchedLease_AppliesObservedStatus(t *testing.T) {
	ing, leaseStore, prov := newTestIngester(t)
	ctx := context.Background()

	l, err := leaseStore.Create(ctx, "lease-webhook-1", "e2b", "")
	require.NoError(t, err)

	instanceID := "sbx-bound-1"
	if _, err := prov.CreateSession(ctx, instanceID); err != nil {
		require.NoError(t, err)
	}
	l.Instance = &lease.Instance{InstanceID: instanceID, ProviderName: "e2b", Status: lease.StateRunning}
	require.NoError(t, leaseStore.PersistSnapshot(ctx, l))

	res, err := ing.Ingest(ctx, "e2b", map[string]any{
		"type":      "sandbox.lifecycle.paused",
		"sandboxId": instanceID,
	})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "lease-webhook-1", res.LeaseID)

	updated, err := leaseStore.Get(ctx, "lease-webhook-1")
	require.NoError(t, err)
	assert.Equal(t, lease.StatePaused, updated.ObservedState)
	assert.False(t, updated.NeedsRefresh)
}

func TestIngest_MissingInstanceID(t *testing.T) {
	ing, _, _ := newTestIngester(t)
	_, err := ing.Ingest(context.Background(), "e2b", map[string]any{"type": "sandbox.lifecycle.created"})
	assert.ErrorIs(t, err, providerevent.ErrMissingInstanceID)
}

func TestIngest_UnparseablePayload_MarksMatchedLeaseForRefresh(t *testing.T) {
	ing, leaseStore, prov := newTestIngester(t)
	ctx := context.Background()

	l, err := leaseStore.Create(ctx, "lease-webhook-2", "e2b", "")
	require.NoError(t, err)
	instanceID := "sbx-bound-2"
	_, _ = prov.CreateSession(ctx, instanceID)
	l.Instance = &lease.Instance{InstanceID: instanceID, ProviderName: "e2b", Status: lease.StateRunning}
	require.NoError(t, leaseStore.PersistSnapshot(ctx, l))

	res, err := ing.Ingest(ctx, "e2b", map[string]any{
		"type":      "sandbox.lifecycle.mystery",
		"sandboxId": instanceID,
	})
	require.NoError(t, err)
	assert.True(t, res.Matched)

	updated, err := leaseStore.Get(ctx, "lease-webhook-2")
	require.NoError(t, err)
	assert.True(t, updated.NeedsRefresh)
}

func TestVerifyIfConfigured(t *testing.T) {
	ing, _, _ := newTestIngester(t)

	assert.NoError(t, ing.VerifyIfConfigured("local", []byte("body"), "whatever"))

	err := ing.VerifyIfConfigured("e2b", []byte("body"), "bad-signature")
	assert.ErrorIs(t, err, providerevent.ErrBadSignature)
}
