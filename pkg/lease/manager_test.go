package lease_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/lease"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
	testdb "github.com/codeready-toolchain/tarsy-sandboxd/test/database"
)

// fakeProvider is a minimal in-memory provider.SandboxProvider double for
// exercising the lease state machine without a real backend.
type fakeProvider struct {
	mu         sync.Mutex
	name       string
	capability provider.Capability
	statuses   map[string]string
	createErr  error
	nextID     int
}

func newFakeProvider(name string, cap provider.Capability) *fakeProvider {
	return &fakeProvider{name: name, capability: cap, statuses: make(map[string]string)}
}

func (f *fakeProvider) Name() string                    { return f.name }
func (f *fakeProvider) Capability() provider.Capability { return f.capability }

func (f *fakeProvider) CreateSession(ctx context.Context, contextID string) (provider.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return provider.SessionInfo{}, f.createErr
	}
	f.nextID++
	id := contextID
	f.statuses[id] = "running"
	return provider.SessionInfo{SessionID: id, Provider: f.name, Status: "running"}, nil
}

func (f *fakeProvider) DestroySession(ctx context.Context, sessionID string, sync bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.statuses, sessionID)
	return nil
}

func (f *fakeProvider) PauseSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[sessionID] = "paused"
	return nil
}

func (f *fakeProvider) ResumeSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[sessionID] = "running"
	return nil
}

func (f *fakeProvider) GetSessionStatus(ctx context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[sessionID], nil
}

func (f *fakeProvider) Execute(ctx context.Context, sessionID, command string, timeoutMS int, cwd string) (provider.ExecResult, error) {
	return provider.ExecResult{}, nil
}
func (f *fakeProvider) ReadFile(ctx context.Context, sessionID, path string) (string, error) {
	return "", nil
}
func (f *fakeProvider) WriteFile(ctx context.Context, sessionID, path, content string) (string, error) {
	return "", nil
}
func (f *fakeProvider) ListDir(ctx context.Context, sessionID, path string) ([]provider.DirEntry, error) {
	return nil, nil
}
func (f *fakeProvider) GetMetrics(ctx context.Context, sessionID string) (*provider.Metrics, error) {
	return nil, nil
}

func fullCapability() provider.Capability {
	return provider.Capability{
		CanPause: true, CanResume: true, CanDestroy: true,
		SupportsStatusProbe: true, RuntimeKind: provider.RuntimeKindRemoteWrapped,
	}
}

func TestEnsureActiveInstance_CreatesWhenDetached(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := lease.NewStore(client.Ent())
	mgr := lease.NewManager(store)
	prov := newFakeProvider("fake", fullCapability())
	ctx := context.Background()

	_, err := store.Create(ctx, "lease-1", "fake", "")
	require.NoError(t, err)

	inst, err := mgr.EnsureActiveInstance(ctx, "lease-1", prov)
	require.NoError(t, err)
	assert.Equal(t, "leon-lease-1", inst.InstanceID)
	assert.Equal(t, lease.StateRunning, inst.Status)
}

func TestEnsureActiveInstance_ReusesFreshRunningInstance(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := lease.NewStore(client.Ent())
	mgr := lease.NewManager(store)
	prov := newFakeProvider("fake", fullCapability())
	ctx := context.Background()

	_, err := store.Create(ctx, "lease-2", "fake", "")
	require.NoError(t, err)
	first, err := mgr.EnsureActiveInstance(ctx, "lease-2", prov)
	require.NoError(t, err)

	second, err := mgr.EnsureActiveInstance(ctx, "lease-2", prov)
	require.NoError(t, err)
	assert.Equal(t, first.InstanceID, second.InstanceID)
}

func TestPauseThenEnsureActiveInstance_Fails(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := lease.NewStore(client.Ent())
	mgr := lease.NewManager(store)
	prov := newFakeProvider("fake", fullCapability())
	ctx := context.Background()

	_, err := store.Create(ctx, "lease-3", "fake", "")
	require.NoError(t, err)
	_, err = mgr.EnsureActiveInstance(ctx, "lease-3", prov)
	require.NoError(t, err)

	require.NoError(t, mgr.PauseInstance(ctx, "lease-3", prov))

	_, err = mgr.EnsureActiveInstance(ctx, "lease-3", prov)
	assert.ErrorAs(t, err, new(*lease.ErrPaused))
}

func TestDestroyInstance_UnsupportedProviderFails(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := lease.NewStore(client.Ent())
	mgr := lease.NewManager(store)
	readOnly := newFakeProvider("fake", provider.Capability{SupportsStatusProbe: true})
	ctx := context.Background()

	_, err := store.Create(ctx, "lease-4", "fake", "")
	require.NoError(t, err)

	err = mgr.DestroyInstance(ctx, "lease-4", readOnly)
	assert.Error(t, err)
}
