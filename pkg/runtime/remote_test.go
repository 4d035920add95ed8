package runtime_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/lease"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runtime"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/terminal"
	testdb "github.com/codeready-toolchain/tarsy-sandboxd/test/database"
)

// scriptedProvider is a provider.SandboxProvider double that records
// every Execute call and can be scripted to fail exactly once with an
// infra-classified error, then recover.
type scriptedProvider struct {
	mu         sync.Mutex
	name       string
	capability provider.Capability
	status     string
	calls      []string
	failOnce   bool
	failedOnce bool
	classifier provider.Classifier
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{
		name:   "scripted",
		status: "running",
		capability: provider.Capability{
			CanPause: true, CanResume: true, CanDestroy: true,
			SupportsStatusProbe: true, RuntimeKind: provider.RuntimeKindRemoteWrapped,
		},
	}
}

func (p *scriptedProvider) Name() string                    { return p.name }
func (p *scriptedProvider) Capability() provider.Capability { return p.capability }

func (p *scriptedProvider) CreateSession(ctx context.Context, contextID string) (provider.SessionInfo, error) {
	return provider.SessionInfo{SessionID: contextID, Provider: p.name, Status: "running"}, nil
}
func (p *scriptedProvider) DestroySession(ctx context.Context, sessionID string, sync bool) error {
	return nil
}
func (p *scriptedProvider) PauseSession(ctx context.Context, sessionID string) error  { return nil }
func (p *scriptedProvider) ResumeSession(ctx context.Context, sessionID string) error { return nil }
func (p *scriptedProvider) GetSessionStatus(ctx context.Context, sessionID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, nil
}

func (p *scriptedProvider) Execute(ctx context.Context, sessionID, command string, timeoutMS int, cwd string) (provider.ExecResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, command)

	if p.failOnce && !p.failedOnce {
		p.failedOnce = true
		return provider.ExecResult{}, p.classifier.Classify("execute", fmt.Errorf("connection reset"), 0, "")
	}

	if command == "pwd" {
		return provider.ExecResult{Output: "/new/dir"}, nil
	}
	return provider.ExecResult{Output: "ok", ExitCode: 0}, nil
}

func (p *scriptedProvider) ReadFile(ctx context.Context, sessionID, path string) (string, error) {
	return "", nil
}
func (p *scriptedProvider) WriteFile(ctx context.Context, sessionID, path, content string) (string, error) {
	return "", nil
}
func (p *scriptedProvider) ListDir(ctx context.Context, sessionID, path string) ([]provider.DirEntry, error) {
	return nil, nil
}
func (p *scriptedProvider) GetMetrics(ctx context.Context, sessionID string) (*provider.Metrics, error) {
	return nil, nil
}

func setupRemoteTest(t *testing.T, leaseID string) (*lease.Manager, *terminal.Store, *terminal.Terminal) {
	t.Helper()
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	leaseStore := lease.NewStore(client.Ent())
	_, err := leaseStore.Create(ctx, leaseID, "scripted", "")
	require.NoError(t, err)

	termStore := terminal.NewStore(client.Ent())
	term, err := termStore.Create(ctx, "term-"+leaseID, "thread-"+leaseID, leaseID, true, terminal.State{
		Cwd:      "/work",
		EnvDelta: map[string]string{"FOO": "bar"},
	})
	require.NoError(t, err)

	mgr := lease.NewManager(leaseStore)
	return mgr, termStore, term
}

func TestRemoteWrappedRuntime_HydratesOnce(t *testing.T) {
	mgr, termStore, term := setupRemoteTest(t, "lease-remote-1")
	prov := newScriptedProvider()
	rt := runtime.NewRemoteWrappedRuntime(term, mgr, prov, termStore)

	_, err := rt.Execute(context.Background(), "echo one", time.Second)
	require.NoError(t, err)
	_, err = rt.Execute(context.Background(), "echo two", time.Second)
	require.NoError(t, err)

	cdCount := 0
	exportCount := 0
	for _, c := range prov.calls {
		if c == "cd '/work'" {
			cdCount++
		}
		if c == "export FOO='bar'" {
			exportCount++
		}
	}
	assert.Equal(t, 1, cdCount, "hydration cd should run exactly once")
	assert.Equal(t, 1, exportCount, "hydration export should run exactly once")
}

func TestRemoteWrappedRuntime_CdProbesAndPersistsCwd(t *testing.T) {
	mgr, termStore, term := setupRemoteTest(t, "lease-remote-2")
	prov := newScriptedProvider()
	rt := runtime.NewRemoteWrappedRuntime(term, mgr, prov, termStore)

	res, err := rt.Execute(context.Background(), "cd /new/dir", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	got, err := termStore.GetByID(context.Background(), term.TerminalID)
	require.NoError(t, err)
	assert.Equal(t, "/new/dir", got.State.Cwd)
	assert.Equal(t, 1, got.State.StateVersion)
}

func TestRemoteWrappedRuntime_RetriesOnceOnInfraError(t *testing.T) {
	mgr, termStore, term := setupRemoteTest(t, "lease-remote-3")
	prov := newScriptedProvider()
	prov.failOnce = true
	rt := runtime.NewRemoteWrappedRuntime(term, mgr, prov, termStore)

	res, err := rt.Execute(context.Background(), "echo hi", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Stdout)
}
