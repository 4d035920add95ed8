package terminal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbclient "github.com/codeready-toolchain/tarsy-sandboxd/pkg/database"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/terminal"
	testdb "github.com/codeready-toolchain/tarsy-sandboxd/test/database"
)

func createLease(t *testing.T, client *dbclient.Client, leaseID string) {
	t.Helper()
	_, err := client.Ent().SandboxLease.Create().
		SetID(leaseID).
		SetProviderName("local").
		Save(context.Background())
	require.NoError(t, err)
}

func TestStore_CreateAndGetDefault(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	createLease(t, client, "lease-1")

	store := terminal.NewStore(client.Ent())
	created, err := store.Create(ctx, "term-1", "thread-1", "lease-1", true, terminal.State{Cwd: "/home/user"})
	require.NoError(t, err)
	assert.Equal(t, "/home/user", created.State.Cwd)
	assert.True(t, created.IsDefault)

	got, err := store.GetDefaultByThread(ctx, "thread-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "term-1", got.TerminalID)
}

func TestStore_GetDefaultByThread_Missing(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := terminal.NewStore(client.Ent())

	got, err := store.GetDefaultByThread(context.Background(), "thread-none")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_SecondDefaultRejected(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	createLease(t, client, "lease-2")

	store := terminal.NewStore(client.Ent())
	_, err := store.Create(ctx, "term-a", "thread-2", "lease-2", true, terminal.State{Cwd: "/"})
	require.NoError(t, err)

	_, err = store.Create(ctx, "term-b", "thread-2", "lease-2", true, terminal.State{Cwd: "/"})
	assert.Error(t, err)
}

func TestStore_UpdateState_IncrementsVersion(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	createLease(t, client, "lease-3")

	store := terminal.NewStore(client.Ent())
	created, err := store.Create(ctx, "term-3", "thread-3", "lease-3", true, terminal.State{Cwd: "/", StateVersion: 0})
	require.NoError(t, err)

	v1, err := store.UpdateState(ctx, created.TerminalID, terminal.State{Cwd: "/tmp", StateVersion: created.State.StateVersion})
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	v2, err := store.UpdateState(ctx, created.TerminalID, terminal.State{Cwd: "/var", StateVersion: v1})
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	got, err := store.GetByID(ctx, created.TerminalID)
	require.NoError(t, err)
	assert.Equal(t, "/var", got.State.Cwd)
	assert.Equal(t, 2, got.State.StateVersion)
}

func TestStore_Fork_DeepCopiesState(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	createLease(t, client, "lease-4")

	store := terminal.NewStore(client.Ent())
	def, err := store.Create(ctx, "term-default", "thread-4", "lease-4", true, terminal.State{
		Cwd:      "/work",
		EnvDelta: map[string]string{"FOO": "bar"},
	})
	require.NoError(t, err)

	fork, err := store.Fork(ctx, "thread-4", "term-fork")
	require.NoError(t, err)
	assert.False(t, fork.IsDefault)
	assert.Equal(t, def.LeaseID, fork.LeaseID)
	assert.Equal(t, "/work", fork.State.Cwd)
	assert.Equal(t, "bar", fork.State.EnvDelta["FOO"])

	// Mutating the fork must not perturb the default terminal's state.
	_, err = store.UpdateState(ctx, fork.TerminalID, terminal.State{
		Cwd:      "/elsewhere",
		EnvDelta: map[string]string{"FOO": "changed"},
	})
	require.NoError(t, err)

	stillDefault, err := store.GetByID(ctx, def.TerminalID)
	require.NoError(t, err)
	assert.Equal(t, "/work", stillDefault.State.Cwd)
	assert.Equal(t, "bar", stillDefault.State.EnvDelta["FOO"])
}

func TestStore_DeleteByThread(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	createLease(t, client, "lease-5")

	store := terminal.NewStore(client.Ent())
	_, err := store.Create(ctx, "term-5", "thread-5", "lease-5", true, terminal.State{Cwd: "/"})
	require.NoError(t, err)

	require.NoError(t, store.DeleteByThread(ctx, "thread-5"))

	got, err := store.GetDefaultByThread(ctx, "thread-5")
	require.NoError(t, err)
	assert.Nil(t, got)
}
