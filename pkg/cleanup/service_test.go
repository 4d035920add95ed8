package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/providerevent"
	testdb "github.com/codeready-toolchain/tarsy-sandboxd/test/database"
)

func TestService_PrunesEventsOlderThanRetention(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := providerevent.NewStore(client.Ent())
	ctx := context.Background()

	_, err := store.Append(ctx, "e2b", "inst-old", "sandbox.lifecycle.started", nil, "")
	require.NoError(t, err)

	svc := NewService(store, time.Hour, time.Hour)
	svc.runAll(ctx)

	events, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1, "event within retention should survive")

	svc = NewService(store, -time.Hour, time.Hour)
	svc.runAll(ctx)

	events, err = store.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events, "negative retention should prune everything")
}

func TestService_StartStop_RunsOnceImmediately(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := providerevent.NewStore(client.Ent())
	ctx := context.Background()

	_, err := store.Append(ctx, "e2b", "inst-x", "sandbox.lifecycle.started", nil, "")
	require.NoError(t, err)

	svc := NewService(store, -time.Hour, time.Hour)
	svc.Start(ctx)

	assert.Eventually(t, func() bool {
		events, err := store.ListRecent(context.Background(), 10)
		return err == nil && len(events) == 0
	}, 2*time.Second, 10*time.Millisecond)

	svc.Stop()
}
