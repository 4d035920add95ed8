package providerevent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/providerevent"
	testdb "github.com/codeready-toolchain/tarsy-sandboxd/test/database"
)

func TestStore_AppendThenListRecent(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := providerevent.NewStore(client.Ent())
	ctx := context.Background()

	_, err := store.Append(ctx, "e2b", "inst-1", "sandbox.lifecycle.started", map[string]any{"a": 1}, "lease-1")
	require.NoError(t, err)
	_, err = store.Append(ctx, "e2b", "inst-2", "sandbox.lifecycle.paused", nil, "")
	require.NoError(t, err)

	events, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "sandbox.lifecycle.paused", events[0].EventType)
	assert.Equal(t, "sandbox.lifecycle.started", events[1].EventType)
	assert.Equal(t, "lease-1", events[1].MatchedLeaseID)
}

func TestStore_PruneOlderThan_RemovesOnlyStaleRows(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := providerevent.NewStore(client.Ent())
	ctx := context.Background()

	_, err := store.Append(ctx, "e2b", "inst-old", "sandbox.lifecycle.started", nil, "")
	require.NoError(t, err)

	n, err := store.PruneOlderThan(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = store.PruneOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
