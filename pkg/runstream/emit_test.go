package runstream_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runstream"
	testdb "github.com/codeready-toolchain/tarsy-sandboxd/test/database"
)

func TestStream_Emit_PersistsBeforeBufferVisible(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := runstream.NewStore(client.Ent())
	stream := runstream.NewStream(store, "thread-emit", "run-emit")
	ctx := context.Background()

	seq, err := stream.Emit(ctx, runstream.EventText, map[string]any{"delta": "hello"}, "")
	require.NoError(t, err)
	assert.Greater(t, seq, 0)

	events, cursor, err := stream.Buffer().Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, seq, cursor)
	assert.Equal(t, seq, events[0].Data["_seq"])
	assert.Equal(t, "run-emit", events[0].Data["_run_id"])
	assert.Equal(t, "hello", events[0].Data["delta"])

	persisted, err := store.ReadAfter(ctx, "thread-emit", "run-emit", 0)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, seq, persisted[0].Seq)
}

func TestStream_Done_WakesBlockedReader(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := runstream.NewStore(client.Ent())
	stream := runstream.NewStream(store, "thread-done", "run-done")
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		_, _, _ = stream.Buffer().Read(ctx, 0)
		close(done)
	}()

	stream.Done()
	<-done
}
