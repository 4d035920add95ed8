package runpipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/chatsession"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/lease"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider/localprovider"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runpipeline"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runstream"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/sandbox"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/terminal"
	testdb "github.com/codeready-toolchain/tarsy-sandboxd/test/database"
)

// fakeGraph is a scripted AgentGraph: it emits a fixed sequence of
// updates and deltas, then closes its channels, optionally blocking on
// ctx.Done() first so tests can exercise cancellation mid-run.
type fakeGraph struct {
	updates     []runpipeline.NodeUpdate
	deltas      []runpipeline.TextDelta
	updateErr   error
	tokenErr    error
	blockForCtx bool
}

func (f *fakeGraph) StreamUpdates(ctx context.Context, threadID, message string) (<-chan runpipeline.NodeUpdate, <-chan error) {
	updateCh := make(chan runpipeline.NodeUpdate)
	errCh := make(chan error, 1)
	go func() {
		defer close(updateCh)
		defer close(errCh)
		for _, u := range f.updates {
			select {
			case updateCh <- u:
			case <-ctx.Done():
				return
			}
		}
		if f.blockForCtx {
			<-ctx.Done()
			return
		}
		if f.updateErr != nil {
			errCh <- f.updateErr
		}
	}()
	return updateCh, errCh
}

func (f *fakeGraph) StreamTokens(ctx context.Context, threadID, message string) (<-chan runpipeline.TextDelta, <-chan error) {
	tokenCh := make(chan runpipeline.TextDelta)
	errCh := make(chan error, 1)
	go func() {
		defer close(tokenCh)
		defer close(errCh)
		for _, d := range f.deltas {
			select {
			case tokenCh <- d:
			case <-ctx.Done():
				return
			}
		}
		if f.tokenErr != nil {
			errCh <- f.tokenErr
		}
	}()
	return tokenCh, errCh
}

type fakeCheckpointer struct {
	mu      sync.Mutex
	written map[string]runpipeline.PendingToolCall
}

func (f *fakeCheckpointer) WriteCancellationMarkers(ctx context.Context, threadID string, pending map[string]runpipeline.PendingToolCall) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = pending
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeStatus struct{ snapshot map[string]any }

func (f *fakeStatus) StatusSnapshot(ctx context.Context, threadID string) (map[string]any, error) {
	return f.snapshot, nil
}

type fakeMonitor struct {
	mu          sync.Mutex
	transitions []runpipeline.AgentState
}

func (f *fakeMonitor) Transition(ctx context.Context, threadID string, state runpipeline.AgentState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, state)
	return nil
}

func (f *fakeMonitor) states() []runpipeline.AgentState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runpipeline.AgentState, len(f.transitions))
	copy(out, f.transitions)
	return out
}

func newTestSandboxManager(t *testing.T) *sandbox.Manager {
	t.Helper()
	client := testdb.NewTestClient(t)
	prov, err := localprovider.New(t.TempDir())
	require.NoError(t, err)
	registry := provider.NewRegistry(prov)

	termStore := terminal.NewStore(client.Ent())
	leaseStore := lease.NewStore(client.Ent())
	leaseManager := lease.NewManager(leaseStore)
	chatStore := chatsession.NewStore(client.Ent())
	return sandbox.NewManager(termStore, leaseStore, leaseManager, chatStore, registry, localprovider.Name)
}

func waitForDone(t *testing.T, buf *runstream.Buffer) []runstream.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var all []runstream.Event
	cursor := 0
	for {
		events, next, err := buf.Read(ctx, cursor)
		require.NoError(t, err)
		all = append(all, events...)
		if len(events) == 0 {
			return all
		}
		cursor = next
		for _, e := range events {
			if e.EventType == runstream.EventDone || e.EventType == runstream.EventError || e.EventType == runstream.EventCancelled {
				return all
			}
		}
	}
}

func TestProducer_Run_EmitsTextToolCallResultThenDone(t *testing.T) {
	client := testdb.NewTestClient(t)
	runs := runstream.NewStore(client.Ent())
	sandboxes := newTestSandboxManager(t)

	graph := &fakeGraph{
		deltas: []runpipeline.TextDelta{{MessageID: "m1", Delta: "hello"}},
		updates: []runpipeline.NodeUpdate{
			{Kind: runpipeline.NodeUpdateToolCall, ToolCallID: "tc-1", ToolName: "bash", Args: map[string]any{"cmd": "echo hi"}},
			{Kind: runpipeline.NodeUpdateToolResult, ToolCallID: "tc-1", ToolName: "bash", Result: map[string]any{"stdout": "hi"}},
		},
	}
	status := &fakeStatus{snapshot: map[string]any{"state": "running"}}
	monitor := &fakeMonitor{}
	producer := runpipeline.NewProducer(graph, &fakeCheckpointer{}, status, monitor, sandboxes, runs, 5)

	stream := producer.Run(context.Background(), "thread-run", "run-1", "do the thing")
	events := waitForDone(t, stream.Buffer())

	var types []string
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{
		runstream.EventText,
		runstream.EventToolCall,
		runstream.EventToolResult,
		runstream.EventStatus,
		runstream.EventDone,
	}, types)

	assert.Contains(t, monitor.states(), runpipeline.StateActive)
	assert.Contains(t, monitor.states(), runpipeline.StateIdle)
}

func TestProducer_Run_GraphErrorTransitionsToError(t *testing.T) {
	client := testdb.NewTestClient(t)
	runs := runstream.NewStore(client.Ent())
	sandboxes := newTestSandboxManager(t)

	graph := &fakeGraph{updateErr: assertError("boom")}
	monitor := &fakeMonitor{}
	producer := runpipeline.NewProducer(graph, &fakeCheckpointer{}, nil, monitor, sandboxes, runs, 0)

	stream := producer.Run(context.Background(), "thread-err", "run-err", "hi")
	events := waitForDone(t, stream.Buffer())

	require.NotEmpty(t, events)
	assert.Equal(t, runstream.EventError, events[len(events)-1].EventType)
	assert.Contains(t, monitor.states(), runpipeline.StateError)
	assert.NotContains(t, monitor.states(), runpipeline.StateIdle)
}

func TestProducer_Run_CancellationWritesMarkersAndEmitsCancelled(t *testing.T) {
	client := testdb.NewTestClient(t)
	runs := runstream.NewStore(client.Ent())
	sandboxes := newTestSandboxManager(t)

	graph := &fakeGraph{
		updates: []runpipeline.NodeUpdate{
			{Kind: runpipeline.NodeUpdateToolCall, ToolCallID: "tc-cancel", ToolName: "bash", Args: map[string]any{}},
		},
		blockForCtx: true,
	}
	checkpointer := &fakeCheckpointer{}
	monitor := &fakeMonitor{}
	producer := runpipeline.NewProducer(graph, checkpointer, nil, monitor, sandboxes, runs, 0)

	ctx, cancel := context.WithCancel(context.Background())
	stream := producer.Run(ctx, "thread-cancel", "run-cancel", "hi")

	// Give the producer a moment to observe the tool_call before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	events := waitForDone(t, stream.Buffer())
	require.NotEmpty(t, events)
	assert.Equal(t, runstream.EventCancelled, events[len(events)-1].EventType)

	checkpointer.mu.Lock()
	_, marked := checkpointer.written["tc-cancel"]
	checkpointer.mu.Unlock()
	assert.True(t, marked)

	assert.Contains(t, monitor.states(), runpipeline.StateSuspended)
	assert.NotContains(t, monitor.states(), runpipeline.StateIdle)
}

func TestProducer_Run_SubagentEventsForwardedWithPrefix(t *testing.T) {
	client := testdb.NewTestClient(t)
	runs := runstream.NewStore(client.Ent())
	sandboxes := newTestSandboxManager(t)

	graph := &fakeGraph{
		updates: []runpipeline.NodeUpdate{
			{
				ParentToolCallID: "tc-parent",
				SubEventType:     "tool_call",
				Data:             map[string]any{"tool_name": "grep"},
			},
		},
	}
	monitor := &fakeMonitor{}
	producer := runpipeline.NewProducer(graph, &fakeCheckpointer{}, nil, monitor, sandboxes, runs, 0)

	stream := producer.Run(context.Background(), "thread-sub", "run-sub", "hi")
	events := waitForDone(t, stream.Buffer())

	require.Len(t, events, 2)
	assert.Equal(t, "subagent_tool_call", events[0].EventType)
	assert.Equal(t, "tc-parent", events[0].Data["parent_tool_call_id"])
	assert.Equal(t, "grep", events[0].Data["tool_name"])
	assert.Equal(t, runstream.EventDone, events[1].EventType)
}

type assertError string

func (e assertError) Error() string { return string(e) }
