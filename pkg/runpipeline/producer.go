package runpipeline

import (
	"context"
	"sync"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runstream"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/sandbox"
)

// Producer runs one agent turn per call to Run, writing every event it
// observes to a fresh runstream.Stream. Run's goroutine owns that
// stream from creation to Done(); the caller only ever reads from it.
type Producer struct {
	graph        AgentGraph
	checkpointer Checkpointer
	status       StatusProvider
	monitor      Monitor
	sandboxes    *sandbox.Manager
	runs         *runstream.Store

	// keepRuns is how many of a thread's most recent runs survive
	// CleanupOldRuns at the end of this run; 0 disables pruning.
	keepRuns int
}

// NewProducer builds a Producer. status may be nil — a run without a
// status provider simply never emits a post-tool-result status event.
func NewProducer(
	graph AgentGraph,
	checkpointer Checkpointer,
	status StatusProvider,
	monitor Monitor,
	sandboxes *sandbox.Manager,
	runs *runstream.Store,
	keepRuns int,
) *Producer {
	return &Producer{
		graph:        graph,
		checkpointer: checkpointer,
		status:       status,
		monitor:      monitor,
		sandboxes:    sandboxes,
		runs:         runs,
		keepRuns:     keepRuns,
	}
}

// Run starts one agent turn for (threadID, runID) in a background
// goroutine and returns its stream immediately — callers attach
// consumers to Stream().Buffer() without waiting for the run to
// finish. ctx governs the run's lifetime: cancelling it is how a
// caller cancels the run.
func (p *Producer) Run(ctx context.Context, threadID, runID, message string) *runstream.Stream {
	stream := runstream.NewStream(p.runs, threadID, runID)
	go p.produce(ctx, threadID, message, stream)
	return stream
}

func (p *Producer) produce(ctx context.Context, threadID, message string, stream *runstream.Stream) {
	settled := false
	defer func() {
		bg := context.Background()
		if !settled {
			_ = p.monitor.Transition(bg, threadID, StateIdle)
		}
		if p.keepRuns > 0 {
			_, _ = p.runs.CleanupOldRuns(bg, threadID, p.keepRuns)
		}
		stream.Done()
	}()

	if err := p.monitor.Transition(ctx, threadID, StateActive); err != nil {
		p.emitError(stream, err)
		settled = true
		_ = p.monitor.Transition(context.Background(), threadID, StateError)
		return
	}

	if _, err := p.sandboxes.GetSandbox(ctx, threadID); err != nil {
		p.emitError(stream, err)
		settled = true
		_ = p.monitor.Transition(context.Background(), threadID, StateError)
		return
	}

	updateCh, updateErrCh := p.graph.StreamUpdates(ctx, threadID, message)
	tokenCh, tokenErrCh := p.graph.StreamTokens(ctx, threadID, message)

	pending := map[string]PendingToolCall{}
	cancelled := p.drain(ctx, threadID, stream, pending, updateCh, tokenCh)
	if cancelled {
		settled = true
		p.handleCancellation(threadID, stream, pending)
		return
	}

	if err := firstErr(updateErrCh, tokenErrCh); err != nil {
		p.emitError(stream, err)
		settled = true
		_ = p.monitor.Transition(context.Background(), threadID, StateError)
		return
	}

	_, _ = stream.Emit(context.Background(), runstream.EventDone, nil, "")
}

// drain multiplexes updateCh and tokenCh onto stream until both close
// or ctx is cancelled, whichever comes first. It returns true iff ctx
// was cancelled before both channels drained.
func (p *Producer) drain(
	ctx context.Context,
	threadID string,
	stream *runstream.Stream,
	pending map[string]PendingToolCall,
	updateCh <-chan NodeUpdate,
	tokenCh <-chan TextDelta,
) bool {
	type item struct {
		update *NodeUpdate
		delta  *TextDelta
	}
	merged := make(chan item)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for u := range updateCh {
			merged <- item{update: &u}
		}
	}()
	go func() {
		defer wg.Done()
		for d := range tokenCh {
			merged <- item{delta: &d}
		}
	}()
	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case <-ctx.Done():
			return true
		case it, ok := <-merged:
			if !ok {
				return false
			}
			if it.delta != nil {
				_, _ = stream.Emit(ctx, runstream.EventText, map[string]any{
					"message_id": it.delta.MessageID,
					"delta":      it.delta.Delta,
				}, it.delta.MessageID)
				continue
			}
			p.handleNodeUpdate(ctx, threadID, stream, pending, *it.update)
		}
	}
}

func (p *Producer) handleNodeUpdate(
	ctx context.Context,
	threadID string,
	stream *runstream.Stream,
	pending map[string]PendingToolCall,
	u NodeUpdate,
) {
	if u.ParentToolCallID != "" {
		data := make(map[string]any, len(u.Data)+1)
		for k, v := range u.Data {
			data[k] = v
		}
		data["parent_tool_call_id"] = u.ParentToolCallID
		_, _ = stream.Emit(ctx, "subagent_"+u.SubEventType, data, "")
		return
	}

	switch u.Kind {
	case NodeUpdateToolCall:
		pending[u.ToolCallID] = PendingToolCall{ToolCallID: u.ToolCallID, ToolName: u.ToolName, Args: u.Args}
		_, _ = stream.Emit(ctx, runstream.EventToolCall, map[string]any{
			"tool_call_id": u.ToolCallID,
			"tool_name":    u.ToolName,
			"args":         u.Args,
		}, "")
	case NodeUpdateToolResult:
		delete(pending, u.ToolCallID)
		_, _ = stream.Emit(ctx, runstream.EventToolResult, map[string]any{
			"tool_call_id": u.ToolCallID,
			"tool_name":    u.ToolName,
			"result":       u.Result,
			"is_error":     u.IsError,
		}, "")
		if p.status != nil {
			if snap, err := p.status.StatusSnapshot(ctx, threadID); err == nil {
				_, _ = stream.Emit(ctx, runstream.EventStatus, snap, "")
			}
		}
	case NodeUpdateStatus:
		_, _ = stream.Emit(ctx, runstream.EventStatus, u.Data, "")
	}
}

// handleCancellation writes checkpoint markers for every tool call
// still pending and emits a cancelled event. It always uses a
// detached context: the run's own ctx is, by construction, already
// done by the time this runs, but the checkpoint write and the event
// it produced must still land.
func (p *Producer) handleCancellation(threadID string, stream *runstream.Stream, pending map[string]PendingToolCall) {
	bg := context.Background()
	data := map[string]any{}
	markers, err := p.checkpointer.WriteCancellationMarkers(bg, threadID, pending)
	if err != nil {
		data["checkpoint_error"] = err.Error()
	} else {
		data["cancelled_tool_call_ids"] = markers
	}
	_, _ = stream.Emit(bg, runstream.EventCancelled, data, "")
	_ = p.monitor.Transition(bg, threadID, StateSuspended)
}

func (p *Producer) emitError(stream *runstream.Stream, err error) {
	_, _ = stream.Emit(context.Background(), runstream.EventError, map[string]any{"message": err.Error()}, "")
}

// firstErr drains both error channels (each carries at most one value
// before closing) and returns whichever is non-nil, preferring the
// update stream's error when both fired.
func firstErr(updateErrCh, tokenErrCh <-chan error) error {
	if err := <-updateErrCh; err != nil {
		return err
	}
	if err := <-tokenErrCh; err != nil {
		return err
	}
	return nil
}
