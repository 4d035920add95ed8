// Package agentgraph implements pkg/runpipeline's AgentGraph,
// Checkpointer, StatusProvider, and Monitor seams over a gRPC client,
// the same "thin client in front of an external daemon" shape
// pkg/provider/remoteprovider uses for the sandbox provider side: the
// actual LLM reasoning loop and tool implementations are an external
// process this module only calls into, never a concrete in-process
// dependency. The generated protobuf client (agentgraphv1) is produced
// by protoc at build time from proto/agentgraph/v1/agentgraph.proto and
// is not committed, the same convention remoteprovider follows.
package agentgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runpipeline"
	agentgraphv1 "github.com/codeready-toolchain/tarsy-sandboxd/proto/agentgraph/v1"
)

// Client dials an agent graph daemon and implements every seam
// runpipeline.Producer needs against it.
type Client struct {
	conn   *grpc.ClientConn
	client agentgraphv1.AgentGraphServiceClient
}

// Dial connects to the agent graph daemon at addr.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("agentgraph: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, client: agentgraphv1.NewAgentGraphServiceClient(conn)}, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error { return c.conn.Close() }

// StreamUpdates implements runpipeline.AgentGraph.
func (c *Client) StreamUpdates(ctx context.Context, threadID, message string) (<-chan runpipeline.NodeUpdate, <-chan error) {
	updates := make(chan runpipeline.NodeUpdate)
	errs := make(chan error, 1)

	stream, err := c.client.StreamUpdates(ctx, &agentgraphv1.RunRequest{ThreadId: threadID, Message: message})
	if err != nil {
		errs <- fmt.Errorf("agentgraph: stream updates: %w", err)
		close(updates)
		close(errs)
		return updates, errs
	}

	go func() {
		defer close(updates)
		defer close(errs)
		for {
			msg, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("agentgraph: stream updates recv: %w", err)
				return
			}
			u, err := fromProtoNodeUpdate(msg)
			if err != nil {
				errs <- err
				return
			}
			select {
			case updates <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return updates, errs
}

// StreamTokens implements runpipeline.AgentGraph.
func (c *Client) StreamTokens(ctx context.Context, threadID, message string) (<-chan runpipeline.TextDelta, <-chan error) {
	deltas := make(chan runpipeline.TextDelta)
	errs := make(chan error, 1)

	stream, err := c.client.StreamTokens(ctx, &agentgraphv1.RunRequest{ThreadId: threadID, Message: message})
	if err != nil {
		errs <- fmt.Errorf("agentgraph: stream tokens: %w", err)
		close(deltas)
		close(errs)
		return deltas, errs
	}

	go func() {
		defer close(deltas)
		defer close(errs)
		for {
			msg, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("agentgraph: stream tokens recv: %w", err)
				return
			}
			d := runpipeline.TextDelta{MessageID: msg.GetMessageId(), Delta: msg.GetDelta()}
			select {
			case deltas <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return deltas, errs
}

// WriteCancellationMarkers implements runpipeline.Checkpointer.
func (c *Client) WriteCancellationMarkers(ctx context.Context, threadID string, pending map[string]runpipeline.PendingToolCall) ([]string, error) {
	protoPending := make(map[string]*agentgraphv1.PendingToolCall, len(pending))
	for id, p := range pending {
		argsJSON, err := json.Marshal(p.Args)
		if err != nil {
			return nil, fmt.Errorf("agentgraph: marshal pending args for %s: %w", id, err)
		}
		protoPending[id] = &agentgraphv1.PendingToolCall{
			ToolCallId: p.ToolCallID,
			ToolName:   p.ToolName,
			ArgsJson:   string(argsJSON),
		}
	}

	resp, err := c.client.WriteCancellationMarkers(ctx, &agentgraphv1.CancellationRequest{
		ThreadId: threadID,
		Pending:  protoPending,
	})
	if err != nil {
		return nil, fmt.Errorf("agentgraph: write cancellation markers for thread %s: %w", threadID, err)
	}
	return resp.GetWrittenToolCallIds(), nil
}

// StatusSnapshot implements runpipeline.StatusProvider.
func (c *Client) StatusSnapshot(ctx context.Context, threadID string) (map[string]any, error) {
	resp, err := c.client.StatusSnapshot(ctx, &agentgraphv1.ThreadRequest{ThreadId: threadID})
	if err != nil {
		return nil, fmt.Errorf("agentgraph: status snapshot for thread %s: %w", threadID, err)
	}
	return unmarshalJSONObject(resp.GetSnapshotJson())
}

// Transition implements runpipeline.Monitor.
func (c *Client) Transition(ctx context.Context, threadID string, state runpipeline.AgentState) error {
	_, err := c.client.Transition(ctx, &agentgraphv1.TransitionRequest{ThreadId: threadID, State: string(state)})
	if err != nil {
		return fmt.Errorf("agentgraph: transition thread %s to %s: %w", threadID, state, err)
	}
	return nil
}

func fromProtoNodeUpdate(msg *agentgraphv1.NodeUpdate) (runpipeline.NodeUpdate, error) {
	args, err := unmarshalJSONObject(msg.GetArgsJson())
	if err != nil {
		return runpipeline.NodeUpdate{}, fmt.Errorf("agentgraph: unmarshal node update args: %w", err)
	}
	result, err := unmarshalJSONObject(msg.GetResultJson())
	if err != nil {
		return runpipeline.NodeUpdate{}, fmt.Errorf("agentgraph: unmarshal node update result: %w", err)
	}
	data, err := unmarshalJSONObject(msg.GetDataJson())
	if err != nil {
		return runpipeline.NodeUpdate{}, fmt.Errorf("agentgraph: unmarshal node update data: %w", err)
	}

	var kind runpipeline.NodeUpdateKind
	switch msg.GetKind() {
	case agentgraphv1.NodeUpdate_TOOL_CALL:
		kind = runpipeline.NodeUpdateToolCall
	case agentgraphv1.NodeUpdate_TOOL_RESULT:
		kind = runpipeline.NodeUpdateToolResult
	case agentgraphv1.NodeUpdate_STATUS:
		kind = runpipeline.NodeUpdateStatus
	}

	return runpipeline.NodeUpdate{
		Kind:             kind,
		ToolCallID:       msg.GetToolCallId(),
		ToolName:         msg.GetToolName(),
		Args:             args,
		Result:           result,
		IsError:          msg.GetIsError(),
		Data:             data,
		ParentToolCallID: msg.GetParentToolCallId(),
		SubEventType:     msg.GetSubEventType(),
	}, nil
}

func unmarshalJSONObject(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
