// Package remoteprovider implements provider.SandboxProvider over gRPC,
// delegating lifecycle and exec calls to an out-of-process provider
// daemon (itself a thin shim over e2b/daytona/agentbay SDKs). The
// generated protobuf client (sandboxproviderv1) is produced by protoc
// at build time from proto/sandboxprovider/v1/provider.proto and is not
// committed, the same convention the teacher repo follows for its own
// LLM gRPC client.
package remoteprovider

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
	sandboxproviderv1 "github.com/codeready-toolchain/tarsy-sandboxd/proto/sandboxprovider/v1"
)

// Provider implements provider.SandboxProvider by calling a remote
// SandboxProviderService over an insecure (plaintext) local gRPC
// connection — the daemon is expected to run as a sidecar, same
// trust boundary assumption as the teacher's LLM gRPC client.
type Provider struct {
	name       string
	conn       *grpc.ClientConn
	client     sandboxproviderv1.SandboxProviderServiceClient
	capability provider.Capability
	classifier provider.Classifier
}

// Config controls how a remote provider declares its own capability —
// different daemons (e2b vs daytona vs agentbay) support different
// subsets of pause/resume/webhook, so this is supplied by the caller
// rather than hardcoded.
type Config struct {
	Name       string
	Addr       string
	Capability provider.Capability
	Classifier provider.Classifier
}

// New dials addr and returns a ready Provider.
func New(cfg Config) (*Provider, error) {
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("remoteprovider: dial %s: %w", cfg.Addr, err)
	}
	return &Provider{
		name:       cfg.Name,
		conn:       conn,
		client:     sandboxproviderv1.NewSandboxProviderServiceClient(conn),
		capability: cfg.Capability,
		classifier: cfg.Classifier,
	}, nil
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error { return p.conn.Close() }

func (p *Provider) Name() string                    { return p.name }
func (p *Provider) Capability() provider.Capability { return p.capability }

func (p *Provider) CreateSession(ctx context.Context, contextID string) (provider.SessionInfo, error) {
	resp, err := p.client.CreateSession(ctx, &sandboxproviderv1.CreateSessionRequest{ContextId: contextID})
	if err != nil {
		return provider.SessionInfo{}, p.classifier.Classify("create_session", err, 0, "")
	}
	meta := make(map[string]any, len(resp.Metadata))
	for k, v := range resp.Metadata {
		meta[k] = v
	}
	return provider.SessionInfo{
		SessionID: resp.SessionId,
		Provider:  resp.Provider,
		Status:    resp.Status,
		Metadata:  meta,
	}, nil
}

func (p *Provider) DestroySession(ctx context.Context, sessionID string, sync bool) error {
	_, err := p.client.DestroySession(ctx, &sandboxproviderv1.DestroySessionRequest{SessionId: sessionID, Sync: sync})
	return p.classifier.Classify("destroy_session", err, 0, "")
}

func (p *Provider) PauseSession(ctx context.Context, sessionID string) error {
	if !p.capability.CanPause {
		return fmt.Errorf("remoteprovider %s: pause_session: %w", p.name, provider.ErrCapabilityUnsupported)
	}
	_, err := p.client.PauseSession(ctx, &sandboxproviderv1.SessionRequest{SessionId: sessionID})
	return p.classifier.Classify("pause_session", err, 0, "")
}

func (p *Provider) ResumeSession(ctx context.Context, sessionID string) error {
	if !p.capability.CanResume {
		return fmt.Errorf("remoteprovider %s: resume_session: %w", p.name, provider.ErrCapabilityUnsupported)
	}
	_, err := p.client.ResumeSession(ctx, &sandboxproviderv1.SessionRequest{SessionId: sessionID})
	return p.classifier.Classify("resume_session", err, 0, "")
}

func (p *Provider) GetSessionStatus(ctx context.Context, sessionID string) (string, error) {
	resp, err := p.client.GetSessionStatus(ctx, &sandboxproviderv1.SessionRequest{SessionId: sessionID})
	if err != nil {
		return "", p.classifier.Classify("get_session_status", err, 0, "")
	}
	return resp.Status, nil
}

func (p *Provider) Execute(ctx context.Context, sessionID, command string, timeoutMS int, cwd string) (provider.ExecResult, error) {
	resp, err := p.client.Execute(ctx, &sandboxproviderv1.ExecuteRequest{
		SessionId: sessionID,
		Command:   command,
		TimeoutMs: int32(timeoutMS),
		Cwd:       cwd,
	})
	if err != nil {
		return provider.ExecResult{}, p.classifier.Classify("execute", err, 0, "")
	}
	result := provider.ExecResult{
		Output:   resp.Output,
		ExitCode: int(resp.ExitCode),
		TimedOut: resp.TimedOut,
		Error:    resp.Error,
	}
	if resp.ExitCode != 0 && resp.Error != "" {
		return result, &provider.ApplicationError{Op: "execute", ExitCode: int(resp.ExitCode), Output: resp.Output}
	}
	return result, nil
}

func (p *Provider) ReadFile(ctx context.Context, sessionID, path string) (string, error) {
	resp, err := p.client.ReadFile(ctx, &sandboxproviderv1.ReadFileRequest{SessionId: sessionID, Path: path})
	if err != nil {
		return "", p.classifier.Classify("read_file", err, 0, "")
	}
	return resp.Content, nil
}

func (p *Provider) WriteFile(ctx context.Context, sessionID, path, content string) (string, error) {
	resp, err := p.client.WriteFile(ctx, &sandboxproviderv1.WriteFileRequest{SessionId: sessionID, Path: path, Content: content})
	if err != nil {
		return "", p.classifier.Classify("write_file", err, 0, "")
	}
	return resp.ResolvedPath, nil
}

func (p *Provider) ListDir(ctx context.Context, sessionID, path string) ([]provider.DirEntry, error) {
	resp, err := p.client.ListDir(ctx, &sandboxproviderv1.ListDirRequest{SessionId: sessionID, Path: path})
	if err != nil {
		return nil, p.classifier.Classify("list_dir", err, 0, "")
	}
	out := make([]provider.DirEntry, len(resp.Entries))
	for i, e := range resp.Entries {
		out[i] = provider.DirEntry{Name: e.Name, IsDir: e.IsDir, Size: e.Size}
	}
	return out, nil
}

func (p *Provider) GetMetrics(ctx context.Context, sessionID string) (*provider.Metrics, error) {
	resp, err := p.client.GetMetrics(ctx, &sandboxproviderv1.SessionRequest{SessionId: sessionID})
	if err != nil {
		return nil, p.classifier.Classify("get_metrics", err, 0, "")
	}
	if !resp.Available {
		return nil, nil
	}
	return &provider.Metrics{
		CPUPercent:    resp.CpuPercent,
		MemoryUsedMB:  resp.MemoryUsedMb,
		MemoryTotalMB: resp.MemoryTotalMb,
		DiskUsedGB:    resp.DiskUsedGb,
		DiskTotalGB:   resp.DiskTotalGb,
		NetworkRxKbps: resp.NetworkRxKbps,
		NetworkTxKbps: resp.NetworkTxKbps,
	}, nil
}
