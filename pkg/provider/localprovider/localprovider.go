// Package localprovider implements provider.SandboxProvider directly on
// top of the host's filesystem and shell, for threads that never need a
// remote sandbox. Local sessions are cheap enough that pause/resume is
// not worth the bookkeeping — the idle reaper knows never to pause a
// lease bound to this provider (see pkg/sandbox).
package localprovider

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
)

// Name is the canonical provider identifier used in lease.provider_name.
const Name = "local"

type session struct {
	id   string
	root string
}

// Provider is a local, single-host SandboxProvider. Every session is a
// directory under baseDir; commands run with that directory as cwd
// unless the caller overrides it.
type Provider struct {
	baseDir string

	mu       sync.Mutex
	sessions map[string]*session
}

// New returns a Provider rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Provider, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("localprovider: create base dir: %w", err)
	}
	return &Provider{
		baseDir:  baseDir,
		sessions: make(map[string]*session),
	}, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Capability() provider.Capability {
	return provider.Capability{
		CanPause:             false,
		CanResume:            false,
		CanDestroy:           true,
		SupportsWebhook:      false,
		SupportsStatusProbe:  true,
		EagerInstanceBinding: true,
		InspectVisible:       true,
		RuntimeKind:          provider.RuntimeKindLocalShell,
	}
}

func (p *Provider) CreateSession(ctx context.Context, contextID string) (provider.SessionInfo, error) {
	id := uuid.NewString()
	root := filepath.Join(p.baseDir, id)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return provider.SessionInfo{}, &provider.InfraError{Op: "create_session", Err: err}
	}
	p.mu.Lock()
	p.sessions[id] = &session{id: id, root: root}
	p.mu.Unlock()
	return provider.SessionInfo{SessionID: id, Provider: Name, Status: "running"}, nil
}

func (p *Provider) DestroySession(ctx context.Context, sessionID string, sync bool) error {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	delete(p.sessions, sessionID)
	p.mu.Unlock()
	if !ok {
		return provider.ErrSessionNotFound
	}
	if err := os.RemoveAll(s.root); err != nil {
		return &provider.InfraError{Op: "destroy_session", Err: err}
	}
	return nil
}

func (p *Provider) PauseSession(ctx context.Context, sessionID string) error {
	return fmt.Errorf("localprovider: pause_session: %w", provider.ErrCapabilityUnsupported)
}

func (p *Provider) ResumeSession(ctx context.Context, sessionID string) error {
	return fmt.Errorf("localprovider: resume_session: %w", provider.ErrCapabilityUnsupported)
}

func (p *Provider) GetSessionStatus(ctx context.Context, sessionID string) (string, error) {
	if _, ok := p.lookup(sessionID); !ok {
		return "", provider.ErrSessionNotFound
	}
	return "running", nil
}

func (p *Provider) Execute(ctx context.Context, sessionID, command string, timeoutMS int, cwd string) (provider.ExecResult, error) {
	s, ok := p.lookup(sessionID)
	if !ok {
		return provider.ExecResult{}, provider.ErrSessionNotFound
	}
	workDir := s.root
	if cwd != "" {
		workDir = resolveWithin(s.root, cwd)
	}

	runCtx := ctx
	if timeoutMS > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = workDir
	out, err := cmd.CombinedOutput()

	if runCtx.Err() != nil {
		return provider.ExecResult{Output: string(out), ExitCode: -1, TimedOut: true}, nil
	}
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return provider.ExecResult{}, &provider.InfraError{Op: "execute", Err: err}
		}
	}
	return provider.ExecResult{Output: string(out), ExitCode: exitCode}, nil
}

func (p *Provider) ReadFile(ctx context.Context, sessionID, path string) (string, error) {
	s, ok := p.lookup(sessionID)
	if !ok {
		return "", provider.ErrSessionNotFound
	}
	data, err := os.ReadFile(resolveWithin(s.root, path))
	if err != nil {
		return "", &provider.InfraError{Op: "read_file", Err: err}
	}
	return string(data), nil
}

func (p *Provider) WriteFile(ctx context.Context, sessionID, path, content string) (string, error) {
	s, ok := p.lookup(sessionID)
	if !ok {
		return "", provider.ErrSessionNotFound
	}
	full := resolveWithin(s.root, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", &provider.InfraError{Op: "write_file", Err: err}
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", &provider.InfraError{Op: "write_file", Err: err}
	}
	return full, nil
}

func (p *Provider) ListDir(ctx context.Context, sessionID, path string) ([]provider.DirEntry, error) {
	s, ok := p.lookup(sessionID)
	if !ok {
		return nil, provider.ErrSessionNotFound
	}
	entries, err := os.ReadDir(resolveWithin(s.root, path))
	if err != nil {
		return nil, &provider.InfraError{Op: "list_dir", Err: err}
	}
	out := make([]provider.DirEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		out = append(out, provider.DirEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	return out, nil
}

// GetMetrics always returns nil — the local provider has no telemetry.
func (p *Provider) GetMetrics(ctx context.Context, sessionID string) (*provider.Metrics, error) {
	return nil, nil
}

func (p *Provider) lookup(sessionID string) (*session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	return s, ok
}

// resolveWithin joins path onto root, refusing to escape it via "..":
// a path that would climb out of root is resolved as if root were "/"
// (so "../../x" becomes root/x).
func resolveWithin(root, path string) string {
	full := filepath.Join(root, path)
	if rel, err := filepath.Rel(root, full); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Join(root, filepath.Clean(string(filepath.Separator)+path))
	}
	return full
}
