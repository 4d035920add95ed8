package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runtime"
)

// Handle is the capability surface GetSandbox hands back to callers:
// command execution, filesystem access, and an activity touch, scoped
// to one thread's live terminal/lease/session triple. A Handle is a
// thin, re-resolving view — every call re-fetches the live session
// rather than caching it, so a Handle obtained before a pause/resume
// cycle keeps working afterward.
type Handle struct {
	ThreadID   string
	SessionID  string
	TerminalID string
	LeaseID    string

	mgr *Manager
}

// Execute runs command against the handle's live runtime. It marks the
// session's terminal and lease busy for the idle reaper while it runs and
// touches the session's activity clock before running.
func (h *Handle) Execute(ctx context.Context, command string, timeout time.Duration) (runtime.Result, error) {
	sess, err := h.mgr.sessions.Get(ctx, h.ThreadID)
	if err != nil {
		return runtime.Result{}, err
	}
	if sess == nil || sess.Runtime == nil {
		return runtime.Result{}, fmt.Errorf("sandbox: no live runtime for thread %s", h.ThreadID)
	}

	h.mgr.busy.begin(sess.TerminalID, sess.LeaseID)
	defer h.mgr.busy.end(sess.TerminalID, sess.LeaseID)

	if err := h.mgr.sessions.Touch(ctx, sess.SessionID); err != nil {
		return runtime.Result{}, err
	}
	return sess.Runtime.Execute(ctx, command, timeout)
}

// ReadFile reads path from the handle's bound compute instance,
// creating one first if none is currently running.
func (h *Handle) ReadFile(ctx context.Context, path string) (string, error) {
	prov, instanceID, err := h.mgr.ensureProviderInstance(ctx, h.LeaseID)
	if err != nil {
		return "", err
	}
	return prov.ReadFile(ctx, instanceID, path)
}

// WriteFile writes content to path on the handle's bound compute
// instance.
func (h *Handle) WriteFile(ctx context.Context, path, content string) (string, error) {
	prov, instanceID, err := h.mgr.ensureProviderInstance(ctx, h.LeaseID)
	if err != nil {
		return "", err
	}
	return prov.WriteFile(ctx, instanceID, path, content)
}

// ListDir lists path on the handle's bound compute instance.
func (h *Handle) ListDir(ctx context.Context, path string) ([]provider.DirEntry, error) {
	prov, instanceID, err := h.mgr.ensureProviderInstance(ctx, h.LeaseID)
	if err != nil {
		return nil, err
	}
	return prov.ListDir(ctx, instanceID, path)
}

// Touch refreshes the session's last-active clock without running a
// command, e.g. for a client keepalive ping.
func (h *Handle) Touch(ctx context.Context) error {
	return h.mgr.sessions.Touch(ctx, h.SessionID)
}
