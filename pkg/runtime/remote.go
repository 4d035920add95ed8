package runtime

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/lease"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/terminal"
)

// RemoteWrappedRuntime has no local process; it delegates every command
// to provider.Execute against whatever instance the lease currently has
// running, rehydrating cwd/env on the first call and tracking cwd
// changes via a pwd probe after any command that looks like a cd.
type RemoteWrappedRuntime struct {
	leaseID      string
	leaseManager *lease.Manager
	prov         provider.SandboxProvider
	store        *terminal.Store

	mu           sync.Mutex
	terminalID   string
	cwd          string
	envDelta     map[string]string
	stateVersion int
	hydrated     bool
}

// NewRemoteWrappedRuntime builds a runtime bound to term's current
// snapshot, delegating compute to prov through leaseManager.
func NewRemoteWrappedRuntime(term *terminal.Terminal, leaseManager *lease.Manager, prov provider.SandboxProvider, store *terminal.Store) *RemoteWrappedRuntime {
	envDelta := make(map[string]string, len(term.State.EnvDelta))
	for k, v := range term.State.EnvDelta {
		envDelta[k] = v
	}
	return &RemoteWrappedRuntime{
		leaseID:      term.LeaseID,
		leaseManager: leaseManager,
		prov:         prov,
		store:        store,
		terminalID:   term.TerminalID,
		cwd:          term.State.Cwd,
		envDelta:     envDelta,
		stateVersion: term.State.StateVersion,
	}
}

// Execute ensures the lease has a running instance, hydrates on first
// use, and runs command. If hydration or the command fails with an
// infra-classified error, it forces a status refresh (re-ensuring an
// instance when the refresh finds the lease detached) and retries
// hydration and the command exactly once; a second failure propagates.
func (r *RemoteWrappedRuntime) Execute(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	inst, err := r.leaseManager.EnsureActiveInstance(ctx, r.leaseID, r.prov)
	if err != nil {
		return Result{}, err
	}

	var res Result
	err = r.hydrateLocked(ctx, inst.InstanceID)
	if err == nil {
		res, err = r.runOnceLocked(ctx, inst.InstanceID, command, timeout)
	}
	if err == nil {
		return res, nil
	}
	if !provider.IsInfraError(err) {
		return res, err
	}

	slog.Warn("runtime: infra error on remote execute, retrying once", "lease_id", r.leaseID, "error", err)
	observed, refreshErr := r.leaseManager.RefreshInstanceStatus(ctx, r.leaseID, r.prov, true, 0)
	if refreshErr != nil {
		return Result{}, refreshErr
	}
	if observed == lease.StateDetached {
		inst, err = r.leaseManager.EnsureActiveInstance(ctx, r.leaseID, r.prov)
		if err != nil {
			return Result{}, err
		}
	}
	if err := r.hydrateLocked(ctx, inst.InstanceID); err != nil {
		return Result{}, err
	}
	return r.runOnceLocked(ctx, inst.InstanceID, command, timeout)
}

func (r *RemoteWrappedRuntime) hydrateLocked(ctx context.Context, instanceID string) error {
	if r.hydrated {
		return nil
	}
	if r.cwd != "" && r.cwd != "/root" {
		if _, err := r.prov.Execute(ctx, instanceID, "cd "+shellQuote(r.cwd), 5000, ""); err != nil {
			return err
		}
	}
	for k, v := range r.envDelta {
		if _, err := r.prov.Execute(ctx, instanceID, "export "+k+"="+shellQuote(v), 5000, ""); err != nil {
			return err
		}
	}
	r.hydrated = true
	return nil
}

func (r *RemoteWrappedRuntime) runOnceLocked(ctx context.Context, instanceID, command string, timeout time.Duration) (Result, error) {
	res, err := r.prov.Execute(ctx, instanceID, command, int(timeout.Milliseconds()), r.cwd)
	if err != nil {
		return Result{}, err
	}
	out := Result{ExitCode: res.ExitCode, Stdout: res.Output, TimedOut: res.TimedOut}
	if res.Error != "" {
		out.Stderr = res.Error
	}

	if strings.Contains(command, "cd ") || strings.HasPrefix(strings.TrimSpace(command), "cd") {
		r.probeAndPersistCwd(ctx, instanceID)
	}
	return out, nil
}

func (r *RemoteWrappedRuntime) probeAndPersistCwd(ctx context.Context, instanceID string) {
	pwdRes, err := r.prov.Execute(ctx, instanceID, "pwd", 5000, r.cwd)
	if err != nil {
		slog.Warn("runtime: pwd probe failed", "terminal_id", r.terminalID, "error", err)
		return
	}
	newCwd := strings.TrimSpace(pwdRes.Output)
	if newCwd == "" || newCwd == r.cwd {
		return
	}
	r.cwd = newCwd
	nextVersion, err := r.store.UpdateState(ctx, r.terminalID, terminal.State{
		Cwd:          r.cwd,
		EnvDelta:     r.envDelta,
		StateVersion: r.stateVersion,
	})
	if err != nil {
		slog.Warn("runtime: failed to persist terminal state", "terminal_id", r.terminalID, "error", err)
		return
	}
	r.stateVersion = nextVersion
}

// Close is a no-op: instance lifecycle belongs to the lease, not this
// runtime.
func (r *RemoteWrappedRuntime) Close(ctx context.Context) error {
	return nil
}
