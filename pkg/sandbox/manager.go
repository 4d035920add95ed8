package sandbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/chatsession"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/lease"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runtime"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/terminal"
)

// Manager is the top-level orchestrator. One instance serves every
// thread in the process regardless of which provider its lease is
// bound to: the original implementation bound a whole SandboxManager to
// a single provider and asserted thread/provider agreement at every
// call; since this module already has a provider.Registry, that check
// becomes per-lease (resolveProvider simply looks the lease's own
// provider_name up) rather than a whole-manager invariant.
type Manager struct {
	termStore    *terminal.Store
	leaseStore   *lease.Store
	leaseManager *lease.Manager
	sessions     *chatsession.Manager
	providers    *provider.Registry

	defaultProvider string
	busy            *busyTracker
}

// NewManager builds a Manager, including the ChatSessionManager it
// composes — constructed here rather than accepted as a parameter,
// since its RuntimeBuilder closure must close over this Manager's own
// provider-resolution logic (buildRuntime), which would otherwise be a
// construction-order cycle between the two packages. defaultProvider
// names the provider a brand-new thread's lease is created against;
// existing threads always resolve their provider from their own lease
// row.
func NewManager(
	termStore *terminal.Store,
	leaseStore *lease.Store,
	leaseManager *lease.Manager,
	chatStore *chatsession.Store,
	providers *provider.Registry,
	defaultProvider string,
) *Manager {
	m := &Manager{
		termStore:       termStore,
		leaseStore:      leaseStore,
		leaseManager:    leaseManager,
		providers:       providers,
		defaultProvider: defaultProvider,
		busy:            newBusyTracker(),
	}
	m.sessions = chatsession.NewManager(chatStore, m.buildRuntime)
	return m
}

// buildRuntime picks the concrete PhysicalTerminalRuntime variant for a
// session based on its lease's provider capability — the decision
// pkg/chatsession defers to its injected builder rather than knowing
// about providers itself.
func (m *Manager) buildRuntime(ctx context.Context, threadID, terminalID, leaseID string) (runtime.Runtime, error) {
	term, err := m.termStore.GetByID(ctx, terminalID)
	if err != nil {
		return nil, err
	}
	if term == nil {
		return nil, fmt.Errorf("sandbox: build runtime: terminal %s not found", terminalID)
	}
	l, err := m.leaseStore.Get(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("sandbox: build runtime: lease %s not found", leaseID)
	}
	prov, err := m.resolveProvider(l.ProviderName)
	if err != nil {
		return nil, err
	}
	if prov.Capability().RuntimeKind == provider.RuntimeKindLocalShell {
		return runtime.NewLocalPersistentShellRuntime(term, m.termStore), nil
	}
	return runtime.NewRemoteWrappedRuntime(term, m.leaseManager, prov, m.termStore), nil
}

func (m *Manager) resolveProvider(name string) (provider.SandboxProvider, error) {
	p, ok := m.providers.Get(name)
	if !ok {
		return nil, fmt.Errorf("sandbox: unknown provider %q", name)
	}
	return p, nil
}

// getThreadTerminals lists every terminal belonging to threadID (the
// default plus any forks), or an empty slice for a thread that has
// none yet.
func (m *Manager) getThreadTerminals(ctx context.Context, threadID string) ([]*terminal.Terminal, error) {
	return m.termStore.ListByThread(ctx, threadID)
}

// getThreadLease resolves the single lease shared by every terminal
// under threadID, failing loudly (never silently recovering) if the
// thread's terminals disagree on lease_id. terminal.Fork always forks
// from the default terminal's own lease, so this should never trip in
// practice — a hit means the data is corrupt, not that it needs
// coercing.
func (m *Manager) getThreadLease(ctx context.Context, threadID string) (*lease.Lease, error) {
	terms, err := m.getThreadTerminals(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(terms) == 0 {
		return nil, nil
	}
	leaseID := terms[0].LeaseID
	for _, t := range terms[1:] {
		if t.LeaseID != leaseID {
			return nil, fmt.Errorf("sandbox: thread %s has inconsistent lease ids across terminals", threadID)
		}
	}
	return m.leaseStore.Get(ctx, leaseID)
}

// ensureProviderInstance resolves leaseID's provider and a running
// instance bound to it, creating one if needed.
func (m *Manager) ensureProviderInstance(ctx context.Context, leaseID string) (provider.SandboxProvider, string, error) {
	l, err := m.leaseStore.Get(ctx, leaseID)
	if err != nil {
		return nil, "", err
	}
	if l == nil {
		return nil, "", fmt.Errorf("sandbox: lease %s not found", leaseID)
	}
	prov, err := m.resolveProvider(l.ProviderName)
	if err != nil {
		return nil, "", err
	}
	inst, err := m.leaseManager.EnsureActiveInstance(ctx, leaseID, prov)
	if err != nil {
		return nil, "", err
	}
	return prov, inst.InstanceID, nil
}

// GetSandbox resolves thread_id to a capability Handle: an existing
// live session if one exists (auto-resuming it first if paused), else a
// fresh session over the thread's existing terminal+lease, else all
// three created from scratch.
func (m *Manager) GetSandbox(ctx context.Context, threadID string) (*Handle, error) {
	sess, err := m.sessions.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		if sess.Status == chatsession.StatusPaused {
			if err := m.ResumeSession(ctx, threadID); err != nil {
				return nil, fmt.Errorf("sandbox: auto-resume thread %s: %w", threadID, err)
			}
			sess, err = m.sessions.Get(ctx, threadID)
			if err != nil {
				return nil, err
			}
			if sess == nil {
				return nil, fmt.Errorf("sandbox: session disappeared after resume for thread %s", threadID)
			}
		}
		if err := m.ensureBoundInstance(ctx, sess.LeaseID); err != nil {
			return nil, err
		}
		return m.handleFor(sess), nil
	}

	term, err := m.termStore.GetDefaultByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	var l *lease.Lease
	if term == nil {
		terminalID := "term-" + uuid.NewString()[:12]
		leaseID := "lease-" + uuid.NewString()[:12]
		l, err = m.leaseStore.Create(ctx, leaseID, m.defaultProvider, threadID)
		if err != nil {
			return nil, err
		}
		term, err = m.termStore.Create(ctx, terminalID, threadID, leaseID, true, terminal.State{Cwd: DefaultCwd})
		if err != nil {
			return nil, err
		}
	} else {
		l, err = m.leaseStore.Get(ctx, term.LeaseID)
		if err != nil {
			return nil, err
		}
		if l == nil {
			return nil, fmt.Errorf("sandbox: terminal %s references missing lease %s", term.TerminalID, term.LeaseID)
		}
	}

	if err := m.ensureBoundInstance(ctx, l.LeaseID); err != nil {
		return nil, err
	}

	sessionID := "sess-" + uuid.NewString()[:12]
	created, err := m.sessions.Create(ctx, sessionID, threadID, term.TerminalID, l.LeaseID, chatsession.DefaultPolicy)
	if err != nil {
		return nil, err
	}
	return m.handleFor(created), nil
}

// ensureBoundInstance eagerly creates a compute instance for leaseID
// when the provider declares eager_instance_binding and none is bound
// yet — providers that bind lazily (only on first command) are left
// alone until Handle.Execute/ReadFile/etc. calls EnsureActiveInstance
// themselves.
func (m *Manager) ensureBoundInstance(ctx context.Context, leaseID string) error {
	l, err := m.leaseStore.Get(ctx, leaseID)
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("sandbox: ensure bound instance: lease %s not found", leaseID)
	}
	prov, err := m.resolveProvider(l.ProviderName)
	if err != nil {
		return err
	}
	if !prov.Capability().EagerInstanceBinding || l.Instance != nil {
		return nil
	}
	_, err = m.leaseManager.EnsureActiveInstance(ctx, leaseID, prov)
	return err
}

func (m *Manager) handleFor(s *chatsession.Session) *Handle {
	return &Handle{
		ThreadID:   s.ThreadID,
		SessionID:  s.SessionID,
		TerminalID: s.TerminalID,
		LeaseID:    s.LeaseID,
		mgr:        m,
	}
}
