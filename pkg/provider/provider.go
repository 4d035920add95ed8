// Package provider defines the SandboxProvider contract that every
// concrete backend (local shell, remote gRPC daemon, and eventually
// e2b/daytona/agentbay adapters behind the same interface) must satisfy.
// Callers hold this interface, never a concrete type — there is no
// switch-on-provider-name dispatch anywhere above this package.
package provider

import "context"

// RuntimeKind classifies the execution channel a provider exposes, used
// by pkg/runtime to pick the matching PhysicalTerminalRuntime.
type RuntimeKind string

const (
	RuntimeKindLocalShell    RuntimeKind = "local_shell"
	RuntimeKindRemoteWrapped RuntimeKind = "remote_wrapped"
)

// Capability is the declared lifecycle contract of a provider
// implementation. Managers consult this instead of probing behavior at
// runtime or switching on provider name.
type Capability struct {
	CanPause             bool
	CanResume            bool
	CanDestroy           bool
	SupportsWebhook      bool
	SupportsStatusProbe  bool
	EagerInstanceBinding bool
	InspectVisible       bool
	RuntimeKind          RuntimeKind
}

// SessionInfo describes a freshly created or inspected provider session.
type SessionInfo struct {
	SessionID string
	Provider  string
	Status    string
	Metadata  map[string]any
}

// ExecResult is the outcome of a command run inside a provider session.
type ExecResult struct {
	Output   string
	ExitCode int
	TimedOut bool
	Error    string
}

// DirEntry is one row returned by ListDir.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Metrics is optional telemetry a provider may expose for a session.
type Metrics struct {
	CPUPercent    float64
	MemoryUsedMB  float64
	MemoryTotalMB float64
	DiskUsedGB    float64
	DiskTotalGB   float64
	NetworkRxKbps float64
	NetworkTxKbps float64
}

// SandboxProvider is the abstract interface every sandbox backend
// implements. Methods map 1:1 onto the operations the lease and runtime
// layers need; anything a given provider can't do should be reflected in
// its Capability rather than a runtime type assertion.
type SandboxProvider interface {
	Name() string
	Capability() Capability

	CreateSession(ctx context.Context, contextID string) (SessionInfo, error)
	DestroySession(ctx context.Context, sessionID string, sync bool) error
	PauseSession(ctx context.Context, sessionID string) error
	ResumeSession(ctx context.Context, sessionID string) error
	GetSessionStatus(ctx context.Context, sessionID string) (string, error)

	Execute(ctx context.Context, sessionID, command string, timeoutMS int, cwd string) (ExecResult, error)

	ReadFile(ctx context.Context, sessionID, path string) (string, error)
	WriteFile(ctx context.Context, sessionID, path, content string) (string, error)
	ListDir(ctx context.Context, sessionID, path string) ([]DirEntry, error)

	// GetMetrics returns nil, nil when the provider has no telemetry to
	// report rather than erroring — metrics are always best-effort.
	GetMetrics(ctx context.Context, sessionID string) (*Metrics, error)
}

// Registry looks providers up by name for SandboxManager wiring. It holds
// no behavior of its own beyond the map lookup — one more place dispatch
// stays data-driven instead of switch-on-name.
type Registry struct {
	providers map[string]SandboxProvider
}

// NewRegistry builds a Registry from the given providers, keyed by their
// own Name().
func NewRegistry(providers ...SandboxProvider) *Registry {
	r := &Registry{providers: make(map[string]SandboxProvider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under name, or false if none is.
func (r *Registry) Get(name string) (SandboxProvider, bool) {
	p, ok := r.providers[name]
	return p, ok
}
