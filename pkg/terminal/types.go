// Package terminal implements AbstractTerminal: a durable snapshot of
// shell state (cwd, env_delta) that outlives any one physical process.
// A runtime (see pkg/runtime) hydrates from this snapshot and writes
// back to it after each command; the terminal itself never touches a
// process.
package terminal

import "time"

// State is the durable snapshot written back after each command.
type State struct {
	Cwd          string
	EnvDelta     map[string]string
	StateVersion int
}

// Clone returns a deep copy, used when forking a background-command
// terminal from the default terminal's current snapshot.
func (s State) Clone() State {
	delta := make(map[string]string, len(s.EnvDelta))
	for k, v := range s.EnvDelta {
		delta[k] = v
	}
	return State{Cwd: s.Cwd, EnvDelta: delta, StateVersion: s.StateVersion}
}

// Terminal is the durable identity + state snapshot for one shell
// lineage under a thread. IsDefault marks the terminal returned by
// get_sandbox; all others are forks created by Store.Fork.
type Terminal struct {
	TerminalID string
	ThreadID   string
	LeaseID    string
	IsDefault  bool
	State      State
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
