package terminal

import (
	"context"
	"fmt"
)

// Fork creates a new, non-default terminal under the same lease as the
// thread's current default terminal, seeded with a deep copy of the
// default terminal's state at this instant. Subsequent mutations to
// either terminal are independent — the fork state_version restarts at
// the copied value, not zero, since Create's initial write already
// represents a snapshot rather than a fresh terminal.
//
// A fork gives a command its own cwd/env lineage without perturbing the
// session's main terminal. No code path in this module issues
// non-blocking commands, so nothing outside the tests calls Fork.
func (s *Store) Fork(ctx context.Context, threadID, newTerminalID string) (*Terminal, error) {
	def, err := s.GetDefaultByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, fmt.Errorf("terminal: fork: thread %s has no default terminal", threadID)
	}
	return s.Create(ctx, newTerminalID, threadID, def.LeaseID, false, def.State.Clone())
}
