package sandbox

import "sync"

// busyTracker answers the idle reaper's "is this terminal/lease busy"
// questions. The original implementation queries a terminal_commands
// log table for rows with status='running'; this module has no such
// log (run activity is tracked in-memory by whichever Handle.Execute
// call is in flight), so busyness is tracked directly as an in-memory
// reference count keyed by terminal_id and lease_id, incremented around
// every Handle.Execute call and decremented when it returns.
type busyTracker struct {
	mu       sync.Mutex
	terminal map[string]int
	lease    map[string]int
}

func newBusyTracker() *busyTracker {
	return &busyTracker{
		terminal: make(map[string]int),
		lease:    make(map[string]int),
	}
}

// begin marks terminalID and leaseID as having one more in-flight
// command.
func (b *busyTracker) begin(terminalID, leaseID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminal[terminalID]++
	b.lease[leaseID]++
}

// end reverses a prior begin, once the command has returned.
func (b *busyTracker) end(terminalID, leaseID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminal[terminalID] > 0 {
		b.terminal[terminalID]--
		if b.terminal[terminalID] == 0 {
			delete(b.terminal, terminalID)
		}
	}
	if b.lease[leaseID] > 0 {
		b.lease[leaseID]--
		if b.lease[leaseID] == 0 {
			delete(b.lease, leaseID)
		}
	}
}

// terminalBusy reports whether terminalID has an in-flight command. A
// busy terminal's chat session must not be closed by the idle reaper.
func (b *busyTracker) terminalBusy(terminalID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminal[terminalID] > 0
}

// leaseBusy reports whether any terminal under leaseID has an
// in-flight command. A busy lease must not be paused.
func (b *busyTracker) leaseBusy(leaseID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lease[leaseID] > 0
}
