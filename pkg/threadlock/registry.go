// Package threadlock serializes run execution per thread and tracks
// each thread's current run, mirroring the original implementation's
// thread_id -> lock and thread_id -> RunEventBuffer maps. It also owns
// the thread-deletion cascade: stopping any in-flight run before the
// rest of the thread's resources are torn down.
package threadlock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/runstream"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/sandbox"
)

// ErrRunInProgress is returned by StartRun when threadID already has a
// live run.
var ErrRunInProgress = errors.New("threadlock: run already in progress for thread")

// Registry is the process-wide per-thread run registry. One instance
// serves every thread.
type Registry struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	cancels map[string]context.CancelFunc
	streams map[string]*runstream.Stream

	runs      *runstream.Store
	sandboxes *sandbox.Manager
}

// NewRegistry builds a Registry. runs and sandboxes back DeleteThread's
// cascade.
func NewRegistry(runs *runstream.Store, sandboxes *sandbox.Manager) *Registry {
	return &Registry{
		locks:     map[string]*sync.Mutex{},
		cancels:   map[string]context.CancelFunc{},
		streams:   map[string]*runstream.Stream{},
		runs:      runs,
		sandboxes: sandboxes,
	}
}

func (r *Registry) lockFor(threadID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[threadID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[threadID] = l
	}
	return l
}

// StartRun begins one run for threadID. At most one run may be in
// flight per thread: a second StartRun call while one is still running
// is rejected with ErrRunInProgress rather than queued — it gives the
// caller an immediate, actionable answer instead of leaving an HTTP
// request blocked for an unbounded time behind someone else's run,
// while still guaranteeing single-flight execution per thread.
//
// produce is handed a context StartRun derives from ctx (so CancelRun
// can cancel just this run) and must start the run in its own
// goroutine and return its stream immediately — the shape
// runpipeline.Producer.Run already has.
func (r *Registry) StartRun(ctx context.Context, threadID string, produce func(ctx context.Context) *runstream.Stream) (*runstream.Stream, error) {
	lock := r.lockFor(threadID)
	if !lock.TryLock() {
		return nil, ErrRunInProgress
	}

	runCtx, cancel := context.WithCancel(ctx)
	stream := produce(runCtx)

	r.mu.Lock()
	r.cancels[threadID] = cancel
	r.streams[threadID] = stream
	r.mu.Unlock()

	go r.awaitCompletion(threadID, lock, cancel, stream)

	return stream, nil
}

// awaitCompletion blocks until stream finishes, then frees threadID
// for its next run. It never errors: Buffer.Wait only fails on context
// cancellation, and the background context it's given here never is.
func (r *Registry) awaitCompletion(threadID string, lock *sync.Mutex, cancel context.CancelFunc, stream *runstream.Stream) {
	_ = stream.Buffer().Wait(context.Background())
	cancel()

	r.mu.Lock()
	if r.streams[threadID] == stream {
		delete(r.streams, threadID)
		delete(r.cancels, threadID)
	}
	r.mu.Unlock()

	lock.Unlock()
}

// CurrentRun returns threadID's in-flight stream, if any, so an HTTP
// handler can attach a reader to a run it did not itself start.
func (r *Registry) CurrentRun(threadID string) (*runstream.Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[threadID]
	return s, ok
}

// CancelRun cancels threadID's in-flight run, if any, returning
// whether one was found. It does not wait for the run to actually
// stop; a caller that needs that guarantee reads the stream's buffer
// until it sees a cancelled/done event.
func (r *Registry) CancelRun(threadID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[threadID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// DeleteThread cascades a thread's deletion: cancels any in-flight run
// and waits for it to actually stop touching thread resources, drops
// the run-event log, then asks sandbox.Manager to tear down the
// thread's lease/terminal/session rows — the only tables besides
// run_events keyed by thread_id.
func (r *Registry) DeleteThread(ctx context.Context, threadID string) error {
	r.mu.Lock()
	cancel, hasCancel := r.cancels[threadID]
	lock := r.locks[threadID]
	r.mu.Unlock()

	if hasCancel {
		cancel()
	}
	if lock != nil {
		// Lock/Unlock here is a join, not mutual exclusion: it blocks
		// until awaitCompletion's own Unlock proves the run's goroutine
		// has actually stopped before thread resources are deleted out
		// from under it.
		lock.Lock()
		lock.Unlock()
	}

	r.mu.Lock()
	delete(r.streams, threadID)
	delete(r.cancels, threadID)
	delete(r.locks, threadID)
	r.mu.Unlock()

	if _, err := r.runs.DeleteByThread(ctx, threadID); err != nil {
		return fmt.Errorf("threadlock: delete thread %s: %w", threadID, err)
	}
	if err := r.sandboxes.DestroyThreadResources(ctx, threadID); err != nil {
		return fmt.Errorf("threadlock: delete thread %s: %w", threadID, err)
	}
	return nil
}
