package runstream

import (
	"context"
	"math"
	"sync"
	"time"
)

// Buffer is an ordered, in-process event log with cursor-based reads and
// a completion signal, one instance per live run. Go port of
// `_examples/original_source/backend/web/services/event_buffer.py`'s
// RunEventBuffer: its asyncio.Condition becomes a sync.Cond, and its
// asyncio.wait_for timeout becomes a context deadline a waiting
// goroutine watches to break the Cond.Wait early.
type Buffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	events   []Event
	finished bool
}

// NewBuffer builds an empty Buffer.
func NewBuffer() *Buffer {
	b := &Buffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Put appends event and wakes every waiting reader.
func (b *Buffer) Put(event Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
	b.cond.Broadcast()
}

// MarkDone signals no further events will be appended.
func (b *Buffer) MarkDone() {
	b.mu.Lock()
	b.finished = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Read returns every event past cursor, blocking until at least one is
// available, the buffer finishes, or ctx is cancelled.
func (b *Buffer) Read(ctx context.Context, cursor int) ([]Event, int, error) {
	// Cond.Wait only wakes on Broadcast/Signal, so a waiting reader
	// needs a second goroutine translating ctx cancellation into one.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			b.cond.Broadcast()
		case <-stopWatch:
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if cursor < len(b.events) {
			out := append([]Event(nil), b.events[cursor:]...)
			return out, len(b.events), nil
		}
		if b.finished {
			return nil, cursor, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, cursor, err
		}
		b.cond.Wait()
	}
}

// Wait blocks until the buffer is marked done or ctx is cancelled,
// without consuming any event. Callers that only need to know a run
// has finished — not read its events — use this instead of polling
// Read with a cursor they then discard.
func (b *Buffer) Wait(ctx context.Context) error {
	_, _, err := b.Read(ctx, math.MaxInt)
	return err
}

// ReadWithTimeout behaves like Read but returns (nil, cursor, nil) — a
// keepalive signal, not an error — if no new event arrives within
// timeout. A cancellation of the parent ctx itself still surfaces as an
// error, distinguishing "nothing happened yet" from "give up".
func (b *Buffer) ReadWithTimeout(ctx context.Context, cursor int, timeout time.Duration) ([]Event, int, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events, newCursor, err := b.Read(tctx, cursor)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cursor, ctx.Err()
		}
		return nil, cursor, nil
	}
	return events, newCursor, nil
}
