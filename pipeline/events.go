package pipeline

import (
	"context"
	"strings"
	"sync"
)

// Event is a bit set of pipeline state changes.
type Event uint32

const (
	// EventPacketEnqueued: new input is waiting for the parse stage.
	EventPacketEnqueued Event = 1 << iota
	// EventInputConsumed: the parse stage freed room in the input queue.
	EventInputConsumed
	// EventTaskReturned: a task went back to the unused list.
	EventTaskReturned
	// EventFrameReady: output may be available.
	EventFrameReady
	// EventFrameDequeued: the caller took output, returning resources.
	EventFrameDequeued
	// EventReset: a reset completed.
	EventReset
	// EventClosed: the context is shutting down.
	EventClosed
)

// EventAll matches every event.
const EventAll = EventClosed<<1 - 1

// String renders the set bits.
func (e Event) String() string {
	names := []string{"packet_enqueued", "input_consumed", "task_returned", "frame_ready", "frame_dequeued", "reset", "closed"}
	var parts []string
	for i, n := range names {
		if e&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Events is a sticky event bit set with a broadcast wake-up.
//
// Signal ORs bits into the pending set and wakes every waiter. A waiter
// either consumes bits (Take, Wait) or only subscribes to the next change
// (Subscribe) and re-checks its own conditions. Bits signalled before a
// waiter arrives stay pending, so a signal is never lost.
type Events struct {
	mu      sync.Mutex
	pending Event
	wake    chan struct{}
}

// NewEvents returns an empty event set.
func NewEvents() *Events {
	return &Events{wake: make(chan struct{})}
}

// Signal sets ev and wakes all waiters.
func (e *Events) Signal(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending |= ev
	close(e.wake)
	e.wake = make(chan struct{})
}

// Take clears and returns the pending bits in mask. If none are pending it
// also returns the channel closed by the next Signal.
func (e *Events) Take(mask Event) (Event, <-chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	got := e.pending & mask
	e.pending &^= got
	return got, e.wake
}

// Subscribe returns the channel closed by the next Signal.
func (e *Events) Subscribe() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wake
}

// Wait blocks until a bit in mask is pending, then clears and returns the
// pending bits in mask.
func (e *Events) Wait(ctx context.Context, mask Event) (Event, error) {
	for {
		got, wake := e.Take(mask)
		if got != 0 {
			return got, nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
