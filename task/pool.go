package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hwcodec/limits"
	"github.com/opd-ai/hwcodec/status"
)

// State names the list a task sits on.
type State int

const (
	// StateUnused tasks are free for the producing stage to fill.
	StateUnused State = iota
	// StateUsed tasks are filled and waiting for, or held by, the consuming stage.
	StateUsed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnused:
		return "unused"
	case StateUsed:
		return "used"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) valid() bool { return s == StateUnused || s == StateUsed }

// Handle identifies one task. The generation changes whenever the task
// changes hands, so a copy kept past Transfer, Release or Reset is rejected
// with status.ErrInvalidIndex. The zero Handle is never valid.
type Handle struct {
	index int
	gen   uint32
}

// Index returns the task's position in the pool.
func (h Handle) Index() int { return h.index }

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h.gen == 0 }

// String renders the handle as index@generation.
func (h Handle) String() string { return fmt.Sprintf("%d@%d", h.index, h.gen) }

type entry[T any] struct {
	gen     uint32
	state   State
	held    bool
	payload T
}

// Pool is a fixed set of reusable task descriptors split into an unused and
// a used list. A task taken from a list is held by the caller but still
// counted in its list's state, so Counts always adds up to Capacity.
type Pool[T any] struct {
	name string
	log  *logrus.Entry

	mu      sync.Mutex
	entries []entry[T]
	lists   [2][]int
	counts  [2]int
	wake    chan struct{}
}

// NewPool preallocates capacity tasks, all unused.
func NewPool[T any](name string, capacity int) (*Pool[T], error) {
	if err := limits.ValidateTaskCount(capacity); err != nil {
		return nil, err
	}
	p := &Pool[T]{
		name:    name,
		entries: make([]entry[T], capacity),
		wake:    make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"pool": name,
		}),
	}
	for i := range p.entries {
		p.entries[i].gen = 1
		p.lists[StateUnused] = append(p.lists[StateUnused], i)
	}
	p.counts[StateUnused] = capacity
	return p, nil
}

// Capacity returns the number of tasks.
func (p *Pool[T]) Capacity() int { return len(p.entries) }

// Counts returns the number of unused and used tasks, held ones included.
func (p *Pool[T]) Counts() (unused, used int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[StateUnused], p.counts[StateUsed]
}

// Acquire takes the head of the requested list. It fails with
// status.ErrWouldBlock when the list is empty, which callers treat as
// "try again later".
func (p *Pool[T]) Acquire(s State) (Handle, error) {
	if !s.valid() {
		return Handle{}, fmt.Errorf("%w: task state %d", status.ErrInvalidArgument, int(s))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquireLocked(s)
}

func (p *Pool[T]) acquireLocked(s State) (Handle, error) {
	list := p.lists[s]
	if len(list) == 0 {
		return Handle{}, fmt.Errorf("%w: no %s task in pool %s", status.ErrWouldBlock, s, p.name)
	}
	idx := list[0]
	p.lists[s] = list[1:]
	e := &p.entries[idx]
	e.held = true
	return Handle{index: idx, gen: e.gen}, nil
}

// AcquireWait is Acquire that waits for a task to appear on the list until
// ctx is done. A context deadline is reported as status.ErrTimeout.
func (p *Pool[T]) AcquireWait(ctx context.Context, s State) (Handle, error) {
	if !s.valid() {
		return Handle{}, fmt.Errorf("%w: task state %d", status.ErrInvalidArgument, int(s))
	}
	for {
		p.mu.Lock()
		h, err := p.acquireLocked(s)
		wake := p.wake
		p.mu.Unlock()
		if err == nil {
			return h, nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return Handle{}, fmt.Errorf("%w: waiting for %s task: %w", status.ErrTimeout, s, ctx.Err())
		}
	}
}

// Claim takes a specific task off its list, as when a handle returned by
// Transfer was passed to another stage. The returned handle is held.
func (p *Pool[T]) Claim(h Handle) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.lookupLocked(h, false)
	if err != nil {
		return Handle{}, err
	}
	list := p.lists[e.state]
	for i, idx := range list {
		if idx == h.index {
			p.lists[e.state] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	e.held = true
	return h, nil
}

// Transfer moves a held task onto the tail of list s and returns its new,
// unheld handle. The old handle becomes stale.
func (p *Pool[T]) Transfer(h Handle, s State) (Handle, error) {
	if !s.valid() {
		return Handle{}, fmt.Errorf("%w: task state %d", status.ErrInvalidArgument, int(s))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.lookupLocked(h, true)
	if err != nil {
		return Handle{}, err
	}
	p.counts[e.state]--
	p.counts[s]++
	e.state = s
	return p.putLocked(h.index, e), nil
}

// Release returns a held task to the tail of its own list unchanged.
func (p *Pool[T]) Release(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.lookupLocked(h, true)
	if err != nil {
		return err
	}
	p.putLocked(h.index, e)
	return nil
}

func (p *Pool[T]) putLocked(idx int, e *entry[T]) Handle {
	e.held = false
	e.gen++
	p.lists[e.state] = append(p.lists[e.state], idx)
	p.broadcastLocked()
	return Handle{index: idx, gen: e.gen}
}

// Read returns a copy of a held task's payload.
func (p *Pool[T]) Read(h Handle) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.lookupLocked(h, true)
	if err != nil {
		var zero T
		return zero, err
	}
	return e.payload, nil
}

// Write replaces a held task's payload.
func (p *Pool[T]) Write(h Handle, v T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.lookupLocked(h, true)
	if err != nil {
		return err
	}
	e.payload = v
	return nil
}

// State returns the list a live handle's task belongs to.
func (p *Pool[T]) State(h Handle) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.lookupLocked(h, false)
	if err != nil {
		return 0, err
	}
	return e.state, nil
}

// Reset returns every task, held or not, to the unused list with a zero
// payload. discard, if non-nil, is called on each payload first so the
// caller can drop what tasks referenced. Every outstanding handle becomes
// stale. It returns the number of tasks that were used.
func (p *Pool[T]) Reset(discard func(*T)) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	moved := p.counts[StateUsed]
	p.lists[StateUnused] = p.lists[StateUnused][:0]
	p.lists[StateUsed] = p.lists[StateUsed][:0]
	var zero T
	for i := range p.entries {
		e := &p.entries[i]
		if discard != nil {
			discard(&e.payload)
		}
		e.gen++
		e.state = StateUnused
		e.held = false
		e.payload = zero
		p.lists[StateUnused] = append(p.lists[StateUnused], i)
	}
	p.counts = [2]int{len(p.entries), 0}
	p.broadcastLocked()

	p.log.WithFields(logrus.Fields{
		"function": "Reset",
		"moved":    moved,
	}).Debug("Task pool reset")
	return moved
}

// lookupLocked validates h. With held set the task must also be held by the
// caller; otherwise it must be sitting on its list.
func (p *Pool[T]) lookupLocked(h Handle, held bool) (*entry[T], error) {
	if h.index < 0 || h.index >= len(p.entries) {
		return nil, fmt.Errorf("%w: task %s out of range in pool %s", status.ErrInvalidIndex, h, p.name)
	}
	e := &p.entries[h.index]
	if e.gen != h.gen {
		return nil, fmt.Errorf("%w: stale task handle %s (generation %d) in pool %s", status.ErrInvalidIndex, h, e.gen, p.name)
	}
	if e.held != held {
		return nil, fmt.Errorf("%w: task %s held=%t, want %t", status.ErrInvalidIndex, h, e.held, held)
	}
	return e, nil
}

func (p *Pool[T]) broadcastLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}
