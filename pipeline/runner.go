package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/hwcodec/status"
)

// runner owns the two stage goroutines of a coordinator and the locks that
// pause them.
//
// parseMu is held while the parse stage works on one task and hwMu while
// the hardware stage runs one job; neither is held while a stage waits for
// work. Taking both, always parseMu first, pauses the pipeline between
// tasks, after any in-flight hardware call has returned.
type runner struct {
	id  string
	log *logrus.Entry

	parseMu sync.Mutex
	hwMu    sync.Mutex

	// parseEv wakes the parse stage; apiEv wakes callers blocked on a port.
	parseEv *Events
	apiEv   *Events

	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group
	closed atomic.Bool

	mu         sync.Mutex
	inTimeout  Timeout
	outTimeout Timeout
}

func newRunner(kind string, inTimeout, outTimeout Timeout) *runner {
	id := uuid.NewString()
	return &runner{
		id:         id,
		log:        logrus.WithFields(logrus.Fields{"pipeline": kind, "context_id": id}),
		parseEv:    NewEvents(),
		apiEv:      NewEvents(),
		inTimeout:  inTimeout,
		outTimeout: outTimeout,
	}
}

// start launches the stage loops. Each loop returns nil when ctx ends.
func (r *runner) start(parse, hw func(context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	r.eg, r.ctx = errgroup.WithContext(ctx)
	r.cancel = cancel
	r.eg.Go(func() error { return parse(r.ctx) })
	r.eg.Go(func() error { return hw(r.ctx) })
}

// stop cancels both loops and waits for them. A hardware call in flight
// is allowed to finish. It reports false if already stopped.
func (r *runner) stop() (bool, error) {
	if !r.closed.CompareAndSwap(false, true) {
		return false, nil
	}
	r.cancel()
	err := r.eg.Wait()
	r.apiEv.Signal(EventClosed)
	return true, err
}

// pause takes both stage locks and returns the function releasing them.
func (r *runner) pause() func() {
	r.parseMu.Lock()
	r.hwMu.Lock()
	return func() {
		r.hwMu.Unlock()
		r.parseMu.Unlock()
	}
}

func (r *runner) checkOpen() error {
	if r.closed.Load() {
		return fmt.Errorf("%w: pipeline %s", status.ErrClosed, r.id)
	}
	return nil
}

func (r *runner) timeouts() (in, out Timeout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inTimeout, r.outTimeout
}

// setTimeout handles the timeout commands shared by both coordinators.
func (r *runner) setTimeout(input bool, param any) error {
	to, ok := param.(Timeout)
	if !ok {
		return fmt.Errorf("%w: timeout param %T", status.ErrInvalidArgument, param)
	}
	if err := validTimeout(to); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if input {
		r.inTimeout = to
	} else {
		r.outTimeout = to
	}
	return nil
}
