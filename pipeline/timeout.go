package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/hwcodec/status"
)

// Timeout is the wait policy of a port: TimeoutBlock, TimeoutNonBlock or a
// positive duration.
type Timeout = time.Duration

const (
	// TimeoutBlock waits until the operation can proceed.
	TimeoutBlock Timeout = -1
	// TimeoutNonBlock fails at once with status.ErrWouldBlock.
	TimeoutNonBlock Timeout = 0
)

func validTimeout(to Timeout) error {
	if to < TimeoutBlock {
		return fmt.Errorf("%w: timeout %v", status.ErrInvalidArgument, to)
	}
	return nil
}

// poll calls try until it stops reporting status.ErrWouldBlock, waiting
// for a signal on ev between attempts. A positive timeout that expires
// yields status.ErrTimeout; ctx ending yields status.ErrClosed.
func poll[T any](ctx context.Context, ev *Events, to Timeout, try func() (T, error)) (T, error) {
	var zero T
	var deadline <-chan time.Time
	if to > 0 {
		timer := time.NewTimer(to)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		wake := ev.Subscribe()
		v, err := try()
		if !errors.Is(err, status.ErrWouldBlock) || to == TimeoutNonBlock {
			return v, err
		}
		select {
		case <-wake:
		case <-deadline:
			return zero, fmt.Errorf("%w: after %v", status.ErrTimeout, to)
		case <-ctx.Done():
			return zero, fmt.Errorf("%w: context shut down", status.ErrClosed)
		}
	}
}
