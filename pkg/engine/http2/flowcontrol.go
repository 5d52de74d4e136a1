package http2

import (
	"context"
	"sync"

	"wayfare/pkg/helper/errors"
)

// waitCond blocks on cond until ready reports true or ctx is done.
// The caller must hold l locked before calling, matching sync.Cond's
// own contract; waitCond releases and reacquires it via cond.Wait as
// usual. sync.Cond has no native way to observe context cancellation,
// so a short-lived goroutine wakes the waiter by broadcasting once
// ctx is done; it exits as soon as waitCond returns.
func waitCond(ctx context.Context, l sync.Locker, cond *sync.Cond, ready func() bool) error {
	if ready() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.NewTimeoutError(errors.TimeoutWrite, err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.Lock()
			cond.Broadcast()
			l.Unlock()
		case <-stop:
		}
	}()

	for !ready() {
		if err := ctx.Err(); err != nil {
			return errors.NewTimeoutError(errors.TimeoutWrite, err)
		}
		cond.Wait()
	}
	return nil
}
