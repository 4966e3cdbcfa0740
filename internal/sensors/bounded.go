package sensors

import (
	"context"
	"sync/atomic"

	"codeberg.org/mutker/hwtelemetry/internal/errors"
)

// boundedCall runs fn on its own goroutine and waits for it or ctx. fn
// cannot be interrupted, so after a timeout busy stays set until fn returns
// and calls sharing the same flag fail fast with ErrBusy instead of piling
// up blocked goroutines.
func boundedCall(ctx context.Context, busy *atomic.Bool, fn func() error) error {
	if !busy.CompareAndSwap(false, true) {
		return errors.New().New(ErrBusy)
	}

	done := make(chan error, 1)
	go func() {
		err := fn()
		busy.Store(false)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	}
}
