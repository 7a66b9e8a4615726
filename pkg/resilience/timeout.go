package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when an operation exceeds its timeout.
var ErrTimeout = errors.New("operation timed out")

// Run calls fn on its own goroutine and returns when fn does or the timeout
// expires. Persistence calls take no context, so a timed out fn keeps running
// in the background; fn must tolerate that. ctx is passed through for the
// parts of fn that do accept one.
func Run(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(runCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return runCtx.Err()
	}
}
