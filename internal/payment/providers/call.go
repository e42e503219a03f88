package providers

import (
	"context"
	"time"
)

// retryBackoff is the wait before the first retry; it doubles per attempt.
const retryBackoff = 200 * time.Millisecond

// Invoke runs one provider operation with a per-attempt timeout, retrying
// only transient failures with exponential backoff between attempts. The
// last error is returned when attempts run out.
func Invoke(ctx context.Context, timeout time.Duration, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	backoff := retryBackoff
	var err error
	for i := 0; i < attempts; i++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err = fn(callCtx)
		cancel()
		if err == nil || !IsTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		backoff *= 2
	}
	return err
}
