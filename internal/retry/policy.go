package retry

import (
	"context"
	"time"
)

// Policy describes a bounded retry with doubling backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the backoff before the given retry. attempt is 1-based: the
// delay after the first failure is BaseDelay, then it doubles.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

// Do runs fn up to MaxAttempts times, sleeping the backoff between attempts.
// Only the calling goroutine is suspended; concurrent retries are
// independent. Returns nil on the first success, the last error after
// exhaustion, or ctx.Err() if the context is cancelled mid-backoff.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
