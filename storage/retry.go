package storage

import (
	"context"
	"time"
)

// RetryPolicy decides how long to wait before the next connection attempt.
// attempt is the 1-based number of the attempt that just failed. Returning
// false stops retrying.
type RetryPolicy interface {
	Backoff(attempt int) (time.Duration, bool)
}

// ConstantBackoff waits Delay between attempts. MaxAttempts of zero retries
// forever.
type ConstantBackoff struct {
	Delay       time.Duration
	MaxAttempts int
}

func (p ConstantBackoff) Backoff(attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return 0, false
	}
	return p.Delay, true
}

// ExponentialBackoff doubles the delay after every failed attempt, starting
// at Initial and capped at Max. MaxAttempts of zero retries forever.
type ExponentialBackoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func (p ExponentialBackoff) Backoff(attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return 0, false
	}
	if attempt < 1 {
		attempt = 1
	}
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max, true
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d, true
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
