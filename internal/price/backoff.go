package price

import (
	"context"
	"time"
)

// BackoffPolicy is a bounded retry schedule: MaxAttempts tries, delays
// starting at BaseDelay and growing by Multiplier between attempts.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64

	// sleep is swapped out by tests for a fake clock.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewBackoffPolicy(maxAttempts int, baseDelay time.Duration, multiplier float64) BackoffPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if multiplier < 1 {
		multiplier = 1
	}
	return BackoffPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Multiplier:  multiplier,
		sleep:       sleepCtx,
	}
}

// WithSleep returns a copy of the policy using the given sleep function.
func (p BackoffPolicy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) BackoffPolicy {
	p.sleep = sleep
	return p
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. The last
// error is returned once attempts are exhausted. Context cancellation stops
// the schedule immediately.
func (p BackoffPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	delay := p.BaseDelay
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
