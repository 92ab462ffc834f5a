package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/funtreasury/treasury-sync/internal/metrics"
)

// Limiter wraps a token-bucket limiter shared by every call a provider
// client makes, keeping batch syncs under the provider's rate plan.
type Limiter struct {
	limiter  *rate.Limiter
	provider string
}

// NewLimiter allows rps requests per second with a burst capacity of burst.
func NewLimiter(rps float64, burst int, provider string) *Limiter {
	return &Limiter{
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		provider: provider,
	}
}

// Wait blocks until the limiter releases one token or ctx is done. A nil
// receiver never waits, so clients can run unlimited in tests.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	r := l.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay > 0 {
		metrics.ProviderRateLimitWaits.WithLabelValues(l.provider).Inc()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}
	return nil
}
