// Package backoff computes retry delays and drives retry loops for commits.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy describes an exponential backoff with full jitter.
//
//	delay = max(Min, rand(0, min(Cap, Base * 2^attempt)))
type Policy struct {
	Base time.Duration
	Cap  time.Duration
	Min  time.Duration
}

// DefaultPolicy is used for commit retries.
var DefaultPolicy = Policy{
	Base: 100 * time.Millisecond,
	Cap:  60 * time.Second,
	Min:  10 * time.Millisecond,
}

// Delay returns the wait before retry number attempt (starting at 0).
func (p Policy) Delay(attempt int) time.Duration {
	exp := float64(p.Base) * math.Pow(2, float64(attempt))
	if exp > float64(p.Cap) || exp <= 0 { // overflow guard
		exp = float64(p.Cap)
	}
	if exp < 1 {
		return p.Min
	}
	jitter := time.Duration(rand.Int64N(int64(exp)))
	if jitter < p.Min {
		jitter = p.Min
	}
	return jitter
}

// Retry calls fn until it succeeds, returns an error for which retryable
// is false, or maxRetries retries have been used. onRetry, when set, is
// called before each wait. The last error is returned.
func Retry(ctx context.Context, p Policy, maxRetries int, retryable func(error) bool, onRetry func(attempt int, delay time.Duration, err error), fn func(attempt int) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(attempt)
		if err == nil || attempt >= maxRetries || !retryable(err) {
			return err
		}

		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
