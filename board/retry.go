package board

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a failed position write is attempted.
// MaxAttempts counts the first try.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy retries a failed position write once after a second.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 2, Delay: time.Second}

// BackOff returns a constant backoff allowing MaxAttempts-1 retries.
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.StopBackOff{}
	if p.MaxAttempts > 1 {
		// WithMaxRetries treats 0 as unlimited, so single attempts stop above
		b = backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}
