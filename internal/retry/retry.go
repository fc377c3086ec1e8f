// Package retry provides the fixed-interval polling policy used for lock
// acquisition and for eventually consistent AWS resources (access point
// creation). The policy is a plain value injected into components so tests
// substitute zero-delay policies.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded fixed-interval retry loop.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// Interval is the sleep between attempts.
	Interval time.Duration
}

// LockAcquisition is the default policy for dataset lock acquisition.
var LockAcquisition = Policy{MaxAttempts: 10, Interval: 60 * time.Second}

// AccessPointCreation is the default policy for polling access point
// availability after CreateAccessPoint.
var AccessPointCreation = Policy{MaxAttempts: 5, Interval: 30 * time.Second}

// Immediate runs every attempt without sleeping. Test policies derive from it.
var Immediate = Policy{MaxAttempts: 3, Interval: 0}

// Until calls fn up to MaxAttempts times, sleeping Interval between attempts,
// until fn reports done. A non-nil error from fn aborts the loop immediately.
// Returns (false, nil) when attempts are exhausted and (false, ctx.Err()) when
// the context is canceled mid-wait.
func (p Policy) Until(ctx context.Context, fn func(context.Context) (bool, error)) (bool, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		done, err := fn(ctx)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return false, err
		}
	}
	return false, nil
}

func sleep(ctx context.Context, d time.Duration) error {
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
