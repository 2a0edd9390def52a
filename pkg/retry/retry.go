// Package retry retries control-plane calls that were rejected for rate
// limiting, using a bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ip-rotator/pkg/gateway"
)

// Policy bounds how long a rate-limited call keeps being retried.
type Policy struct {
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
	// Multiplier grows the wait after each retry. 1 keeps it fixed.
	Multiplier float64
	// MaxAttempts counts the first call too. Zero means unlimited.
	MaxAttempts int
	// MaxElapsed stops retrying once this much time has passed. Zero means no deadline.
	MaxElapsed time.Duration
}

// DefaultPolicy waits 3s before the first retry and gives up after ten attempts.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 3 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   1.5,
		MaxAttempts:  10,
		MaxElapsed:   5 * time.Minute,
	}
}

// Notify is called before each delayed retry.
type Notify func(err error, wait time.Duration)

// Do runs fn until it succeeds, fails with an error other than
// gateway.ErrRateLimited, the policy is exhausted or ctx ends. Each rate-limit
// rejection causes exactly one delayed retry.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error, notify Notify) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = p.MaxElapsed

	var bo backoff.BackOff = b
	if p.MaxAttempts > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(p.MaxAttempts-1))
	}

	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, gateway.ErrRateLimited) {
			return err
		}
		return backoff.Permanent(err)
	}

	var n backoff.Notify
	if notify != nil {
		n = backoff.Notify(notify)
	}

	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), n)
}
