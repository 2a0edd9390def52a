package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ip-rotator/pkg/gateway"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  attempts,
	}
}

// flaky rate-limits the first n calls and then succeeds.
func flaky(n int, calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		if *calls <= n {
			return fmt.Errorf("%w: slow down", gateway.ErrRateLimited)
		}
		return nil
	}
}

func TestDo(t *testing.T) {
	tests := []struct {
		name        string
		rateLimited int
		attempts    int
		wantCalls   int
		wantRetries int
		wantErr     bool
	}{
		{name: "no throttling", rateLimited: 0, attempts: 5, wantCalls: 1, wantRetries: 0},
		{name: "throttled three times", rateLimited: 3, attempts: 5, wantCalls: 4, wantRetries: 3},
		{name: "exhausted", rateLimited: 10, attempts: 3, wantCalls: 3, wantRetries: 2, wantErr: true},
		{name: "unlimited attempts", rateLimited: 7, attempts: 0, wantCalls: 8, wantRetries: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls, retries int
			err := fastPolicy(tt.attempts).Do(context.Background(), flaky(tt.rateLimited, &calls), func(error, time.Duration) {
				retries++
			})

			if tt.wantErr {
				require.ErrorIs(t, err, gateway.ErrRateLimited)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantRetries, retries)
		})
	}
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	}, nil)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error { return gateway.ErrRateLimited }, nil)
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestDefaultPolicyIsBounded(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3*time.Second, p.InitialDelay)
	assert.Positive(t, p.MaxAttempts)
	assert.Positive(t, p.MaxElapsed)
}
