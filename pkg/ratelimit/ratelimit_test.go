package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_PerRegionBuckets(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 0.001, Burst: 2})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "us-east-1"))
	require.NoError(t, l.Wait(ctx, "us-east-1"))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(short, "us-east-1"), "burst exhausted")

	// Regions do not share buckets.
	assert.NoError(t, l.Wait(ctx, "eu-west-1"))
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "us-east-1"))
	}

	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Wait(context.Background(), "us-east-1"))
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "us-east-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "us-east-1"))
}
