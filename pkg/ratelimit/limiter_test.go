package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurst(t *testing.T) {
	tb := NewTokenBucket(60, time.Minute, 5)
	assert.Equal(t, time.Second, tb.Interval())

	for i := 0; i < 5; i++ {
		assert.True(t, tb.Allow(), "token %d should be available", i+1)
	}
	assert.False(t, tb.Allow(), "bucket should be exhausted")

	tb.Reset()
	assert.True(t, tb.Allow(), "reset should refill the bucket")
}

func TestTokenBucketWaitSpacing(t *testing.T) {
	// 50ms between requests after the first
	tb := NewTokenBucket(20, time.Second, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, tb.Wait(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := PerMinute(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, tb.Wait(ctx))
}

func TestTokenBucketDegenerateSettings(t *testing.T) {
	tb := NewTokenBucket(0, 0, 0)
	assert.Equal(t, time.Millisecond, tb.Interval())
	assert.True(t, tb.Allow())
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
	assert.NoError(t, l.Wait(context.Background()))
}
