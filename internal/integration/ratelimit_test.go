package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterUnregisteredServiceIsUnlimited(t *testing.T) {
	r := NewTokenBucketRateLimiter()

	ok, err := r.Allow(context.Background(), "slack")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, r.Wait(context.Background(), "slack"))
	assert.Equal(t, -1, r.GetStatus("slack").Limit)
}

func TestRateLimiterBurstThenDeny(t *testing.T) {
	r := NewTokenBucketRateLimiter()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	r.RegisterService("slack", 360) // burst 10

	allowed := 0
	for i := 0; i < 15; i++ {
		ok, err := r.Allow(context.Background(), "slack")
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 10, allowed)

	status := r.GetStatus("slack")
	assert.Equal(t, 360, status.Limit)
	assert.Equal(t, 350, status.Remaining)
}

func TestRateLimiterHourlyReset(t *testing.T) {
	r := NewTokenBucketRateLimiter()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	r.RegisterService("calendar", 3600)

	_, _ = r.Allow(context.Background(), "calendar")
	assert.Equal(t, 3599, r.GetStatus("calendar").Remaining)

	now = now.Add(time.Hour + time.Second)
	assert.Equal(t, 3600, r.GetStatus("calendar").Remaining)
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	r := NewTokenBucketRateLimiter()
	r.RegisterService("slack", 1) // burst 10, then one per hour
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Wait(context.Background(), "slack"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, r.Wait(ctx, "slack"))
}
