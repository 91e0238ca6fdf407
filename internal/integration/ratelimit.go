package integration

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucketRateLimiter keeps a token bucket and an hourly quota counter
// per service. Services that were never registered are unlimited.
type TokenBucketRateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*quotaBucket
	now     func() time.Time
}

type quotaBucket struct {
	mu        sync.Mutex
	tokens    *rate.Limiter
	perHour   int
	used      int
	windowEnd time.Time
}

// NewTokenBucketRateLimiter creates a limiter with no registered services
func NewTokenBucketRateLimiter() *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		buckets: make(map[string]*quotaBucket),
		now:     time.Now,
	}
}

// RegisterService sets the hourly quota for service. The bucket allows
// bursts of about ten seconds' worth of calls, and never fewer than ten.
// A non-positive quota makes the service unlimited again.
func (r *TokenBucketRateLimiter) RegisterService(service string, requestsPerHour int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if requestsPerHour <= 0 {
		delete(r.buckets, service)
		return
	}
	perSecond := rate.Limit(float64(requestsPerHour) / time.Hour.Seconds())
	r.buckets[service] = &quotaBucket{
		tokens:    rate.NewLimiter(perSecond, max(10, requestsPerHour/360)),
		perHour:   requestsPerHour,
		windowEnd: r.now().Add(time.Hour),
	}
}

// Allow takes a token without waiting
func (r *TokenBucketRateLimiter) Allow(_ context.Context, service string) (bool, error) {
	b := r.bucket(service)
	if b == nil {
		return true, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	now := r.now()
	b.roll(now)
	if !b.tokens.AllowN(now, 1) {
		return false, nil
	}
	b.used++
	return true, nil
}

// Wait blocks until a token is available or ctx is done
func (r *TokenBucketRateLimiter) Wait(ctx context.Context, service string) error {
	b := r.bucket(service)
	if b == nil {
		return nil
	}
	if err := b.tokens.Wait(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	b.roll(r.now())
	b.used++
	b.mu.Unlock()
	return nil
}

// GetStatus reports the hourly quota of service
func (r *TokenBucketRateLimiter) GetStatus(service string) *RateLimitStatus {
	now := r.now()
	b := r.bucket(service)
	if b == nil {
		return &RateLimitStatus{Limit: -1, Remaining: -1, Reset: now.Add(time.Hour)}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll(now)

	status := &RateLimitStatus{
		Limit:     b.perHour,
		Remaining: max(0, b.perHour-b.used),
		Reset:     b.windowEnd,
	}
	if status.Remaining == 0 {
		status.RetryAfter = b.windowEnd.Sub(now)
	}
	return status
}

func (r *TokenBucketRateLimiter) bucket(service string) *quotaBucket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buckets[service]
}

// roll starts a new hourly window once the current one has passed.
// Caller holds b.mu.
func (b *quotaBucket) roll(now time.Time) {
	if now.After(b.windowEnd) {
		b.used = 0
		b.windowEnd = now.Add(time.Hour)
	}
}
