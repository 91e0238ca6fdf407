package inference

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// healthCache memoizes a probe for ttl and collapses concurrent probes into one.
type healthCache struct {
	ttl   time.Duration
	probe func(context.Context) error

	group singleflight.Group
	err   atomic.Value // *error
	at    atomic.Int64 // unix nanos of last probe
}

func newHealthCache(ttl time.Duration, probe func(context.Context) error) *healthCache {
	return &healthCache{ttl: ttl, probe: probe}
}

func (h *healthCache) check(ctx context.Context) error {
	if last := h.at.Load(); last != 0 && time.Since(time.Unix(0, last)) < h.ttl {
		return h.load()
	}

	// The first caller's context would be shared by every waiter, so the
	// probe gets its own deadline.
	ch := h.group.DoChan("health", func() (any, error) {
		probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := h.probe(probeCtx)
		h.err.Store(&err)
		h.at.Store(time.Now().UnixNano())
		return nil, err
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *healthCache) load() error {
	v := h.err.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}
