package agent

import (
	"strings"
	"sync"
	"time"

	"github.com/quantumflow/supportflow/internal/models"
)

// cachedClassification holds a cached classifier result
type cachedClassification struct {
	classification models.Classification
	cachedAt       time.Time
}

// ClassificationCache provides TTL-based caching for classifier results
type ClassificationCache struct {
	cache map[string]*cachedClassification
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

// NewClassificationCache creates a new cache with specified TTL
func NewClassificationCache(ttl time.Duration) *ClassificationCache {
	c := &ClassificationCache{
		cache: make(map[string]*cachedClassification),
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanup()
	}
	return c
}

// Get returns a copy of a cached classification if still fresh
func (c *ClassificationCache) Get(content string) (*models.Classification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if entry, ok := c.cache[normalizeContent(content)]; ok {
		if c.now().Sub(entry.cachedAt) < c.ttl {
			out := entry.classification
			out.KeyTopics = append([]string(nil), entry.classification.KeyTopics...)
			return &out, true
		}
	}
	return nil, false
}

// Set stores a classification
func (c *ClassificationCache) Set(content string, cls *models.Classification) {
	if cls == nil {
		return
	}
	stored := *cls
	stored.KeyTopics = append([]string(nil), cls.KeyTopics...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[normalizeContent(content)] = &cachedClassification{
		classification: stored,
		cachedAt:       c.now(),
	}
}

// Len returns the number of cached entries, fresh or not
func (c *ClassificationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Close stops the background cleanup
func (c *ClassificationCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// cleanup removes expired entries periodically
func (c *ClassificationCache) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *ClassificationCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.cache {
		if now.Sub(entry.cachedAt) >= c.ttl {
			delete(c.cache, key)
		}
	}
}

// normalizeContent creates a cache key from message content
func normalizeContent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
