package geocode

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type cacheEntry struct {
	result   Result
	storedAt time.Time
}

// Cached wraps a Client with an in-process cache keyed by the normalized
// location text. Unmatched results are cached too.
type Cached struct {
	next Client
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCached wraps next. ttl <= 0 keeps entries forever.
func NewCached(next Client, ttl time.Duration) *Cached {
	return &Cached{next: next, ttl: ttl, now: time.Now, entries: make(map[string]cacheEntry)}
}

func cacheKey(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Geocode returns a cached result when fresh, else asks the wrapped client.
// Errors are never cached.
func (c *Cached) Geocode(ctx context.Context, text string) (*Result, error) {
	key := cacheKey(text)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && (c.ttl <= 0 || c.now().Sub(e.storedAt) < c.ttl) {
		zap.L().Debug("geocode cache hit", zap.String("location", key), zap.Bool("matched", e.result.Matched))
		r := e.result
		return &r, nil
	}

	r, err := c.next.Geocode(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{result: *r, storedAt: c.now()}
	c.mu.Unlock()
	return r, nil
}
