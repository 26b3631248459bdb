package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultMemorySize is the entry bound used when NewMemoryCache gets size <= 0.
const DefaultMemorySize = 10000

type memoryEntry[V any] struct {
	value   V
	expires time.Time
}

// MemoryCache is a bounded in-process Cache. The least recently used entry is
// evicted when the cache is full; expired entries are dropped when read.
type MemoryCache[V any] struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, memoryEntry[V]]
	clock Clock
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	clock Clock
}

// WithClock sets the time source used for expiry.
func WithClock(c Clock) MemoryOption {
	return func(o *memoryOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// NewMemoryCache creates a cache holding at most size entries.
func NewMemoryCache[V any](size int, opts ...MemoryOption) (*MemoryCache[V], error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	o := memoryOptions{clock: realClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	l, err := simplelru.NewLRU[string, memoryEntry[V]](size, nil)
	if err != nil {
		return nil, fmt.Errorf("create session lru: %w", err)
	}
	return &MemoryCache[V]{lru: l, clock: o.clock}, nil
}

// Get implements Cache.
func (c *MemoryCache[V]) Get(_ context.Context, token string) (V, bool, error) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(token)
	if !ok {
		return zero, false, nil
	}
	if !c.clock.Now().Before(e.expires) {
		c.lru.Remove(token)
		return zero, false, nil
	}
	return e.value, true, nil
}

// Set implements Cache.
func (c *MemoryCache[V]) Set(_ context.Context, token string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(token, memoryEntry[V]{value: value, expires: c.clock.Now().Add(ttl)})
	return nil
}

// Invalidate implements Cache.
func (c *MemoryCache[V]) Invalidate(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(token)
	return nil
}

// Len returns the number of entries, including expired ones not yet read.
func (c *MemoryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
