// Package cache holds open, closeable resources keyed by K.
//
// An entry is pinned while its reference count is positive. Entries whose
// count has dropped to zero and that have not been touched for longer than
// their ttl are swept on the next Put; swept resources are closed on a
// separate goroutine so that Put and Get never wait on a slow Close.
package cache

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/bigqueue/util"
)

type entry[V io.Closer] struct {
	value      V
	ttl        time.Duration
	lastAccess atomic.Int64 // unix nanos
	refCount   atomic.Int64
}

// Cache is safe for concurrent use.
type Cache[K comparable, V io.Closer] struct {
	mu      sync.RWMutex
	entries map[K]*entry[V]

	now     func() time.Time
	onEvict func(n int)

	closers sync.WaitGroup
}

type Option[K comparable, V io.Closer] func(*Cache[K, V])

// WithClock replaces time.Now for ttl bookkeeping.
func WithClock[K comparable, V io.Closer](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.now = now
	}
}

// WithEvictHook is called with the number of entries each sweep removed.
func WithEvictHook[K comparable, V io.Closer](fn func(n int)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onEvict = fn
	}
}

func New[K comparable, V io.Closer](opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		entries: make(map[K]*entry[V]),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put sweeps expired entries and then stores value under key with a
// reference count of one, pinning it for the caller.
func (c *Cache[K, V]) Put(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	toClose := c.markAndSweep()
	e := &entry[V]{value: value, ttl: ttl}
	e.lastAccess.Store(c.now().UnixNano())
	e.refCount.Store(1)
	c.entries[key] = e
	c.mu.Unlock()

	if len(toClose) == 0 {
		return
	}
	if c.onEvict != nil {
		c.onEvict(len(toClose))
	}
	util.Debug("cache: mark&sweep found %d resource(s) to close", len(toClose))

	c.closers.Add(1)
	go func() {
		defer c.closers.Done()
		for _, v := range toClose {
			if err := v.Close(); err != nil {
				util.Debug("cache: async close failed: %v", err)
			}
		}
	}()
}

// markAndSweep must be called with the write lock held.
func (c *Cache[K, V]) markAndSweep() []V {
	var toClose []V
	now := c.now().UnixNano()
	for k, e := range c.entries {
		if e.refCount.Load() > 0 {
			continue
		}
		if time.Duration(now-e.lastAccess.Load()) > e.ttl {
			toClose = append(toClose, e.value)
			delete(c.entries, k)
		}
	}
	return toClose
}

// Get pins and returns the value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	e.lastAccess.Store(c.now().UnixNano())
	e.refCount.Add(1)
	return e.value, true
}

// Release unpins key. It never evicts.
func (c *Cache[K, V]) Release(key K) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.entries[key]; ok {
		e.refCount.Add(-1)
	}
}

// Remove evicts key regardless of its reference count and closes the value
// before returning.
func (c *Cache[K, V]) Remove(key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	delete(c.entries, key)
	return e.value.Close()
}

// RemoveAll evicts and closes every entry.
func (c *Cache[K, V]) RemoveAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for k, e := range c.entries {
		if err := e.value.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.entries, k)
	}
	return errors.Join(errs...)
}

// Values returns a snapshot of the cached values without pinning them.
func (c *Cache[K, V]) Values() []V {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]V, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.value)
	}
	return out
}

func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RefCount reports the current pin count of key, or false if it is absent.
func (c *Cache[K, V]) RefCount(key K) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return e.refCount.Load(), true
}

// Wait blocks until every asynchronous close started so far has finished.
func (c *Cache[K, V]) Wait() {
	c.closers.Wait()
}
