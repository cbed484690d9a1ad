package cache_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/downfa11-org/bigqueue/pkg/cache"
	"github.com/stretchr/testify/require"
)

type resource struct {
	name   string
	closed atomic.Int32
}

func (r *resource) Close() error {
	r.closed.Add(1)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newCache(clk *fakeClock) *cache.Cache[string, *resource] {
	return cache.New(cache.WithClock[string, *resource](clk.Now))
}

func TestPutGetRelease(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := newCache(clk)

	r := &resource{name: "a"}
	c.Put("a", r, time.Second)

	got, ok := c.Get("a")
	require.True(t, ok)
	require.Same(t, r, got)

	n, ok := c.RefCount("a")
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	c.Release("a")
	c.Release("a")
	n, _ = c.RefCount("a")
	require.Equal(t, int64(0), n)

	_, ok = c.Get("missing")
	require.False(t, ok)
	c.Release("missing")
}

func TestSweepRequiresUnpinnedAndExpired(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := newCache(clk)

	pinned := &resource{name: "pinned"}
	fresh := &resource{name: "fresh"}
	stale := &resource{name: "stale"}

	c.Put("pinned", pinned, time.Second)
	c.Put("stale", stale, time.Second)
	c.Release("stale")

	clk.Advance(2 * time.Second)
	c.Put("fresh", fresh, time.Second)
	c.Release("fresh")

	// the sweep ran on the Put of "fresh": "stale" is expired and unpinned,
	// "pinned" is expired but still pinned.
	c.Wait()
	require.Equal(t, int32(1), stale.closed.Load())
	require.Equal(t, int32(0), pinned.closed.Load())
	require.Equal(t, 2, c.Len())

	_, ok := c.Get("stale")
	require.False(t, ok)

	// "fresh" is unpinned but not expired yet.
	c.Put("other", &resource{}, time.Second)
	c.Wait()
	require.Equal(t, int32(0), fresh.closed.Load())
}

func TestGetRefreshesLastAccess(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := newCache(clk)

	r := &resource{}
	c.Put("a", r, time.Second)
	c.Release("a")

	clk.Advance(900 * time.Millisecond)
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Release("a")

	clk.Advance(900 * time.Millisecond)
	c.Put("b", &resource{}, time.Second)
	c.Wait()
	require.Equal(t, int32(0), r.closed.Load())

	clk.Advance(200 * time.Millisecond)
	c.Put("c", &resource{}, time.Second)
	c.Wait()
	require.Equal(t, int32(1), r.closed.Load())
}

func TestRemoveClosesSynchronously(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := newCache(clk)

	r := &resource{}
	c.Put("a", r, time.Hour)
	require.NoError(t, c.Remove("a"))
	require.Equal(t, int32(1), r.closed.Load())
	require.Equal(t, 0, c.Len())

	require.NoError(t, c.Remove("a"))
}

func TestRemoveAll(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := newCache(clk)

	rs := []*resource{{}, {}, {}}
	for i, r := range rs {
		c.Put(string(rune('a'+i)), r, time.Hour)
	}
	require.Len(t, c.Values(), 3)
	require.NoError(t, c.RemoveAll())
	for _, r := range rs {
		require.Equal(t, int32(1), r.closed.Load())
	}
	require.Equal(t, 0, c.Len())
}

func TestEvictHook(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	var evicted atomic.Int64
	c := cache.New(
		cache.WithClock[string, *resource](clk.Now),
		cache.WithEvictHook[string, *resource](func(n int) { evicted.Add(int64(n)) }),
	)

	for _, k := range []string{"a", "b"} {
		c.Put(k, &resource{}, time.Millisecond)
		c.Release(k)
	}
	clk.Advance(time.Second)
	c.Put("c", &resource{}, time.Millisecond)
	c.Wait()
	require.Equal(t, int64(2), evicted.Load())
}

func TestConcurrentGetRelease(t *testing.T) {
	c := cache.New[int, *resource]()
	for i := 0; i < 8; i++ {
		c.Put(i, &resource{}, time.Hour)
		c.Release(i)
	}

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				k := (g + i) % 8
				if _, ok := c.Get(k); ok {
					c.Release(k)
				}
			}
		}(g)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		n, ok := c.RefCount(i)
		require.True(t, ok)
		require.Equal(t, int64(0), n)
	}
}
