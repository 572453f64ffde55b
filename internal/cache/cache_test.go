package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharded_SetGet(t *testing.T) {
	c := New[[]string](Options{TTL: time.Minute})

	c.Set(Key("acme", "faq"), []string{"hours", "parking"})

	got, ok := c.Get(Key("acme", "faq"))
	require.True(t, ok)
	assert.Equal(t, []string{"hours", "parking"}, got)

	_, ok = c.Get(Key("acme", "pricing"))
	assert.False(t, ok)
}

func TestSharded_Expiry(t *testing.T) {
	c := New[int](Options{TTL: 50 * time.Millisecond, Shards: 2})
	c.Set("k", 1)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestSharded_LRUBound(t *testing.T) {
	c := New[int](Options{Shards: 1, MaxEntries: 2})
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a") // a is now most recent
	c.Set("c", 3)

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	_, okC := c.Get("c")
	assert.True(t, okA)
	assert.False(t, okB, "least recently used entry should be evicted")
	assert.True(t, okC)
	assert.Equal(t, 2, c.Len())
}

func TestSharded_DeletePrefix(t *testing.T) {
	c := New[string](Options{Shards: 4})
	c.Set(Key("acme", "faq", "hours"), "9-5")
	c.Set(Key("acme", "faq", "parking"), "lot B")
	c.Set(Key("acme", "pricing", "cleaning"), "$80")
	c.Set(Key("other", "faq", "hours"), "8-4")

	removed := c.DeletePrefix(Key("acme", "faq") + "\x1f")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, c.Len())

	_, ok := c.Get(Key("other", "faq", "hours"))
	assert.True(t, ok)
}

func TestSharded_DeleteAndPurge(t *testing.T) {
	c := New[int](Options{})
	c.Set("a", 1)
	c.Set("b", 2)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestSharded_Metrics(t *testing.T) {
	c := New[int](Options{Name: "test_metrics"})
	m := NewMetrics()
	hits := testutil.ToFloat64(m.Hits.WithLabelValues("test_metrics"))
	misses := testutil.ToFloat64(m.Misses.WithLabelValues("test_metrics"))

	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")

	assert.Equal(t, hits+1, testutil.ToFloat64(m.Hits.WithLabelValues("test_metrics")))
	assert.Equal(t, misses+1, testutil.ToFloat64(m.Misses.WithLabelValues("test_metrics")))
}

func TestSharded_ConcurrentAccess(t *testing.T) {
	c := New[int](Options{Shards: 8, MaxEntries: 1000, TTL: time.Minute})

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("tenant-%d/%d", w%4, i%50)
				c.Set(key, i)
				c.Get(key)
				if i%25 == 0 {
					c.DeletePrefix(fmt.Sprintf("tenant-%d/", w%4))
				}
			}
		}(w)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 1000)
}
