// Package cache provides the process-wide caches shared by concurrent
// calls: tenant configuration, source keyword indexes and query results.
//
// A Sharded cache spreads keys over fnv-hashed shards, each an
// independently locked TTL+LRU map, so calls for different tenants rarely
// contend. Stale reads within the TTL are acceptable.
//
//	idx := cache.New[[]string](cache.Options{Name: "keyword_index", TTL: 10 * time.Minute})
//	idx.Set(cache.Key("acme_dental", "faq"), keywords)
package cache

import (
	"hash/fnv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Options configures a Sharded cache.
type Options struct {
	// Name labels metrics; required when metrics are wanted.
	Name string
	// Shards defaults to 16.
	Shards int
	// MaxEntries bounds the whole cache; zero means unbounded.
	MaxEntries int
	// TTL is the entry lifetime; zero means entries never expire.
	TTL time.Duration
}

// Sharded is a concurrency-safe string-keyed TTL+LRU cache.
type Sharded[V any] struct {
	name    string
	shards  []*expirable.LRU[string, V]
	metrics *Metrics
}

// New builds a cache from opts. With a TTL every shard runs an expiry
// goroutine that lives as long as the process, so caches are built once at
// startup and shared, never per call or per request.
func New[V any](opts Options) *Sharded[V] {
	n := opts.Shards
	if n <= 0 {
		n = 16
	}
	perShard := 0
	if opts.MaxEntries > 0 {
		perShard = (opts.MaxEntries + n - 1) / n
	}

	c := &Sharded[V]{name: opts.Name, shards: make([]*expirable.LRU[string, V], n)}
	if opts.Name != "" {
		c.metrics = NewMetrics()
	}
	for i := range c.shards {
		c.shards[i] = expirable.NewLRU[string, V](perShard, c.onEvict, opts.TTL)
	}
	return c
}

// Key joins parts into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, "\x1f")
}

func (c *Sharded[V]) shard(key string) *expirable.LRU[string, V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

func (c *Sharded[V]) onEvict(string, V) {
	if c.metrics != nil {
		c.metrics.Evictions.WithLabelValues(c.name).Inc()
	}
}

// Get returns the live value for key.
func (c *Sharded[V]) Get(key string) (V, bool) {
	v, ok := c.shard(key).Get(key)
	if c.metrics != nil {
		if ok {
			c.metrics.Hits.WithLabelValues(c.name).Inc()
		} else {
			c.metrics.Misses.WithLabelValues(c.name).Inc()
		}
	}
	return v, ok
}

// Set stores value under key, evicting the shard's least recently used
// entry when the shard is full.
func (c *Sharded[V]) Set(key string, value V) {
	c.shard(key).Add(key, value)
}

// Delete drops key. Reports whether it was present.
func (c *Sharded[V]) Delete(key string) bool {
	return c.shard(key).Remove(key)
}

// DeletePrefix drops every key beginning with prefix and returns the count.
func (c *Sharded[V]) DeletePrefix(prefix string) int {
	removed := 0
	for _, s := range c.shards {
		for _, k := range s.Keys() {
			if strings.HasPrefix(k, prefix) && s.Remove(k) {
				removed++
			}
		}
	}
	return removed
}

// Len counts live entries across shards.
func (c *Sharded[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		n += s.Len()
	}
	return n
}

// Purge empties the cache.
func (c *Sharded[V]) Purge() {
	for _, s := range c.shards {
		s.Purge()
	}
}
