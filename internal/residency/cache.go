package residency

import (
	"slices"

	"github.com/wethinkt/go-timegrid/internal/timeline"
)

// Cache is the resident item set: every item of every resident bucket,
// keyed by id. It is not safe for concurrent use; the Manager owns it and
// mutates it under its lock. Per-bucket slices handed out by BucketItems are
// never modified afterwards, so readers may keep them across mutations.
type Cache struct {
	order   timeline.Order
	items   map[string]timeline.Item
	owner   map[string]int
	buckets map[int][]timeline.Item
	merged  []timeline.Item
	dirty   bool
}

// NewCache returns an empty cache sorting items in the given order.
func NewCache(order timeline.Order) *Cache {
	return &Cache{
		order:   order,
		items:   make(map[string]timeline.Item),
		owner:   make(map[string]int),
		buckets: make(map[int][]timeline.Item),
	}
}

// Apply replaces the content of bucket with items. Duplicate ids keep the
// last occurrence; an id already owned by another bucket moves to this one.
func (c *Cache) Apply(bucket int, items []timeline.Item) {
	c.Evict(bucket)

	pos := make(map[string]int, len(items))
	next := make([]timeline.Item, 0, len(items))
	for _, it := range items {
		if j, ok := pos[it.ID]; ok {
			next[j] = it
			continue
		}
		pos[it.ID] = len(next)
		next = append(next, it)
	}
	timeline.SortItems(next, c.order)

	for _, it := range next {
		if prev, ok := c.owner[it.ID]; ok && prev != bucket {
			c.buckets[prev] = slices.DeleteFunc(slices.Clone(c.buckets[prev]), func(o timeline.Item) bool {
				return o.ID == it.ID
			})
		}
		c.items[it.ID] = it
		c.owner[it.ID] = bucket
	}
	c.buckets[bucket] = next
	c.dirty = true
}

// Evict removes every item owned by bucket and returns how many were
// dropped.
func (c *Cache) Evict(bucket int) int {
	items, ok := c.buckets[bucket]
	if !ok {
		return 0
	}
	for _, it := range items {
		if c.owner[it.ID] == bucket {
			delete(c.items, it.ID)
			delete(c.owner, it.ID)
		}
	}
	delete(c.buckets, bucket)
	c.dirty = true
	return len(items)
}

// Reset drops everything.
func (c *Cache) Reset() {
	clear(c.items)
	clear(c.owner)
	clear(c.buckets)
	c.merged = nil
	c.dirty = false
}

// Get returns a resident item by id.
func (c *Cache) Get(id string) (timeline.Item, bool) {
	it, ok := c.items[id]
	return it, ok
}

// Owner returns the bucket index an item belongs to.
func (c *Cache) Owner(id string) (int, bool) {
	b, ok := c.owner[id]
	return b, ok
}

// BucketItems returns the sorted items of a bucket.
func (c *Cache) BucketItems(bucket int) []timeline.Item {
	return c.buckets[bucket]
}

// Buckets returns the indexes of buckets with items applied, ascending.
func (c *Cache) Buckets() []int {
	out := make([]int, 0, len(c.buckets))
	for b := range c.buckets {
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of resident items.
func (c *Cache) Len() int { return len(c.items) }

// All returns every resident item sorted in the cache order. The slice is
// rebuilt lazily after mutations and must not be modified.
func (c *Cache) All() []timeline.Item {
	if c.dirty || c.merged == nil {
		merged := make([]timeline.Item, 0, len(c.items))
		for _, it := range c.items {
			merged = append(merged, it)
		}
		timeline.SortItems(merged, c.order)
		c.merged = merged
		c.dirty = false
	}
	return c.merged
}
