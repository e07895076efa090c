// Package source provides timeline.Source implementations that are not
// backed by the local library: an in-memory set for demos and tests and an
// HTTP client for a remote timegrid server.
package source

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/wethinkt/go-timegrid/internal/timeline"
)

// Memory is an in-memory source.
type Memory struct {
	// Latency delays every bucket fetch, to make placeholders observable.
	Latency time.Duration

	mu     sync.RWMutex
	items  map[string]timeline.Item
	albums map[string]map[string]bool
}

// NewMemory returns a source holding items.
func NewMemory(items ...timeline.Item) *Memory {
	m := &Memory{
		items:  make(map[string]timeline.Item),
		albums: make(map[string]map[string]bool),
	}
	m.Add(items...)
	return m
}

// Add inserts or replaces items. Each item's Bucket is derived from its
// timestamp.
func (m *Memory) Add(items ...timeline.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		it.Bucket = timeline.KeyOf(it.TakenAt)
		m.items[it.ID] = it
	}
}

// Remove deletes items by id.
func (m *Memory) Remove(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.items, id)
		for _, members := range m.albums {
			delete(members, id)
		}
	}
}

// AddToAlbum adds items to a named album.
func (m *Memory) AddToAlbum(album string, ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.albums[album]
	if members == nil {
		members = make(map[string]bool)
		m.albums[album] = members
	}
	for _, id := range ids {
		members[id] = true
	}
}

// Len returns the number of items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *Memory) matchLocked(it timeline.Item, f timeline.Filter) bool {
	if f.Album != "" && !m.albums[f.Album][it.ID] {
		return false
	}
	return f.Match(it)
}

// ListBuckets returns the non-empty days, newest first.
func (m *Memory) ListBuckets(ctx context.Context, f timeline.Filter) ([]timeline.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", timeline.ErrFetchCancelled, err)
	}
	m.mu.RLock()
	counts := make(map[timeline.BucketKey]int)
	for _, it := range m.items {
		if m.matchLocked(it, f) {
			counts[it.Bucket]++
		}
	}
	m.mu.RUnlock()

	buckets := make([]timeline.Bucket, 0, len(counts))
	for k, n := range counts {
		buckets = append(buckets, timeline.Bucket{Key: k, Count: n})
	}
	timeline.SortBuckets(buckets, timeline.OrderNewestFirst)
	return buckets, nil
}

// FetchBucketItems returns the items of one day, newest first.
func (m *Memory) FetchBucketItems(ctx context.Context, key timeline.BucketKey, f timeline.Filter) ([]timeline.Item, error) {
	if m.Latency > 0 {
		t := time.NewTimer(m.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("bucket %s: %w", key, timeline.ErrFetchCancelled)
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("bucket %s: %w", key, timeline.ErrFetchCancelled)
	}

	key = timeline.NormalizeKey(string(key))
	m.mu.RLock()
	items := []timeline.Item{}
	for _, it := range m.items {
		if it.Bucket == key && m.matchLocked(it, f) {
			items = append(items, it)
		}
	}
	m.mu.RUnlock()
	timeline.SortItems(items, timeline.OrderNewestFirst)
	return items, nil
}

// Generate fills a memory source with a synthetic library: days consecutive
// days ending at end, each holding between 0 and maxPerDay items. The same
// seed always produces the same library.
func Generate(seed uint64, days, maxPerDay int, end time.Time) *Memory {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	kinds := []string{"image", "image", "image", "video"}

	m := NewMemory()
	var items []timeline.Item
	for d := 0; d < days; d++ {
		day := end.AddDate(0, 0, -d)
		n := 0
		if maxPerDay > 0 {
			n = r.IntN(maxPerDay + 1)
		}
		for i := 0; i < n; i++ {
			at := day.Add(time.Duration(r.IntN(86400)) * time.Second)
			items = append(items, timeline.Item{
				ID:        fmt.Sprintf("mem-%s-%03d", timeline.KeyOf(day), i),
				TakenAt:   at,
				MediaType: kinds[r.IntN(len(kinds))],
				Width:     4000,
				Height:    3000,
			})
		}
	}
	m.Add(items...)
	return m
}
