// Package timeline defines the data model shared by every layer of the grid:
// day buckets, media items, residency states and the Source contract.
package timeline

import (
	"cmp"
	"net/url"
	"slices"
	"strings"
	"time"
)

// KeyLayout is the time layout of a bucket key.
const KeyLayout = "2006-01-02"

// BucketKey identifies a calendar-day bucket, formatted YYYY-MM-DD.
// Keys order chronologically under plain string comparison.
type BucketKey string

// NormalizeKey truncates a time suffix from a date string so that
// "2024-03-01T10:00:00Z" and "2024-03-01" compare equal.
func NormalizeKey(s string) BucketKey {
	s = strings.TrimSpace(s)
	if len(s) > len(KeyLayout) {
		switch s[len(KeyLayout)] {
		case 'T', 't', ' ', '_':
			s = s[:len(KeyLayout)]
		}
	}
	return BucketKey(s)
}

// KeyOf returns the bucket key for a capture time, in the time's own location.
func KeyOf(t time.Time) BucketKey {
	return BucketKey(t.Format(KeyLayout))
}

// Time parses the key as a date at midnight UTC.
func (k BucketKey) Time() (time.Time, error) {
	return time.Parse(KeyLayout, string(NormalizeKey(string(k))))
}

// Valid reports whether the key parses as a date.
func (k BucketKey) Valid() bool {
	_, err := k.Time()
	return err == nil
}

func (k BucketKey) String() string { return string(k) }

// Bucket is one day of the timeline. Count comes from metadata and is
// authoritative for layout even before the bucket's items are fetched.
type Bucket struct {
	Key   BucketKey `json:"key"`
	Count int       `json:"count"`
}

// Item is a single media item.
type Item struct {
	ID        string    `json:"id"`
	TakenAt   time.Time `json:"taken_at"`
	Bucket    BucketKey `json:"bucket"`
	Path      string    `json:"path,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	// Color is the average colour of the image as "#rrggbb", used for
	// low-fidelity previews.
	Color string `json:"color,omitempty"`
}

// Order is the chronological direction of the grid.
type Order int

const (
	// OrderNewestFirst lists the most recent day at the top.
	OrderNewestFirst Order = iota
	// OrderOldestFirst lists the oldest day at the top.
	OrderOldestFirst
)

// ParseOrder accepts "desc"/"newest" and "asc"/"oldest"; anything else
// yields OrderNewestFirst.
func ParseOrder(s string) Order {
	switch strings.ToLower(s) {
	case "asc", "oldest", "oldest-first":
		return OrderOldestFirst
	}
	return OrderNewestFirst
}

func (o Order) String() string {
	if o == OrderOldestFirst {
		return "asc"
	}
	return "desc"
}

// CompareItems orders two items by capture time in the given order, then
// by id so the result is total.
func CompareItems(o Order) func(a, b Item) int {
	return func(a, b Item) int {
		c := a.TakenAt.Compare(b.TakenAt)
		if o == OrderNewestFirst {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	}
}

// SortItems sorts items in place by capture time in the given order.
func SortItems(items []Item, o Order) {
	slices.SortStableFunc(items, CompareItems(o))
}

// SortBuckets sorts buckets in place by key in the given order.
func SortBuckets(buckets []Bucket, o Order) {
	slices.SortStableFunc(buckets, func(a, b Bucket) int {
		c := cmp.Compare(a.Key, b.Key)
		if o == OrderNewestFirst {
			return -c
		}
		return c
	})
}

// Filter narrows the library on the source side. The zero value selects
// everything.
type Filter struct {
	Album     string `json:"album,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// Values encodes the filter as query parameters.
func (f Filter) Values() url.Values {
	v := url.Values{}
	if f.Album != "" {
		v.Set("album", f.Album)
	}
	if f.MediaType != "" {
		v.Set("media_type", f.MediaType)
	}
	return v
}

// FilterFromValues is the inverse of Values.
func FilterFromValues(v url.Values) Filter {
	return Filter{Album: v.Get("album"), MediaType: v.Get("media_type")}
}

// Key returns a stable string usable as a cache or dedup key.
func (f Filter) Key() string {
	return f.Values().Encode()
}

// Match reports whether an item's attributes pass the filter. Album
// membership is not part of Item, so only MediaType is checked here.
func (f Filter) Match(it Item) bool {
	return f.MediaType == "" || strings.EqualFold(f.MediaType, it.MediaType)
}

// Rect is an on-screen rectangle in viewport pixels.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Contains reports whether the point lies inside r.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}
