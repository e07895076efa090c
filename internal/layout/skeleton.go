// Package layout computes grid geometry for the timeline: the skeleton of
// every day bucket, derived from metadata alone, and the render plan for a
// viewport over that skeleton.
//
// All offsets are integer pixels so that recomputing a skeleton from the
// same inputs is bit-identical and spacer arithmetic is exact.
package layout

import (
	"sort"

	"github.com/wethinkt/go-timegrid/internal/timeline"
)

// Config holds the width-independent layout parameters.
type Config struct {
	ColumnTargetPx int
	MinColumns     int
	HeaderHeight   int
	RowGapPx       int
	ShowHeaders    bool
}

// Geometry is the grid geometry derived from a viewport width.
type Geometry struct {
	Width        int
	Columns      int
	RowHeight    int
	HeaderHeight int
	Gap          int
}

// NewGeometry derives column count and row height from the available width.
func NewGeometry(width int, cfg Config) Geometry {
	width = max(width, 0)
	target := max(cfg.ColumnTargetPx, 1)
	cols := max(max(cfg.MinColumns, 1), width/target)
	rowHeight := max(width/cols-cfg.RowGapPx, 1)

	header := 0
	if cfg.ShowHeaders {
		header = max(cfg.HeaderHeight, 0)
	}
	return Geometry{
		Width:        width,
		Columns:      cols,
		RowHeight:    rowHeight,
		HeaderHeight: header,
		Gap:          max(cfg.RowGapPx, 0),
	}
}

// RowsFor returns the number of rows count items occupy.
func (g Geometry) RowsFor(count int) int {
	if count <= 0 || g.Columns <= 0 {
		return 0
	}
	return (count + g.Columns - 1) / g.Columns
}

// BucketHeight returns the reserved height of a bucket holding count items.
func (g Geometry) BucketHeight(count int) int {
	return g.HeaderHeight + g.RowsFor(count)*g.RowHeight
}

// CellWidth is the horizontal stride of one column.
func (g Geometry) CellWidth() int {
	if g.Columns <= 0 {
		return 0
	}
	return g.Width / g.Columns
}

// Extent is the vertical span of a bucket.
type Extent struct {
	Top    int
	Height int
}

// Bottom returns the first offset past the extent.
func (e Extent) Bottom() int { return e.Top + e.Height }

// Overlaps reports whether the extent intersects [top, bottom).
func (e Extent) Overlaps(top, bottom int) bool {
	return e.Top < bottom && e.Bottom() > top
}

// Skeleton is the absolute geometry of every bucket. It is immutable once
// computed; a geometry or metadata change produces a new skeleton.
type Skeleton struct {
	geom    Geometry
	buckets []timeline.Bucket
	extents []Extent
	index   map[timeline.BucketKey]int
	total   int
}

// ComputeSkeleton lays out buckets top to bottom in O(n).
func ComputeSkeleton(buckets []timeline.Bucket, g Geometry) *Skeleton {
	s := &Skeleton{
		geom:    g,
		buckets: make([]timeline.Bucket, len(buckets)),
		extents: make([]Extent, len(buckets)),
		index:   make(map[timeline.BucketKey]int, len(buckets)),
	}
	top := 0
	for i, b := range buckets {
		b.Key = timeline.NormalizeKey(string(b.Key))
		b.Count = max(b.Count, 0)
		s.buckets[i] = b
		if _, dup := s.index[b.Key]; !dup {
			s.index[b.Key] = i
		}
		h := g.BucketHeight(b.Count)
		s.extents[i] = Extent{Top: top, Height: h}
		top += h
	}
	s.total = top
	return s
}

// Len returns the number of buckets. A nil skeleton is empty.
func (s *Skeleton) Len() int {
	if s == nil {
		return 0
	}
	return len(s.buckets)
}

// Geometry returns the geometry the skeleton was computed with.
func (s *Skeleton) Geometry() Geometry {
	if s == nil {
		return Geometry{}
	}
	return s.geom
}

// Total returns the full scrollable height.
func (s *Skeleton) Total() int {
	if s == nil {
		return 0
	}
	return s.total
}

// Bucket returns bucket metadata by index.
func (s *Skeleton) Bucket(i int) (timeline.Bucket, bool) {
	if i < 0 || i >= s.Len() {
		return timeline.Bucket{}, false
	}
	return s.buckets[i], true
}

// Buckets returns the bucket list. Callers must not modify it.
func (s *Skeleton) Buckets() []timeline.Bucket {
	if s == nil {
		return nil
	}
	return s.buckets
}

// Extent returns the span of bucket i.
func (s *Skeleton) Extent(i int) (Extent, bool) {
	if i < 0 || i >= s.Len() {
		return Extent{}, false
	}
	return s.extents[i], true
}

// IndexOf returns the index of the bucket with the given key.
func (s *Skeleton) IndexOf(key timeline.BucketKey) (int, bool) {
	if s == nil {
		return -1, false
	}
	i, ok := s.index[timeline.NormalizeKey(string(key))]
	if !ok {
		return -1, false
	}
	return i, true
}

// BucketAt returns the index of the bucket containing offset. Offsets
// before the first bucket map to 0 and past the end to the last bucket.
// It returns -1 for an empty skeleton.
func (s *Skeleton) BucketAt(offset int) int {
	n := s.Len()
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool { return s.extents[i].Bottom() > offset })
	if i >= n {
		return n - 1
	}
	return i
}

// ItemOffset returns the top of the row holding the index-th item of
// bucket i. Out-of-range item indexes clamp to the bucket's last row.
func (s *Skeleton) ItemOffset(bucket, index int) (int, bool) {
	ext, ok := s.Extent(bucket)
	if !ok {
		return 0, false
	}
	g := s.geom
	rows := g.RowsFor(s.buckets[bucket].Count)
	row := 0
	if index > 0 && g.Columns > 0 {
		row = index / g.Columns
	}
	if rows == 0 {
		row = 0
	} else if row >= rows {
		row = rows - 1
	}
	return ext.Top + g.HeaderHeight + row*g.RowHeight, true
}
