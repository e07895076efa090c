package layout

import (
	"sort"

	"github.com/wethinkt/go-timegrid/internal/timeline"
)

// Kind is the kind of a layout item.
type Kind int

const (
	KindHeader Kind = iota
	KindRow
	KindPlaceholderHeader
	KindPlaceholderRow
	// KindCollapsed spans an entire bucket far from the viewport.
	KindCollapsed
	// KindFiller pads a resident bucket whose items do not fill the rows
	// its metadata count reserves.
	KindFiller
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindRow:
		return "row"
	case KindPlaceholderHeader:
		return "placeholder-header"
	case KindPlaceholderRow:
		return "placeholder-row"
	case KindCollapsed:
		return "collapsed"
	case KindFiller:
		return "filler"
	}
	return "unknown"
}

// IsHeader reports whether the kind renders a date header.
func (k Kind) IsHeader() bool {
	return k == KindHeader || k == KindPlaceholderHeader
}

// Item is one entry of a render plan. Items are values regenerated on every
// plan and never mutated in place.
type Item struct {
	Kind   Kind
	Bucket int
	Key    timeline.BucketKey
	// Row is the row index within the bucket for row kinds, -1 otherwise.
	Row    int
	Top    int
	Height int
	// Items holds the resident items of a KindRow.
	Items []timeline.Item
	// Slots is the number of cells a row reserves.
	Slots int
}

// Bottom returns the first offset past the item.
func (it Item) Bottom() int { return it.Top + it.Height }

// Residency is a read-only snapshot of bucket residency, indexed like the
// skeleton.
type Residency interface {
	State(bucket int) timeline.ResidencyState
	// Items returns the ordered items of a resident bucket.
	Items(bucket int) []timeline.Item
}

// Viewport is the scroll position and visible height.
type Viewport struct {
	ScrollTop int
	Height    int
}

// Options tunes the window.
type Options struct {
	// BufferRows extends the rendered window above and below the viewport.
	BufferRows int
	// LayoutBufferRows is the coarser margin within which absent buckets
	// get per-row placeholders instead of a single collapsed block.
	LayoutBufferRows int
}

// RenderPlan is the output of Plan.
type RenderPlan struct {
	// Items is the contiguous run of layout items overlapping the window.
	Items        []Item
	TopSpacer    int
	BottomSpacer int
	Total        int
	// Sticky is the header of the bucket at the scroll offset, or nil when
	// headers are hidden or there are no buckets.
	Sticky *Item
	// FirstVisible is the bucket at the scroll offset, -1 if none.
	FirstVisible int
	// VisibleFrom and VisibleTo bound the buckets intersecting the
	// viewport itself (buffer excluded), -1 if none.
	VisibleFrom int
	VisibleTo   int
	// Needed lists absent buckets with placeholders in Items.
	Needed []int
}

// RenderedHeight sums the heights of Items.
func (p RenderPlan) RenderedHeight() int {
	h := 0
	for _, it := range p.Items {
		h += it.Height
	}
	return h
}

// BucketRange returns the first and last bucket drawn by the plan, buffer
// included, or -1, -1 when it draws nothing.
func (p RenderPlan) BucketRange() (from, to int) {
	if len(p.Items) == 0 {
		return -1, -1
	}
	return p.Items[0].Bucket, p.Items[len(p.Items)-1].Bucket
}

// Rows returns the resident rows of the plan.
func (p RenderPlan) Rows() []Item {
	var rows []Item
	for _, it := range p.Items {
		if it.Kind == KindRow {
			rows = append(rows, it)
		}
	}
	return rows
}

// Plan computes the render plan for a viewport over sk. It is pure and
// total: any skeleton and residency snapshot produce a renderable plan,
// with placeholders wherever items are missing.
func Plan(sk *Skeleton, vp Viewport, res Residency, opts Options) RenderPlan {
	plan := RenderPlan{FirstVisible: -1, VisibleFrom: -1, VisibleTo: -1}
	n := sk.Len()
	if n == 0 {
		return plan
	}
	g := sk.Geometry()
	total := sk.Total()
	plan.Total = total

	scroll := max(vp.ScrollTop, 0)
	height := max(vp.Height, 0)
	buffer := max(opts.BufferRows, 0) * g.RowHeight
	layoutBuffer := max(opts.LayoutBufferRows, 0) * g.RowHeight

	visTop := max(0, scroll-buffer)
	visBottom := scroll + height + buffer
	nearTop := visTop - layoutBuffer
	nearBottom := visBottom + layoutBuffer

	all := buildItems(sk, res, nearTop, nearBottom)

	lo := sort.Search(len(all), func(i int) bool { return all[i].Bottom() > visTop })
	hi := sort.Search(len(all), func(i int) bool { return all[i].Top >= visBottom })
	if lo < hi {
		plan.Items = all[lo:hi]
		plan.TopSpacer = all[lo].Top
		plan.BottomSpacer = total - all[hi-1].Bottom()
	} else {
		plan.TopSpacer = total
		if lo < len(all) {
			plan.TopSpacer = all[lo].Top
		}
		plan.BottomSpacer = total - plan.TopSpacer
	}

	seen := make(map[int]bool)
	for _, it := range plan.Items {
		if it.Kind != KindPlaceholderHeader && it.Kind != KindPlaceholderRow {
			continue
		}
		if seen[it.Bucket] {
			continue
		}
		seen[it.Bucket] = true
		if res == nil || res.State(it.Bucket) == timeline.StateAbsent {
			plan.Needed = append(plan.Needed, it.Bucket)
		}
	}

	first := sk.BucketAt(scroll)
	plan.FirstVisible = first
	plan.VisibleFrom = first
	plan.VisibleTo = sk.BucketAt(max(scroll, scroll+height-1))

	if g.HeaderHeight > 0 {
		ext := sk.extents[first]
		kind := KindPlaceholderHeader
		if res != nil && res.State(first) == timeline.StateResident {
			kind = KindHeader
		}
		plan.Sticky = &Item{Kind: kind, Bucket: first, Key: sk.buckets[first].Key, Row: -1, Top: ext.Top, Height: g.HeaderHeight}
	}
	return plan
}

// buildItems lays out every bucket of sk. Buckets overlapping
// [nearTop, nearBottom) that are not resident expand into placeholder rows;
// the others collapse into one block.
func buildItems(sk *Skeleton, res Residency, nearTop, nearBottom int) []Item {
	n := sk.Len()
	g := sk.Geometry()
	all := make([]Item, 0, n+16)
	for i := range n {
		ext := sk.extents[i]
		if ext.Height == 0 {
			continue
		}
		state := timeline.StateAbsent
		if res != nil {
			state = res.State(i)
		}
		b := sk.buckets[i]
		switch {
		case state == timeline.StateResident:
			var items []timeline.Item
			if res != nil {
				items = res.Items(i)
			}
			all = appendResident(all, g, i, b, ext, items)
		case ext.Overlaps(nearTop, nearBottom):
			all = appendPlaceholder(all, g, i, b, ext)
		default:
			all = append(all, Item{Kind: KindCollapsed, Bucket: i, Key: b.Key, Row: -1, Top: ext.Top, Height: ext.Height})
		}
	}
	return all
}

func appendResident(all []Item, g Geometry, i int, b timeline.Bucket, ext Extent, items []timeline.Item) []Item {
	top := ext.Top
	if g.HeaderHeight > 0 {
		all = append(all, Item{Kind: KindHeader, Bucket: i, Key: b.Key, Row: -1, Top: top, Height: g.HeaderHeight})
		top += g.HeaderHeight
	}
	rows := min(g.RowsFor(len(items)), g.RowsFor(b.Count))
	for r := range rows {
		from := r * g.Columns
		to := min(from+g.Columns, len(items))
		all = append(all, Item{
			Kind:   KindRow,
			Bucket: i,
			Key:    b.Key,
			Row:    r,
			Top:    top,
			Height: g.RowHeight,
			Items:  items[from:to:to],
			Slots:  to - from,
		})
		top += g.RowHeight
	}
	if rest := ext.Bottom() - top; rest > 0 {
		all = append(all, Item{Kind: KindFiller, Bucket: i, Key: b.Key, Row: -1, Top: top, Height: rest})
	}
	return all
}

func appendPlaceholder(all []Item, g Geometry, i int, b timeline.Bucket, ext Extent) []Item {
	top := ext.Top
	if g.HeaderHeight > 0 {
		all = append(all, Item{Kind: KindPlaceholderHeader, Bucket: i, Key: b.Key, Row: -1, Top: top, Height: g.HeaderHeight})
		top += g.HeaderHeight
	}
	rows := g.RowsFor(b.Count)
	for r := range rows {
		all = append(all, Item{
			Kind:   KindPlaceholderRow,
			Bucket: i,
			Key:    b.Key,
			Row:    r,
			Top:    top,
			Height: g.RowHeight,
			Slots:  min(g.Columns, b.Count-r*g.Columns),
		})
		top += g.RowHeight
	}
	return all
}
