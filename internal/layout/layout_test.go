package layout

import (
	"fmt"
	"testing"
	"time"

	"github.com/wethinkt/go-timegrid/internal/timeline"
)

var testConfig = Config{
	ColumnTargetPx: 200,
	MinColumns:     2,
	HeaderHeight:   48,
	RowGapPx:       4,
	ShowHeaders:    true,
}

// fakeResidency marks selected buckets resident with generated items.
type fakeResidency struct {
	states map[int]timeline.ResidencyState
	items  map[int][]timeline.Item
}

func newFakeResidency() *fakeResidency {
	return &fakeResidency{states: map[int]timeline.ResidencyState{}, items: map[int][]timeline.Item{}}
}

func (f *fakeResidency) State(i int) timeline.ResidencyState { return f.states[i] }
func (f *fakeResidency) Items(i int) []timeline.Item       { return f.items[i] }

func (f *fakeResidency) resident(i int, key timeline.BucketKey, n int) {
	f.states[i] = timeline.StateResident
	items := make([]timeline.Item, n)
	for j := range items {
		items[j] = timeline.Item{ID: fmt.Sprintf("%s-%d", key, j), Bucket: key}
	}
	f.items[i] = items
}

func makeBuckets(counts ...int) []timeline.Bucket {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]timeline.Bucket, len(counts))
	for i, c := range counts {
		out[i] = timeline.Bucket{Key: timeline.KeyOf(day.AddDate(0, 0, -i)), Count: c}
	}
	return out
}

func TestNewGeometry(t *testing.T) {
	tests := []struct {
		name      string
		width     int
		cfg       Config
		cols, row int
		header    int
	}{
		{"wide", 1000, testConfig, 5, 196, 48},
		{"narrow clamps to min columns", 300, testConfig, 2, 146, 48},
		{"zero width", 0, testConfig, 2, 1, 48},
		{"headers hidden", 800, Config{ColumnTargetPx: 200, MinColumns: 1}, 4, 200, 0},
		{"zero target", 100, Config{MinColumns: 1}, 100, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGeometry(tt.width, tt.cfg)
			if g.Columns != tt.cols || g.RowHeight != tt.row || g.HeaderHeight != tt.header {
				t.Errorf("NewGeometry(%d) = cols %d row %d header %d, want %d %d %d",
					tt.width, g.Columns, g.RowHeight, g.HeaderHeight, tt.cols, tt.row, tt.header)
			}
		})
	}
}

func TestComputeSkeleton(t *testing.T) {
	g := Geometry{Width: 400, Columns: 4, RowHeight: 100, HeaderHeight: 20}
	sk := ComputeSkeleton(makeBuckets(5, 1, 0, 8), g)

	want := []Extent{
		{Top: 0, Height: 220},
		{Top: 220, Height: 120},
		{Top: 340, Height: 20},
		{Top: 360, Height: 220},
	}
	for i, w := range want {
		got, ok := sk.Extent(i)
		if !ok || got != w {
			t.Errorf("Extent(%d) = %+v, want %+v", i, got, w)
		}
	}
	if sk.Total() != 580 {
		t.Errorf("Total() = %d, want 580", sk.Total())
	}
	if _, ok := sk.Extent(4); ok {
		t.Error("Extent(4) should be out of range")
	}
}

func TestSkeletonDeterminism(t *testing.T) {
	counts := make([]int, 1000)
	for i := range counts {
		counts[i] = (i*7919)%37 + 1
	}
	buckets := makeBuckets(counts...)
	g := NewGeometry(1337, testConfig)

	a := ComputeSkeleton(buckets, g)
	b := ComputeSkeleton(buckets, g)
	if a.Total() != b.Total() {
		t.Fatalf("totals differ: %d vs %d", a.Total(), b.Total())
	}
	for i := range buckets {
		ea, _ := a.Extent(i)
		eb, _ := b.Extent(i)
		if ea != eb {
			t.Fatalf("bucket %d: %+v vs %+v", i, ea, eb)
		}
	}
}

func TestSkeletonLookups(t *testing.T) {
	g := Geometry{Width: 400, Columns: 4, RowHeight: 100, HeaderHeight: 20}
	buckets := makeBuckets(5, 1, 8)
	buckets[1].Key = timeline.BucketKey(string(buckets[1].Key) + "T12:00:00Z")
	sk := ComputeSkeleton(buckets, g)

	if i, ok := sk.IndexOf(timeline.NormalizeKey(string(buckets[1].Key))); !ok || i != 1 {
		t.Errorf("IndexOf normalized key = %d, %v", i, ok)
	}
	if _, ok := sk.IndexOf("1999-01-01"); ok {
		t.Error("IndexOf unknown key should fail")
	}

	tests := []struct {
		offset int
		want   int
	}{
		{-50, 0}, {0, 0}, {219, 0}, {220, 1}, {339, 1}, {340, 2}, {10000, 2},
	}
	for _, tt := range tests {
		if got := sk.BucketAt(tt.offset); got != tt.want {
			t.Errorf("BucketAt(%d) = %d, want %d", tt.offset, got, tt.want)
		}
	}

	if off, _ := sk.ItemOffset(0, 4); off != 120 {
		t.Errorf("ItemOffset(0,4) = %d, want 120", off)
	}
	if off, _ := sk.ItemOffset(0, 99); off != 120 {
		t.Errorf("ItemOffset clamps to last row, got %d", off)
	}
	if _, ok := sk.ItemOffset(7, 0); ok {
		t.Error("ItemOffset on missing bucket should fail")
	}
	if (*Skeleton)(nil).BucketAt(0) != -1 {
		t.Error("nil skeleton BucketAt should be -1")
	}
}

func TestPlanSpacerInvariant(t *testing.T) {
	counts := make([]int, 300)
	for i := range counts {
		counts[i] = (i*31)%13 + 1
	}
	buckets := makeBuckets(counts...)
	g := NewGeometry(900, testConfig)
	sk := ComputeSkeleton(buckets, g)

	res := newFakeResidency()
	for i := 0; i < len(buckets); i += 3 {
		res.resident(i, buckets[i].Key, buckets[i].Count)
	}
	// inconsistent sources: fewer and more items than the metadata count
	res.resident(4, buckets[4].Key, max(buckets[4].Count-2, 0))
	res.resident(7, buckets[7].Key, buckets[7].Count+9)
	res.states[10] = timeline.StateLoading

	for _, height := range []int{0, 1, 300, 2000} {
		for scroll := -100; scroll < sk.Total()+500; scroll += 97 {
			plan := Plan(sk, Viewport{ScrollTop: scroll, Height: height}, res, Options{BufferRows: 2, LayoutBufferRows: 8})
			sum := plan.TopSpacer + plan.RenderedHeight() + plan.BottomSpacer
			if sum != sk.Total() {
				t.Fatalf("scroll %d height %d: %d + %d + %d = %d, want %d",
					scroll, height, plan.TopSpacer, plan.RenderedHeight(), plan.BottomSpacer, sum, sk.Total())
			}
			for j := 1; j < len(plan.Items); j++ {
				if plan.Items[j].Top != plan.Items[j-1].Bottom() {
					t.Fatalf("scroll %d: items %d and %d are not contiguous", scroll, j-1, j)
				}
			}
		}
	}
}

func TestPlanClassification(t *testing.T) {
	g := Geometry{Width: 400, Columns: 4, RowHeight: 100, HeaderHeight: 20}
	counts := make([]int, 50)
	for i := range counts {
		counts[i] = 8
	}
	buckets := makeBuckets(counts...)
	sk := ComputeSkeleton(buckets, g)

	res := newFakeResidency()
	res.resident(0, buckets[0].Key, 8)
	res.states[1] = timeline.StateLoading

	plan := Plan(sk, Viewport{ScrollTop: 0, Height: 500}, res, Options{BufferRows: 1, LayoutBufferRows: 4})

	kinds := map[Kind]int{}
	for _, it := range plan.Items {
		kinds[it.Kind]++
	}
	if kinds[KindHeader] != 1 || kinds[KindRow] != 2 {
		t.Errorf("resident bucket 0 should render 1 header and 2 rows, got %v", kinds)
	}
	if kinds[KindPlaceholderRow] == 0 {
		t.Errorf("expected placeholder rows, got %v", kinds)
	}
	if kinds[KindCollapsed] != 0 {
		t.Errorf("collapsed blocks must not be inside the window, got %v", kinds)
	}

	for _, b := range plan.Needed {
		if b == 0 || b == 1 {
			t.Errorf("Needed contains resident/loading bucket %d", b)
		}
	}
	if len(plan.Needed) == 0 || plan.Needed[0] != 2 {
		t.Errorf("Needed = %v, want to start at 2", plan.Needed)
	}

	// far from the top, bucket 0 is collapsed out of the window
	far := Plan(sk, Viewport{ScrollTop: 40 * 220, Height: 500}, res, Options{BufferRows: 1, LayoutBufferRows: 4})
	for _, it := range far.Items {
		if it.Kind == KindCollapsed {
			t.Errorf("collapsed item inside window: %+v", it)
		}
	}
	if far.TopSpacer == 0 {
		t.Error("expected a top spacer when scrolled down")
	}
}

func TestPlanCollapsesFarBuckets(t *testing.T) {
	g := Geometry{Width: 400, Columns: 4, RowHeight: 100, HeaderHeight: 20}
	sk := ComputeSkeleton(makeBuckets(8, 8, 8, 8, 8, 8, 8, 8, 8, 8), g)

	all := buildItems(sk, nil, 0, 100)
	var collapsed, total int
	for _, it := range all {
		total += it.Height
		if it.Kind == KindCollapsed {
			collapsed++
			ext, _ := sk.Extent(it.Bucket)
			if it.Top != ext.Top || it.Height != ext.Height {
				t.Errorf("collapsed item %+v does not span bucket %+v", it, ext)
			}
		}
	}
	if collapsed != 9 {
		t.Errorf("collapsed = %d, want 9 (all but the first bucket)", collapsed)
	}
	if total != sk.Total() {
		t.Errorf("items cover %d, want %d", total, sk.Total())
	}
}

func TestPlanSticky(t *testing.T) {
	g := Geometry{Width: 400, Columns: 4, RowHeight: 100, HeaderHeight: 20}
	sk := ComputeSkeleton(makeBuckets(8, 8, 8), g)

	tests := []struct {
		scroll int
		bucket int
	}{
		{0, 0}, {219, 0}, {220, 1}, {250, 1}, {441, 2}, {5000, 2},
	}
	for _, tt := range tests {
		plan := Plan(sk, Viewport{ScrollTop: tt.scroll, Height: 100}, nil, Options{})
		if plan.Sticky == nil || plan.Sticky.Bucket != tt.bucket {
			t.Errorf("scroll %d: sticky = %+v, want bucket %d", tt.scroll, plan.Sticky, tt.bucket)
			continue
		}
		if plan.Sticky.Top > max(tt.scroll, 0) {
			t.Errorf("scroll %d: sticky top %d is below scroll offset", tt.scroll, plan.Sticky.Top)
		}
	}

	noHeaders := ComputeSkeleton(makeBuckets(8), Geometry{Width: 400, Columns: 4, RowHeight: 100})
	if Plan(noHeaders, Viewport{Height: 100}, nil, Options{}).Sticky != nil {
		t.Error("sticky header without headers")
	}
}

func TestPlanFiller(t *testing.T) {
	g := Geometry{Width: 400, Columns: 4, RowHeight: 100, HeaderHeight: 20}
	buckets := makeBuckets(8)
	sk := ComputeSkeleton(buckets, g)
	res := newFakeResidency()
	res.resident(0, buckets[0].Key, 3)

	plan := Plan(sk, Viewport{Height: 1000}, res, Options{})
	last := plan.Items[len(plan.Items)-1]
	if last.Kind != KindFiller || last.Height != 100 {
		t.Errorf("last item = %+v, want 100px filler", last)
	}
	if rows := plan.Rows(); len(rows) != 1 || len(rows[0].Items) != 3 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestPlanEmpty(t *testing.T) {
	plan := Plan(nil, Viewport{ScrollTop: 10, Height: 100}, nil, Options{BufferRows: 2})
	if len(plan.Items) != 0 || plan.Total != 0 || plan.FirstVisible != -1 || plan.Sticky != nil {
		t.Errorf("empty plan = %+v", plan)
	}
}

func TestPlanFlat(t *testing.T) {
	base := time.Date(2024, 5, 3, 18, 0, 0, 0, time.UTC)
	var items []timeline.Item
	for d := range 3 {
		for j := range 5 {
			items = append(items, timeline.Item{
				ID:      fmt.Sprintf("%d-%d", d, j),
				TakenAt: base.AddDate(0, 0, -d).Add(-time.Duration(j) * time.Minute),
			})
		}
	}
	g := Geometry{Width: 400, Columns: 4, RowHeight: 100, HeaderHeight: 20}
	plan, sk := PlanFlat(items, g, Viewport{Height: 10000}, Options{})

	if sk.Len() != 3 {
		t.Fatalf("PlanFlat buckets = %d, want 3", sk.Len())
	}
	if b, _ := sk.Bucket(0); b.Key != "2024-05-03" || b.Count != 5 {
		t.Errorf("bucket 0 = %+v", b)
	}
	if len(plan.Rows()) != 6 {
		t.Errorf("rows = %d, want 6", len(plan.Rows()))
	}
	for _, it := range plan.Items {
		if it.Kind == KindPlaceholderRow || it.Kind == KindPlaceholderHeader || it.Kind == KindCollapsed {
			t.Errorf("flat plan has placeholder %+v", it)
		}
	}
	if len(plan.Needed) != 0 {
		t.Errorf("flat plan needs buckets %v", plan.Needed)
	}
}
