// Package grid wires the timeline engine together: skeleton, render plan,
// residency, position registry, scroll controller and scrubber.
//
// An Engine is driven by its host. The host forwards scroll and resize
// events, renders whatever plan the engine reports through Events.Updated,
// and provides a Scheduler that runs callbacks on its render loop.
package grid

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wethinkt/go-timegrid/internal/layout"
	"github.com/wethinkt/go-timegrid/internal/registry"
	"github.com/wethinkt/go-timegrid/internal/residency"
	"github.com/wethinkt/go-timegrid/internal/scroll"
	"github.com/wethinkt/go-timegrid/internal/scrubber"
	"github.com/wethinkt/go-timegrid/internal/timeline"
	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

// Config collects the tunables of every engine component.
type Config struct {
	Layout    layout.Config
	Window    layout.Options
	Residency residency.Config
	Scrub     scrubber.Config
}

// Events are the engine's outbound notifications. Any field may be nil.
// Callbacks run outside the engine lock.
type Events struct {
	// VisibleBucketChanged fires when the bucket at the top of the
	// viewport changes. It is not fired during a scrub drag.
	VisibleBucketChanged func(key timeline.BucketKey)
	// BucketResidencyNeeded fires for each bucket the engine requests.
	BucketResidencyNeeded func(index int)
	// ItemActivated fires when an item is opened.
	ItemActivated func(item timeline.Item, rect timeline.Rect)
	// Updated fires after every tick with the new plan.
	Updated func(plan layout.RenderPlan)
}

// placement is where a mounted item was laid out in its tick.
type placement struct {
	top, col int
	g        layout.Geometry
}

// Engine is the windowed timeline grid.
type Engine struct {
	src    timeline.Source
	cfg    Config
	log    *tuilog.Logger
	events Events

	mgr     *residency.Manager
	reg     *registry.Registry
	ctrl    *scroll.Controller
	ticker  *scroll.Throttle
	resizer *scroll.Throttle
	scrub   *scrubber.Scrubber

	// resizing is set from a skeleton change until the scroll offset has
	// been re-anchored on the new skeleton.
	resizing atomic.Bool

	mu       sync.Mutex
	buckets  []timeline.Bucket
	sk       *layout.Skeleton
	plan     layout.RenderPlan
	mounted  map[string]placement
	visible  timeline.BucketKey
	pinnedID string
	width    int
	// Failed buckets are blocked until they leave the window; forgiven
	// holds the failure count a bucket had when it was unblocked.
	blocked  map[int]bool
	forgiven map[int]int
}

// New returns an engine reading from src and drawing into vp.
func New(src timeline.Source, vp scroll.Viewport, sched scroll.Scheduler, clock scrubber.Clock, cfg Config, events Events) *Engine {
	e := &Engine{
		src:      src,
		cfg:      cfg,
		log:      tuilog.Log.With("grid"),
		events:   events,
		mgr:      residency.NewManager(src, cfg.Residency),
		reg:      registry.New(),
		ctrl:     scroll.NewController(vp, sched),
		mounted:  make(map[string]placement),
		width:    vp.Width(),
		blocked:  make(map[int]bool),
		forgiven: make(map[int]int),
	}
	e.ticker = scroll.NewThrottle(sched, e.tick)
	e.resizer = scroll.NewThrottle(sched, e.applyResize)
	e.scrub = scrubber.New(e, clock, cfg.Scrub)
	e.mgr.OnChange(e.onResidency)
	return e
}

// Load lists buckets from the source and lays them out. The previous
// listing, residency and scroll position are discarded.
func (e *Engine) Load(ctx context.Context) error {
	done := e.log.Timed("load")
	defer done()

	e.mu.Lock()
	filter, order := e.cfg.Residency.Filter, e.cfg.Residency.Order
	e.mu.Unlock()

	buckets, err := e.src.ListBuckets(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing buckets: %w", err)
	}
	buckets = append([]timeline.Bucket(nil), buckets...)
	for i := range buckets {
		buckets[i].Key = timeline.NormalizeKey(string(buckets[i].Key))
	}
	timeline.SortBuckets(buckets, order)

	e.mgr.SetBuckets(buckets)

	e.mu.Lock()
	clear(e.blocked)
	clear(e.forgiven)
	e.buckets = buckets
	e.width = e.ctrl.Viewport().Width()
	e.sk = layout.ComputeSkeleton(buckets, layout.NewGeometry(e.width, e.cfg.Layout))
	e.visible = ""
	e.mu.Unlock()

	e.log.Info("loaded", "buckets", len(buckets))
	e.ctrl.ScrollTo(e.Skeleton(), 0)
	e.tick()
	return nil
}

// SetFilter changes the source filter and reloads the listing.
func (e *Engine) SetFilter(ctx context.Context, f timeline.Filter) error {
	e.mu.Lock()
	e.cfg.Residency.Filter = f
	e.mu.Unlock()
	e.mgr.SetFilter(f)
	return e.Load(ctx)
}

// Filter returns the active filter.
func (e *Engine) Filter() timeline.Filter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Residency.Filter
}

// Close cancels outstanding fetches.
func (e *Engine) Close() {
	e.mgr.Close()
}

// OnScroll is called by the host for every scroll event.
func (e *Engine) OnScroll() {
	e.ctrl.RefreshScroll()
	e.ticker.Trigger()
}

// OnResize is called by the host for every resize event. The skeleton is
// recomputed at the next frame and the scroll position re-anchored after
// the following paint.
func (e *Engine) OnResize() {
	e.resizer.Trigger()
}

func (e *Engine) applyResize() {
	width := e.ctrl.Viewport().Width()

	e.mu.Lock()
	if width == e.width && e.sk != nil {
		e.mu.Unlock()
		e.ticker.Trigger()
		return
	}
	oldSk := e.sk
	pinned := e.pinnedAnchorLocked()
	plan := e.plan
	e.width = width
	e.sk = layout.ComputeSkeleton(e.buckets, layout.NewGeometry(width, e.cfg.Layout))
	newSk := e.sk
	e.mu.Unlock()

	a := scroll.CaptureAnchor(oldSk, plan, e.ctrl.ScrollTop(), pinned)
	e.log.Debug("resize", "width", width, "anchor", a.Bucket, "index", a.Index)
	// The scroll offset still belongs to the old skeleton until the paint
	// below re-anchors it, so ticks until then must not fetch or evict.
	e.resizing.Store(true)
	e.update(false)
	e.ctrl.Resize(oldSk, newSk, a, func(int) {
		e.resizing.Store(false)
		e.tick()
	})
}

// pinnedAnchorLocked returns the anchor of the pinned item, if it is
// resident.
func (e *Engine) pinnedAnchorLocked() scroll.Anchor {
	if e.pinnedID == "" {
		return scroll.NoAnchor
	}
	_, bucket, ok := e.mgr.Item(e.pinnedID)
	if !ok {
		return scroll.NoAnchor
	}
	for i, it := range e.mgr.Snapshot().Items(bucket) {
		if it.ID == e.pinnedID {
			return scroll.Anchor{ItemID: e.pinnedID, Bucket: bucket, Index: i}
		}
	}
	return scroll.NoAnchor
}

// Tick recomputes the plan immediately instead of waiting for a frame.
func (e *Engine) Tick() { e.tick() }

func (e *Engine) tick() { e.update(!e.resizing.Load()) }

// update recomputes the plan and mounts its items. With settle false only
// the layout is refreshed: nothing is requested, superseded or evicted and
// the visible bucket is not reported.
func (e *Engine) update(settle bool) {
	vp := e.ctrl.Viewport()
	scrollTop := e.ctrl.ScrollTop()
	snap := e.mgr.Snapshot()

	e.mu.Lock()
	sk := e.sk
	plan := layout.Plan(sk, layout.Viewport{ScrollTop: scrollTop, Height: vp.Height()}, snap, e.cfg.Window)
	e.plan = plan
	mounts, keep := e.syncRegistryLocked(plan)

	var changed timeline.BucketKey
	visibleChanged := false
	if settle && plan.FirstVisible >= 0 && !e.scrub.Dragging() {
		b, _ := sk.Bucket(plan.FirstVisible)
		if b.Key != e.visible {
			e.visible = b.Key
			changed, visibleChanged = b.Key, true
		}
	}
	n := sk.Len()
	var needed []int
	if settle {
		needed = e.retryableLocked(plan)
	}
	e.mu.Unlock()

	for _, m := range mounts {
		e.reg.Register(m.id, m.pos)
	}
	e.reg.Retain(keep)

	from, to := plan.BucketRange()
	if settle && from >= 0 {
		lo, hi := residency.KeepRange(from, to, n, e.mgr.Budget())
		e.mgr.Supersede(func(i int) bool { return i >= lo && i <= hi })
	}
	if len(needed) > 0 {
		e.mgr.RequestBuckets(needed)
		if cb := e.events.BucketResidencyNeeded; cb != nil {
			for _, i := range needed {
				cb(i)
			}
		}
	}
	if settle && from >= 0 {
		e.mgr.ReportVisible(from, to)
	}

	if visibleChanged && e.events.VisibleBucketChanged != nil {
		e.events.VisibleBucketChanged(changed)
	}
	if e.events.Updated != nil {
		e.events.Updated(plan)
	}
}

// retryableLocked filters plan.Needed down to buckets that have not failed
// since they last entered the window.
func (e *Engine) retryableLocked(plan layout.RenderPlan) []int {
	inPlan := make(map[int]bool)
	for _, it := range plan.Items {
		inPlan[it.Bucket] = true
	}
	for i := range e.blocked {
		if !inPlan[i] {
			e.forgiven[i] = e.mgr.Failures(i)
			delete(e.blocked, i)
		}
	}
	var needed []int
	for _, i := range plan.Needed {
		f := e.mgr.Failures(i)
		if f == 0 {
			delete(e.forgiven, i)
		} else if f > e.forgiven[i] {
			e.blocked[i] = true
			continue
		}
		needed = append(needed, i)
	}
	return needed
}

// mount is a registration decided under the engine lock and applied after
// it is released, since registry observers may call back into the engine.
type mount struct {
	id  string
	pos registry.PositionFunc
}

// syncRegistryLocked works out which items of the plan's rows to mount and
// which ids stay mounted. An item is re-registered only when its placement
// changed.
func (e *Engine) syncRegistryLocked(plan layout.RenderPlan) ([]mount, map[string]bool) {
	g := e.sk.Geometry()
	keep := make(map[string]bool)
	var mounts []mount
	for _, row := range plan.Items {
		if row.Kind != layout.KindRow {
			continue
		}
		for col, it := range row.Items {
			keep[it.ID] = true
			p := placement{top: row.Top, col: col, g: g}
			if old, ok := e.mounted[it.ID]; ok && old == p && e.reg.Has(it.ID) {
				continue
			}
			e.mounted[it.ID] = p
			mounts = append(mounts, mount{id: it.ID, pos: e.positionFunc(p)})
		}
	}
	for id := range e.mounted {
		if !keep[id] {
			delete(e.mounted, id)
		}
	}
	return mounts, keep
}

func (e *Engine) positionFunc(p placement) registry.PositionFunc {
	return func() (timeline.Rect, bool) {
		w := p.g.CellWidth()
		return timeline.Rect{
			X: p.col * w,
			Y: p.top - e.ctrl.ScrollTop(),
			W: max(w-p.g.Gap, 1),
			H: p.g.RowHeight,
		}, true
	}
}

func (e *Engine) onResidency(ev residency.Event) {
	if ev.State == timeline.StateLoading {
		return
	}
	e.ticker.Trigger()
}

// PositionOf returns the on-screen rectangle of a mounted item.
func (e *Engine) PositionOf(id string) (timeline.Rect, bool) {
	return e.reg.PositionOf(id)
}

// Registry exposes the position registry for observers.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// ScrollToBucket moves the viewport to the top of bucket index.
func (e *Engine) ScrollToBucket(index int) bool {
	if !e.ctrl.ScrollToBucket(e.Skeleton(), index) {
		return false
	}
	e.ticker.Trigger()
	return true
}

// ScrollBy moves the viewport by delta pixels.
func (e *Engine) ScrollBy(delta int) {
	e.ctrl.ScrollTo(e.Skeleton(), e.ctrl.ScrollTop()+delta)
	e.ticker.Trigger()
}

// RefreshScroll re-reads the container's offset after content shifted.
func (e *Engine) RefreshScroll() int {
	off := e.ctrl.RefreshScroll()
	e.ticker.Trigger()
	return off
}

// ScrollContainer returns the viewport the engine draws into.
func (e *Engine) ScrollContainer() scroll.Viewport { return e.ctrl.Viewport() }

// RequestWindow requests residency for the buckets within radius of
// center. The returned batch is done once they have all settled.
func (e *Engine) RequestWindow(center, radius int) scrubber.Waiter {
	n := e.Skeleton().Len()
	var idx []int
	for i := max(center-radius, 0); i <= min(center+radius, n-1); i++ {
		idx = append(idx, i)
	}
	b := e.mgr.RequestBuckets(idx)
	if cb := e.events.BucketResidencyNeeded; cb != nil {
		for _, i := range b.Buckets() {
			cb(i)
		}
	}
	return b
}

// SetScrubbing pauses eviction and visible-date reporting during a drag.
func (e *Engine) SetScrubbing(on bool) {
	e.mgr.SetScrubbing(on)
	if !on {
		e.ticker.Trigger()
	}
}

// Scrubber returns the engine's scrubber.
func (e *Engine) Scrubber() *scrubber.Scrubber { return e.scrub }

// Activate opens a resident item and reports it with its current rectangle.
func (e *Engine) Activate(id string) bool {
	it, _, ok := e.mgr.Item(id)
	if !ok {
		return false
	}
	rect, _ := e.reg.PositionOf(id)
	e.log.Debug("activate", "id", id, "bucket", it.Bucket)
	if cb := e.events.ItemActivated; cb != nil {
		cb(it, rect)
	}
	return true
}

// ItemAt returns the mounted item drawn at viewport coordinates x, y.
func (e *Engine) ItemAt(x, y int) (timeline.Item, bool) {
	abs := y + e.ctrl.ScrollTop()
	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.sk.Geometry().CellWidth()
	if w <= 0 || x < 0 {
		return timeline.Item{}, false
	}
	col := x / w
	for _, row := range e.plan.Items {
		if row.Kind != layout.KindRow || abs < row.Top || abs >= row.Bottom() {
			continue
		}
		if col < len(row.Items) {
			return row.Items[col], true
		}
	}
	return timeline.Item{}, false
}

// Pin keeps the bucket of id resident and anchors resizes on it. An empty
// id clears the pin.
func (e *Engine) Pin(id string) {
	e.mu.Lock()
	e.pinnedID = id
	e.mu.Unlock()
	e.mgr.SetPinned(id)
}

// Pinned returns the pinned item id.
func (e *Engine) Pinned() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pinnedID
}

// Skeleton returns the current skeleton.
func (e *Engine) Skeleton() *layout.Skeleton {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sk
}

// Plan returns the plan of the last tick.
func (e *Engine) Plan() layout.RenderPlan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan
}

// Buckets returns the listing in display order.
func (e *Engine) Buckets() []timeline.Bucket {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buckets
}

// Residency returns a snapshot of bucket residency.
func (e *Engine) Residency() *residency.Snapshot { return e.mgr.Snapshot() }

// LastError returns the most recent fetch error of bucket i.
func (e *Engine) LastError(i int) error { return e.mgr.LastError(i) }
