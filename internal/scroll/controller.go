// Package scroll moves the grid's viewport: bucket index to offset,
// re-reading the real scroll position, and keeping a reference item in
// place when a width change re-flows the grid.
package scroll

import (
	"sync"

	"github.com/wethinkt/go-timegrid/internal/layout"
)

// Viewport is the scroll container the grid draws into.
type Viewport interface {
	ScrollTop() int
	SetScrollTop(offset int)
	Height() int
	Width() int
}

// Scheduler defers work to a later frame.
type Scheduler interface {
	// RequestFrame runs fn at the next animation frame.
	RequestFrame(fn func())
	// AfterPaint runs fn once the next frame has been painted.
	AfterPaint(fn func())
}

// Anchor is a reference item whose visual offset from the viewport top is
// preserved across a re-layout.
type Anchor struct {
	ItemID string
	Bucket int
	// Index is the item's position within its bucket.
	Index int
}

// Valid reports whether the anchor names a bucket.
func (a Anchor) Valid() bool { return a.Bucket >= 0 }

// NoAnchor is the zero anchor for an empty grid.
var NoAnchor = Anchor{Bucket: -1}

// Controller owns the internal copy of the scroll offset.
type Controller struct {
	vp    Viewport
	sched Scheduler

	mu        sync.Mutex
	scrollTop int
	resizeGen uint64
}

// NewController returns a controller for vp.
func NewController(vp Viewport, sched Scheduler) *Controller {
	return &Controller{vp: vp, sched: sched, scrollTop: vp.ScrollTop()}
}

// Viewport returns the scroll container handle.
func (c *Controller) Viewport() Viewport { return c.vp }

// ScrollTop returns the last offset the controller knows about.
func (c *Controller) ScrollTop() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrollTop
}

// RefreshScroll re-reads the viewport's real offset, for use after content
// shifted without a scroll event.
func (c *Controller) RefreshScroll() int {
	top := c.vp.ScrollTop()
	c.mu.Lock()
	c.scrollTop = top
	c.mu.Unlock()
	return top
}

// ScrollTo moves the viewport to offset, clamped to the scrollable range
// of sk.
func (c *Controller) ScrollTo(sk *layout.Skeleton, offset int) int {
	offset = Clamp(offset, sk.Total(), c.vp.Height())
	c.vp.SetScrollTop(offset)
	c.mu.Lock()
	c.scrollTop = offset
	c.mu.Unlock()
	return offset
}

// ScrollToBucket moves the viewport to the top of bucket index. It is a
// no-op returning false when sk has no such bucket.
func (c *Controller) ScrollToBucket(sk *layout.Skeleton, index int) bool {
	ext, ok := sk.Extent(index)
	if !ok {
		return false
	}
	c.ScrollTo(sk, ext.Top)
	return true
}

// Clamp limits offset to [0, total-height].
func Clamp(offset, total, height int) int {
	return max(0, min(offset, total-height))
}

// CaptureAnchor picks the reference item for a re-layout: the pinned
// anchor when valid, otherwise the first item visible at scrollTop.
func CaptureAnchor(sk *layout.Skeleton, plan layout.RenderPlan, scrollTop int, pinned Anchor) Anchor {
	if pinned.Valid() {
		if _, ok := sk.Extent(pinned.Bucket); ok {
			return pinned
		}
	}
	cols := sk.Geometry().Columns
	for _, it := range plan.Items {
		if it.Bottom() <= scrollTop {
			continue
		}
		switch it.Kind {
		case layout.KindRow:
			a := Anchor{Bucket: it.Bucket, Index: it.Row * cols}
			if len(it.Items) > 0 {
				a.ItemID = it.Items[0].ID
			}
			return a
		case layout.KindPlaceholderRow:
			return Anchor{Bucket: it.Bucket, Index: it.Row * cols}
		}
	}
	if b := sk.BucketAt(scrollTop); b >= 0 {
		return Anchor{Bucket: b}
	}
	return NoAnchor
}

// Reanchor returns the scroll offset under newSk that keeps the anchor at
// the same distance from the viewport top as it had under oldSk.
func Reanchor(oldSk, newSk *layout.Skeleton, a Anchor, oldScroll int) int {
	oldOff, ok := oldSk.ItemOffset(a.Bucket, a.Index)
	if !ok {
		return oldScroll
	}
	newOff, ok := newSk.ItemOffset(a.Bucket, a.Index)
	if !ok {
		return oldScroll
	}
	return newOff + (oldScroll - oldOff)
}

// Resize schedules re-anchoring after a width change. The caller has
// already recomputed newSk; the scroll offset is applied after the next
// paint so it is measured against the new layout. A later Resize
// supersedes one that has not run yet.
func (c *Controller) Resize(oldSk, newSk *layout.Skeleton, a Anchor, done func(offset int)) {
	c.mu.Lock()
	c.resizeGen++
	gen := c.resizeGen
	oldScroll := c.scrollTop
	c.mu.Unlock()

	target := oldScroll
	if a.Valid() {
		target = Reanchor(oldSk, newSk, a, oldScroll)
	}

	c.sched.AfterPaint(func() {
		c.mu.Lock()
		stale := gen != c.resizeGen
		c.mu.Unlock()
		if stale {
			return
		}
		off := c.ScrollTo(newSk, target)
		if done != nil {
			done(off)
		}
	})
}
