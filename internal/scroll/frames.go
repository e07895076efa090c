package scroll

import (
	"sync"
	"time"
)

// FrameInterval is the frame period of TimerFrames when none is given.
const FrameInterval = 16 * time.Millisecond

// TimerFrames schedules frames on a timer, for hosts without a render
// loop of their own.
type TimerFrames struct {
	Interval time.Duration
}

func (f TimerFrames) interval() time.Duration {
	if f.Interval <= 0 {
		return FrameInterval
	}
	return f.Interval
}

// RequestFrame runs fn one interval from now.
func (f TimerFrames) RequestFrame(fn func()) {
	time.AfterFunc(f.interval(), fn)
}

// AfterPaint runs fn one interval from now.
func (f TimerFrames) AfterPaint(fn func()) {
	time.AfterFunc(f.interval(), fn)
}

// Throttle runs fn at most once per frame no matter how often Trigger is
// called. fn reads whatever values are current when the frame fires, so a
// burst of events collapses to the latest one.
type Throttle struct {
	sched Scheduler
	fn    func()

	mu      sync.Mutex
	pending bool
}

// NewThrottle returns a throttle for fn.
func NewThrottle(sched Scheduler, fn func()) *Throttle {
	return &Throttle{sched: sched, fn: fn}
}

// Trigger requests a run of fn at the next frame.
func (t *Throttle) Trigger() {
	t.mu.Lock()
	if t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = true
	t.mu.Unlock()

	t.sched.RequestFrame(func() {
		t.mu.Lock()
		t.pending = false
		t.mu.Unlock()
		t.fn()
	})
}

// Pending reports whether a run is scheduled.
func (t *Throttle) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}
