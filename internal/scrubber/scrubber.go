package scrubber

import (
	"sync"
	"time"

	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

// Defaults for Config fields left at zero.
const (
	DefaultDebounce  = 150 * time.Millisecond
	DefaultWindow    = 2
	DefaultEndWindow = 6
)

// Waiter reports completion of a residency request.
type Waiter interface {
	Done() <-chan struct{}
}

// Target is what the scrubber drives.
type Target interface {
	// ScrollToBucket moves the viewport to the top of bucket index.
	ScrollToBucket(index int) bool
	// RequestWindow requests residency for buckets within radius of center.
	RequestWindow(center, radius int) Waiter
	// SetScrubbing toggles drag mode (eviction and date reporting paused).
	SetScrubbing(on bool)
}

// Timer is a stoppable pending call.
type Timer interface {
	Stop() bool
}

// Clock schedules delayed calls.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }

// RealClock schedules on the runtime timer.
var RealClock Clock = realClock{}

// Config tunes the scrubber.
type Config struct {
	Debounce  time.Duration
	Window    int
	EndWindow int
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.Window < 0 {
		c.Window = DefaultWindow
	}
	if c.EndWindow <= 0 {
		c.EndWindow = DefaultEndWindow
	}
	c.EndWindow = max(c.EndWindow, c.Window)
	return c
}

// Scrubber turns drag gestures into scroll and residency calls.
type Scrubber struct {
	target Target
	clock  Clock
	cfg    Config
	log    *tuilog.Logger

	mu       sync.Mutex
	dragging bool
	session  uint64
	timer    Timer
	settled  func(index int)
}

// New returns a scrubber driving target.
func New(target Target, clock Clock, cfg Config) *Scrubber {
	if clock == nil {
		clock = RealClock
	}
	return &Scrubber{
		target: target,
		clock:  clock,
		cfg:    cfg.withDefaults(),
		log:    tuilog.Log.With("scrubber"),
	}
}

// OnSettled registers fn to run after a drag ends and the final scroll has
// been applied.
func (s *Scrubber) OnSettled(fn func(index int)) {
	s.mu.Lock()
	s.settled = fn
	s.mu.Unlock()
}

// Dragging reports whether a drag is in progress.
func (s *Scrubber) Dragging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dragging
}

// Session returns the current scrub session id.
func (s *Scrubber) Session() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// OnScrub handles a drag move to index: the viewport follows immediately
// and a residency request for the surrounding window is debounced.
func (s *Scrubber) OnScrub(index int) {
	s.mu.Lock()
	start := !s.dragging
	if start {
		s.dragging = true
		s.session++
	}
	session := s.session
	if s.timer != nil {
		s.timer.Stop()
	}
	window := s.cfg.Window
	s.timer = s.clock.AfterFunc(s.cfg.Debounce, func() {
		s.mu.Lock()
		live := s.session == session && s.dragging
		s.mu.Unlock()
		if live {
			s.target.RequestWindow(index, window)
		}
	})
	s.mu.Unlock()

	if start {
		s.log.Debug("scrub start", "session", session)
		s.target.SetScrubbing(true)
	}
	s.target.ScrollToBucket(index)
}

// OnScrubEnd handles the drag release at index. The pending debounce is
// dropped, a wider window is requested and, once it resolves, the viewport
// is moved to index again. A newer session makes the re-scroll a no-op.
func (s *Scrubber) OnScrubEnd(index int) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.session++
	session := s.session
	s.dragging = false
	settled := s.settled
	s.mu.Unlock()

	s.log.Debug("scrub end", "session", session, "index", index)
	w := s.target.RequestWindow(index, s.cfg.EndWindow)
	finish := func() {
		s.mu.Lock()
		live := s.session == session
		s.mu.Unlock()
		if !live {
			return
		}
		s.target.SetScrubbing(false)
		s.target.ScrollToBucket(index)
		if settled != nil {
			settled(index)
		}
	}
	if w == nil {
		finish()
		return
	}
	go func() {
		<-w.Done()
		finish()
	}()
}
