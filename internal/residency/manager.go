// Package residency decides which day buckets are held in memory. It
// fetches buckets on demand, keeps at most a budget of them resident by
// evicting the ones farthest from the viewport, and cancels fetches whose
// results are no longer wanted.
package residency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wethinkt/go-timegrid/internal/timeline"
	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

// DefaultBudget is the resident bucket budget used when none is configured.
const DefaultBudget = 24

// Config configures a Manager.
type Config struct {
	// Budget is the maximum number of resident buckets once a drawn range
	// has been reported. A drawn range wider than Budget is kept whole.
	Budget int
	// Concurrency bounds parallel fetches within one batch.
	Concurrency int
	Order       timeline.Order
	Filter      timeline.Filter
}

// Event reports a residency change. State is StateError for a failed
// fetch; the stored state of that bucket is already back to absent.
type Event struct {
	Bucket int
	Key    timeline.BucketKey
	State  timeline.ResidencyState
	Err    error
}

type bucketState struct {
	state    timeline.ResidencyState
	token    uint64
	lastErr  error
	failures int
}

// Manager owns bucket residency states and the resident item cache. All
// mutation happens under its mutex; change events are delivered after the
// mutex is released.
type Manager struct {
	src timeline.Source
	cfg Config
	log *tuilog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	keys      []timeline.BucketKey
	states    []bucketState
	cache     *Cache
	batches   map[*Batch]struct{}
	tokens    uint64
	// visFrom and visTo bound the buckets the host is drawing.
	visFrom   int
	visTo     int
	scrubbing bool
	pinned    string
	onChange  func(Event)
}

// NewManager returns a manager fetching from src.
func NewManager(src timeline.Source, cfg Config) *Manager {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		src:     src,
		cfg:     cfg,
		log:     tuilog.Log.With("residency"),
		ctx:     ctx,
		cancel:  cancel,
		cache:   NewCache(cfg.Order),
		batches: make(map[*Batch]struct{}),
		visFrom: -1,
		visTo:   -1,
	}
}

// OnChange sets the callback invoked after every state change. It runs on
// whichever goroutine caused the change, outside the manager's lock.
func (m *Manager) OnChange(fn func(Event)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// SetBuckets installs a new bucket listing. Pending batches are cancelled
// and all residency is dropped.
func (m *Manager) SetBuckets(buckets []timeline.Bucket) {
	m.CancelAll()

	m.mu.Lock()
	m.keys = make([]timeline.BucketKey, len(buckets))
	for i, b := range buckets {
		m.keys[i] = timeline.NormalizeKey(string(b.Key))
	}
	m.states = make([]bucketState, len(buckets))
	m.cache.Reset()
	m.visFrom, m.visTo = -1, -1
	m.updateGaugesLocked()
	m.mu.Unlock()
}

// SetFilter changes the filter used for subsequent fetches. Callers reload
// the listing with SetBuckets afterwards.
func (m *Manager) SetFilter(f timeline.Filter) {
	m.mu.Lock()
	m.cfg.Filter = f
	m.mu.Unlock()
}

// Budget returns the resident bucket budget.
func (m *Manager) Budget() int { return m.cfg.Budget }

// RequestBucket requests a single bucket.
func (m *Manager) RequestBucket(index int) *Batch {
	return m.RequestBuckets([]int{index})
}

// RequestBuckets issues one batch fetching every listed bucket that is
// currently absent. Buckets already loading or resident are skipped, so the
// returned batch may be empty (and already done).
func (m *Manager) RequestBuckets(indices []int) *Batch {
	ctx, cancel := context.WithCancel(m.ctx)
	b := &Batch{m: m, ctx: ctx, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		cancel()
		close(b.done)
		return b
	}
	seen := make(map[int]bool, len(indices))
	var events []Event
	for _, i := range indices {
		if i < 0 || i >= len(m.states) || seen[i] {
			continue
		}
		seen[i] = true
		st := &m.states[i]
		if st.state != timeline.StateAbsent {
			continue
		}
		m.tokens++
		st.state = timeline.StateLoading
		st.token = m.tokens
		b.buckets = append(b.buckets, i)
		b.tokens = append(b.tokens, st.token)
		b.keys = append(b.keys, m.keys[i])
		events = append(events, Event{Bucket: i, Key: m.keys[i], State: timeline.StateLoading})
	}
	if len(b.buckets) == 0 {
		m.mu.Unlock()
		cancel()
		close(b.done)
		return b
	}
	m.batches[b] = struct{}{}
	filter := m.cfg.Filter
	cb := m.onChange
	m.mu.Unlock()

	emit(cb, events)
	m.log.Debug("batch issued", "buckets", len(b.buckets), "first", b.keys[0])

	m.wg.Add(1)
	go m.run(b, filter)
	return b
}

func (m *Manager) run(b *Batch, filter timeline.Filter) {
	defer m.wg.Done()

	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for j := range b.buckets {
		g.Go(func() error {
			m.complete(b.buckets[j], b.tokens[j], m.fetch(b.ctx, b.keys[j], filter))
			return nil
		})
	}
	_ = g.Wait()

	b.cancel()
	m.mu.Lock()
	delete(m.batches, b)
	m.mu.Unlock()
	close(b.done)
}

func (m *Manager) fetch(ctx context.Context, key timeline.BucketKey, filter timeline.Filter) timeline.FetchResult {
	if err := ctx.Err(); err != nil {
		return timeline.ResultOf(nil, fmt.Errorf("bucket %s: %w", key, timeline.ErrFetchCancelled))
	}
	start := time.Now()
	items, err := m.src.FetchBucketItems(ctx, key, filter)
	fetchDurationSeconds.Observe(time.Since(start).Seconds())
	if err == nil {
		items, err = timeline.ValidateItems(key, items)
	}
	if err != nil && ctx.Err() != nil && !errors.Is(err, timeline.ErrFetchCancelled) {
		err = fmt.Errorf("bucket %s: %w (%v)", key, timeline.ErrFetchCancelled, err)
	}
	return timeline.ResultOf(items, err)
}

// complete applies a fetch result if the bucket is still waiting for this
// exact request. Anything else (evicted, cancelled, re-requested, listing
// replaced) makes the result stale and it is dropped.
func (m *Manager) complete(i int, token uint64, res timeline.FetchResult) {
	m.mu.Lock()
	if i >= len(m.states) || m.states[i].token != token || m.states[i].state != timeline.StateLoading {
		m.mu.Unlock()
		staleCompletionsTotal.Inc()
		return
	}
	st := &m.states[i]
	key := m.keys[i]
	fetchesTotal.WithLabelValues(res.Outcome.String()).Inc()

	var ev Event
	switch res.Outcome {
	case timeline.OutcomeOK:
		m.cache.Apply(i, res.Items)
		st.state = timeline.StateResident
		st.lastErr = nil
		st.failures = 0
		ev = Event{Bucket: i, Key: key, State: timeline.StateResident}
	case timeline.OutcomeCancelled:
		st.state = timeline.StateAbsent
		ev = Event{Bucket: i, Key: key, State: timeline.StateAbsent}
	default:
		st.state = timeline.StateAbsent
		st.lastErr = res.Err
		st.failures++
		m.log.Error("fetch failed", "bucket", key, "failures", st.failures, "error", res.Err)
		ev = Event{Bucket: i, Key: key, State: timeline.StateError, Err: res.Err}
	}

	events := append([]Event{ev}, m.enforceBudgetLocked()...)
	m.updateGaugesLocked()
	cb := m.onChange
	m.mu.Unlock()
	emit(cb, events)
}

// ReportVisible records the range of buckets being drawn and evicts
// resident buckets outside the keep-window around it. Buckets inside the
// range are never evicted.
func (m *Manager) ReportVisible(from, to int) {
	m.mu.Lock()
	if from > to {
		from, to = to, from
	}
	if to < 0 || from >= len(m.states) {
		m.mu.Unlock()
		return
	}
	m.visFrom, m.visTo = max(from, 0), min(to, len(m.states)-1)
	events := m.enforceBudgetLocked()
	m.updateGaugesLocked()
	cb := m.onChange
	m.mu.Unlock()
	emit(cb, events)
}

// SetScrubbing suspends eviction while a scrub gesture is in progress.
func (m *Manager) SetScrubbing(on bool) {
	m.mu.Lock()
	m.scrubbing = on
	m.mu.Unlock()
}

// Scrubbing reports whether eviction is suspended.
func (m *Manager) Scrubbing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scrubbing
}

// SetPinned exempts the bucket of the given item from eviction. An empty
// id clears the pin.
func (m *Manager) SetPinned(itemID string) {
	m.mu.Lock()
	m.pinned = itemID
	m.mu.Unlock()
}

// KeepWindow returns the inclusive bucket range that survives eviction
// around center for n buckets and budget b.
func KeepWindow(center, n, b int) (lo, hi int) {
	return KeepRange(center, center, n, b)
}

// KeepRange returns the inclusive bucket range that survives eviction when
// buckets from..to are drawn. It is b buckets wide and centred on the drawn
// range, or exactly the drawn range when that alone is wider than b.
func KeepRange(from, to, n, b int) (lo, hi int) {
	if n <= 0 {
		return 0, -1
	}
	from, to = max(from, 0), min(to, n-1)
	if to < from {
		return 0, -1
	}
	extra := b - (to - from + 1)
	if extra <= 0 {
		return from, to
	}
	lo = from - (extra+1)/2
	hi = to + extra/2
	if lo < 0 {
		hi -= lo
		lo = 0
	}
	if hi > n-1 {
		lo -= hi - (n - 1)
		hi = n - 1
		lo = max(lo, 0)
	}
	return lo, hi
}

// enforceBudgetLocked must be called with mu held.
func (m *Manager) enforceBudgetLocked() []Event {
	if m.scrubbing || m.visFrom < 0 {
		return nil
	}
	resident := 0
	for _, st := range m.states {
		if st.state == timeline.StateResident {
			resident++
		}
	}
	if resident <= m.cfg.Budget {
		return nil
	}

	lo, hi := KeepRange(m.visFrom, m.visTo, len(m.states), m.cfg.Budget)
	pinned := -1
	if m.pinned != "" {
		if b, ok := m.cache.Owner(m.pinned); ok {
			pinned = b
		}
	}

	var events []Event
	for i := range m.states {
		st := &m.states[i]
		if st.state != timeline.StateResident || (i >= lo && i <= hi) || i == pinned {
			continue
		}
		m.tokens++
		st.state = timeline.StateAbsent
		st.token = m.tokens
		m.cache.Evict(i)
		evictionsTotal.Inc()
		events = append(events, Event{Bucket: i, Key: m.keys[i], State: timeline.StateAbsent})
	}
	if len(events) > 0 {
		m.log.Debug("evicted", "buckets", len(events), "drawn_from", m.visFrom, "drawn_to", m.visTo, "keep_from", lo, "keep_to", hi)
	}
	return events
}

// rollback reverts every bucket still loading on behalf of b to absent.
func (m *Manager) rollback(b *Batch) {
	m.mu.Lock()
	var events []Event
	for j, i := range b.buckets {
		if i >= len(m.states) {
			continue
		}
		st := &m.states[i]
		if st.token != b.tokens[j] || st.state != timeline.StateLoading {
			continue
		}
		m.tokens++
		st.state = timeline.StateAbsent
		st.token = m.tokens
		events = append(events, Event{Bucket: i, Key: m.keys[i], State: timeline.StateAbsent})
	}
	cb := m.onChange
	m.mu.Unlock()

	if len(events) > 0 {
		cancelledBatchesTotal.Inc()
		m.log.Debug("batch cancelled", "rolled_back", len(events))
	}
	emit(cb, events)
}

// pending returns the batches still running.
func (m *Manager) pending() []*Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Batch, 0, len(m.batches))
	for b := range m.batches {
		out = append(out, b)
	}
	return out
}

// CancelAll cancels every pending batch.
func (m *Manager) CancelAll() {
	for _, b := range m.pending() {
		b.Cancel()
	}
}

// Supersede cancels every pending batch none of whose loading buckets is
// still of interest.
func (m *Manager) Supersede(interest func(bucket int) bool) int {
	var stale []*Batch
	for _, b := range m.pending() {
		if !m.batchWanted(b, interest) {
			stale = append(stale, b)
		}
	}
	for _, b := range stale {
		b.Cancel()
	}
	return len(stale)
}

func (m *Manager) batchWanted(b *Batch, interest func(int) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for j, i := range b.buckets {
		if i < len(m.states) && m.states[i].token == b.tokens[j] &&
			m.states[i].state == timeline.StateLoading && interest(i) {
			return true
		}
	}
	return false
}

// Close cancels all work and waits for fetch goroutines to exit.
func (m *Manager) Close() {
	m.CancelAll()
	m.cancel()
	m.wg.Wait()
}

// State returns the residency state of a bucket.
func (m *Manager) State(i int) timeline.ResidencyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.states) {
		return timeline.StateAbsent
	}
	return m.states[i].state
}

// LastError returns the error of the bucket's most recent failed fetch.
func (m *Manager) LastError(i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.states) {
		return nil
	}
	return m.states[i].lastErr
}

// Failures returns how many consecutive fetches of the bucket have failed.
func (m *Manager) Failures(i int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.states) {
		return 0
	}
	return m.states[i].failures
}

// Item returns a resident item and its bucket index.
func (m *Manager) Item(id string) (timeline.Item, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.cache.Get(id)
	if !ok {
		return timeline.Item{}, -1, false
	}
	b, _ := m.cache.Owner(id)
	return it, b, true
}

// ResidentItems returns every resident item in display order.
func (m *Manager) ResidentItems() []timeline.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.All()
}

// ResidentBuckets returns the indexes of resident buckets, ascending.
func (m *Manager) ResidentBuckets() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for i, st := range m.states {
		if st.state == timeline.StateResident {
			out = append(out, i)
		}
	}
	return out
}

// Snapshot captures states and resident items for one layout pass.
func (m *Manager) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Snapshot{
		states: make([]timeline.ResidencyState, len(m.states)),
		items:  make(map[int][]timeline.Item),
	}
	for i, st := range m.states {
		s.states[i] = st.state
		if st.state == timeline.StateResident {
			s.items[i] = m.cache.BucketItems(i)
		}
	}
	return s
}

func (m *Manager) updateGaugesLocked() {
	n := 0
	for _, st := range m.states {
		if st.state == timeline.StateResident {
			n++
		}
	}
	residentBuckets.Set(float64(n))
	residentItems.Set(float64(m.cache.Len()))
}

func emit(cb func(Event), events []Event) {
	if cb == nil {
		return
	}
	for _, ev := range events {
		cb(ev)
	}
}

// Snapshot is an immutable view of residency for one tick. It satisfies
// layout.Residency.
type Snapshot struct {
	states []timeline.ResidencyState
	items  map[int][]timeline.Item
}

// State returns the state of bucket i at snapshot time.
func (s *Snapshot) State(i int) timeline.ResidencyState {
	if s == nil || i < 0 || i >= len(s.states) {
		return timeline.StateAbsent
	}
	return s.states[i]
}

// Items returns the items of bucket i at snapshot time.
func (s *Snapshot) Items(i int) []timeline.Item {
	if s == nil {
		return nil
	}
	return s.items[i]
}

// Count returns how many buckets were in the given state.
func (s *Snapshot) Count(state timeline.ResidencyState) int {
	if s == nil {
		return 0
	}
	n := 0
	for _, st := range s.states {
		if st == state {
			n++
		}
	}
	return n
}

// Batch is a group of bucket fetches sharing one cancellation signal.
type Batch struct {
	m         *Manager
	ctx       context.Context
	cancel    context.CancelFunc
	buckets   []int
	tokens    []uint64
	keys      []timeline.BucketKey
	done      chan struct{}
	cancelled atomic.Bool
}

// Buckets returns the bucket indexes this batch fetches.
func (b *Batch) Buckets() []int { return b.buckets }

// Done is closed when every fetch of the batch has finished.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Wait blocks until the batch is done or ctx ends.
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel aborts in-flight fetches. Buckets still loading for this batch
// revert to absent before Cancel returns.
func (b *Batch) Cancel() {
	if !b.cancelled.CompareAndSwap(false, true) {
		return
	}
	b.cancel()
	if b.m != nil {
		b.m.rollback(b)
	}
}

// Cancelled reports whether Cancel was called.
func (b *Batch) Cancelled() bool { return b.cancelled.Load() }
