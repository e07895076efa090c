package residency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wethinkt/go-timegrid/internal/timeline"
)

// fakeSource serves generated items. Calls can be held on a gate; a held
// call either honours its context or, with ignoreCtx, only the gate.
type fakeSource struct {
	mu        sync.Mutex
	counts    map[timeline.BucketKey]int
	gates     map[timeline.BucketKey][]chan struct{}
	fail      map[timeline.BucketKey]error
	malformed map[timeline.BucketKey]bool
	ignoreCtx bool
	calls     map[timeline.BucketKey]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		counts:    map[timeline.BucketKey]int{},
		gates:     map[timeline.BucketKey][]chan struct{}{},
		fail:      map[timeline.BucketKey]error{},
		malformed: map[timeline.BucketKey]bool{},
		calls:     map[timeline.BucketKey]int{},
	}
}

// hold makes the next call for key block until the returned channel is
// closed.
func (s *fakeSource) hold(key timeline.BucketKey) chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[key] = append(s.gates[key], ch)
	s.mu.Unlock()
	return ch
}

func (s *fakeSource) callCount(key timeline.BucketKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *fakeSource) ListBuckets(ctx context.Context, f timeline.Filter) ([]timeline.Bucket, error) {
	return nil, nil
}

func (s *fakeSource) FetchBucketItems(ctx context.Context, key timeline.BucketKey, f timeline.Filter) ([]timeline.Item, error) {
	s.mu.Lock()
	s.calls[key]++
	var gate chan struct{}
	if q := s.gates[key]; len(q) > 0 {
		gate, s.gates[key] = q[0], q[1:]
	}
	failErr := s.fail[key]
	malformed := s.malformed[key]
	n := s.counts[key]
	ignore := s.ignoreCtx
	s.mu.Unlock()

	if gate != nil {
		if ignore {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch %s: %w", key, timeline.ErrFetchCancelled)
			}
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	if n == 0 {
		n = 1
	}
	items := make([]timeline.Item, n)
	day, _ := key.Time()
	for i := range items {
		items[i] = timeline.Item{ID: fmt.Sprintf("%s/%d", key, i), TakenAt: day.Add(time.Duration(i) * time.Minute)}
	}
	if malformed {
		items[len(items)-1].ID = ""
	}
	return items, nil
}

func makeBuckets(n int) []timeline.Bucket {
	start := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	out := make([]timeline.Bucket, n)
	for i := range out {
		out[i] = timeline.Bucket{Key: timeline.KeyOf(start.AddDate(0, 0, -i)), Count: 1}
	}
	return out
}

func newTestManager(t *testing.T, src *fakeSource, n, budget int) (*Manager, []timeline.Bucket) {
	t.Helper()
	m := NewManager(src, Config{Budget: budget, Concurrency: 8})
	buckets := makeBuckets(n)
	m.SetBuckets(buckets)
	t.Cleanup(m.Close)
	return m, buckets
}

func wait(t *testing.T, b *Batch) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("batch did not finish: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRequestBucketBecomesResident(t *testing.T) {
	src := newFakeSource()
	m, buckets := newTestManager(t, src, 10, 24)
	src.counts[buckets[3].Key] = 5

	wait(t, m.RequestBucket(3))

	if got := m.State(3); got != timeline.StateResident {
		t.Fatalf("state = %v, want resident", got)
	}
	items := m.Snapshot().Items(3)
	if len(items) != 5 {
		t.Fatalf("items = %d, want 5", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i].TakenAt.After(items[i-1].TakenAt) {
			t.Errorf("items not sorted newest first: %v", items)
		}
	}
	if items[0].Bucket != buckets[3].Key {
		t.Errorf("items not tagged with bucket key: %q", items[0].Bucket)
	}
}

func TestRequestWhileLoadingOrResidentIsNoop(t *testing.T) {
	src := newFakeSource()
	m, buckets := newTestManager(t, src, 10, 24)
	gate := src.hold(buckets[1].Key)

	first := m.RequestBucket(1)
	if m.State(1) != timeline.StateLoading {
		t.Fatalf("state = %v, want loading", m.State(1))
	}
	second := m.RequestBucket(1)
	if len(second.Buckets()) != 0 {
		t.Errorf("duplicate request issued buckets %v", second.Buckets())
	}
	select {
	case <-second.Done():
	default:
		t.Error("empty batch should be done immediately")
	}

	close(gate)
	wait(t, first)
	wait(t, m.RequestBucket(1))
	if n := src.callCount(buckets[1].Key); n != 1 {
		t.Errorf("source called %d times, want 1", n)
	}
}

func TestFetchFailureRevertsToAbsent(t *testing.T) {
	src := newFakeSource()
	m, buckets := newTestManager(t, src, 10, 24)
	src.fail[buckets[2].Key] = errors.New("boom")

	var mu sync.Mutex
	var events []Event
	m.OnChange(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	wait(t, m.RequestBucket(2))
	if m.State(2) != timeline.StateAbsent {
		t.Fatalf("state = %v, want absent", m.State(2))
	}
	if m.LastError(2) == nil {
		t.Error("LastError should be recorded")
	}
	mu.Lock()
	last := events[len(events)-1]
	mu.Unlock()
	if last.State != timeline.StateError || last.Bucket != 2 {
		t.Errorf("last event = %+v, want error for bucket 2", last)
	}

	delete(src.fail, buckets[2].Key)
	wait(t, m.RequestBucket(2))
	if m.State(2) != timeline.StateResident {
		t.Errorf("retry state = %v, want resident", m.State(2))
	}
	if m.LastError(2) != nil {
		t.Error("LastError should clear after success")
	}
}

func TestMalformedResponseIsRejectedWhole(t *testing.T) {
	src := newFakeSource()
	m, buckets := newTestManager(t, src, 10, 24)
	src.counts[buckets[0].Key] = 4
	src.malformed[buckets[0].Key] = true

	wait(t, m.RequestBucket(0))

	if m.State(0) != timeline.StateAbsent {
		t.Fatalf("state = %v, want absent", m.State(0))
	}
	if len(m.ResidentItems()) != 0 {
		t.Errorf("partial items accepted: %d", len(m.ResidentItems()))
	}
	if !errors.Is(m.LastError(0), timeline.ErrMalformedResponse) {
		t.Errorf("LastError = %v, want ErrMalformedResponse", m.LastError(0))
	}
}

func TestCancelRevertsWithinOneTick(t *testing.T) {
	src := newFakeSource()
	m, buckets := newTestManager(t, src, 20, 24)
	gate := src.hold(buckets[10].Key)
	defer close(gate)

	b := m.RequestBucket(10)
	if m.State(10) != timeline.StateLoading {
		t.Fatalf("state = %v, want loading", m.State(10))
	}

	b.Cancel()
	if got := m.State(10); got != timeline.StateAbsent {
		t.Fatalf("state right after cancel = %v, want absent", got)
	}
	wait(t, b)
	if got := m.State(10); got != timeline.StateAbsent {
		t.Errorf("state after batch finished = %v, want absent", got)
	}
}

func TestLateCompletionIsDiscarded(t *testing.T) {
	src := newFakeSource()
	src.ignoreCtx = true
	m, buckets := newTestManager(t, src, 20, 24)
	key := buckets[5].Key

	stale := src.hold(key)
	first := m.RequestBucket(5)
	waitFor(t, "first fetch to start", func() bool { return src.callCount(key) == 1 })
	first.Cancel()

	fresh := src.hold(key)
	second := m.RequestBucket(5)
	if m.State(5) != timeline.StateLoading {
		t.Fatalf("re-request state = %v, want loading", m.State(5))
	}

	// the cancelled request finishes first and must not land
	close(stale)
	wait(t, first)
	if got := m.State(5); got != timeline.StateLoading {
		t.Fatalf("stale completion changed state to %v", got)
	}

	close(fresh)
	wait(t, second)
	if got := m.State(5); got != timeline.StateResident {
		t.Errorf("state = %v, want resident", got)
	}
}

func TestEvictedBucketStaysAbsentAfterLateCompletion(t *testing.T) {
	src := newFakeSource()
	src.ignoreCtx = true
	m, buckets := newTestManager(t, src, 20, 24)

	gate := src.hold(buckets[7].Key)
	b := m.RequestBucket(7)
	waitFor(t, "fetch to start", func() bool { return src.callCount(buckets[7].Key) == 1 })
	// navigating away rolls the bucket back; its fetch is still running
	m.CancelAll()
	if m.State(7) != timeline.StateAbsent {
		t.Fatalf("state = %v, want absent", m.State(7))
	}

	close(gate)
	wait(t, b)
	if got := m.State(7); got != timeline.StateAbsent {
		t.Errorf("late completion resurrected bucket: %v", got)
	}
	if len(m.ResidentItems()) != 0 {
		t.Errorf("late items were stored")
	}
}

func TestBudgetEviction(t *testing.T) {
	src := newFakeSource()
	m, _ := newTestManager(t, src, 50, 5)

	indices := make([]int, 10)
	for i := range indices {
		indices[i] = i
	}
	wait(t, m.RequestBuckets(indices))
	if n := len(m.ResidentBuckets()); n != 10 {
		t.Fatalf("resident = %d before any visible report, want 10", n)
	}

	m.ReportVisible(2, 2)
	got := m.ResidentBuckets()
	want := []int{0, 1, 2, 3, 4}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("resident after report = %v, want %v", got, want)
	}
	for _, it := range m.ResidentItems() {
		if _, b, _ := m.Item(it.ID); b > 4 {
			t.Errorf("item %s of evicted bucket %d still resident", it.ID, b)
		}
	}
}

func TestEvictionSuppressedWhileScrubbing(t *testing.T) {
	src := newFakeSource()
	m, _ := newTestManager(t, src, 50, 3)

	wait(t, m.RequestBuckets([]int{0, 1, 2, 3, 4, 5}))
	m.SetScrubbing(true)
	m.ReportVisible(40, 40)
	if n := len(m.ResidentBuckets()); n != 6 {
		t.Fatalf("evicted during scrub: %d resident", n)
	}

	m.SetScrubbing(false)
	m.ReportVisible(1, 1)
	if got := fmt.Sprint(m.ResidentBuckets()); got != "[0 1 2]" {
		t.Errorf("resident = %s, want [0 1 2]", got)
	}
}

func TestPinnedBucketIsExempt(t *testing.T) {
	src := newFakeSource()
	m, buckets := newTestManager(t, src, 50, 3)

	wait(t, m.RequestBuckets([]int{0, 1, 2, 20, 21, 22}))
	m.SetPinned(string(buckets[0].Key) + "/0")
	m.ReportVisible(21, 21)

	got := fmt.Sprint(m.ResidentBuckets())
	if got != "[0 20 21 22]" {
		t.Errorf("resident = %s, want [0 20 21 22]", got)
	}

	m.SetPinned("")
	m.ReportVisible(21, 21)
	if got := fmt.Sprint(m.ResidentBuckets()); got != "[20 21 22]" {
		t.Errorf("resident after unpin = %s", got)
	}
}

func TestKeepWindow(t *testing.T) {
	tests := []struct {
		center, n, b int
		lo, hi       int
	}{
		{300, 400, 24, 288, 311},
		{0, 400, 24, 0, 23},
		{399, 400, 24, 376, 399},
		{5, 10, 24, 0, 9},
		{2, 50, 5, 0, 4},
		{10, 50, 5, 8, 12},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d/%d", tt.center, tt.n, tt.b), func(t *testing.T) {
			lo, hi := KeepWindow(tt.center, tt.n, tt.b)
			if lo != tt.lo || hi != tt.hi {
				t.Errorf("KeepWindow = [%d,%d], want [%d,%d]", lo, hi, tt.lo, tt.hi)
			}
		})
	}
}

func TestKeepRange(t *testing.T) {
	tests := []struct {
		from, to, n, b int
		lo, hi         int
	}{
		{50, 63, 200, 24, 45, 68},
		{50, 80, 200, 24, 50, 80},
		{0, 5, 200, 24, 0, 23},
		{190, 199, 200, 24, 176, 199},
		{3, 3, 5, 24, 0, 4},
		{-4, 2, 10, 5, 0, 4},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d-%d/%d/%d", tt.from, tt.to, tt.n, tt.b), func(t *testing.T) {
			lo, hi := KeepRange(tt.from, tt.to, tt.n, tt.b)
			if lo != tt.lo || hi != tt.hi {
				t.Errorf("KeepRange = [%d,%d], want [%d,%d]", lo, hi, tt.lo, tt.hi)
			}
		})
	}
}

func TestDrawnRangeIsNeverEvicted(t *testing.T) {
	src := newFakeSource()
	m, _ := newTestManager(t, src, 100, 4)

	drawn := make([]int, 0, 10)
	for i := 40; i < 50; i++ {
		drawn = append(drawn, i)
	}
	wait(t, m.RequestBuckets(append([]int{0, 1}, drawn...)))
	m.ReportVisible(40, 49)

	if got, want := fmt.Sprint(m.ResidentBuckets()), fmt.Sprint(drawn); got != want {
		t.Errorf("resident = %s, want %s", got, want)
	}

	// narrowing the drawn range shrinks the keep-window back to the budget
	m.ReportVisible(44, 45)
	if got := fmt.Sprint(m.ResidentBuckets()); got != "[43 44 45 46]" {
		t.Errorf("resident = %s, want [43 44 45 46]", got)
	}
}

func TestSupersede(t *testing.T) {
	src := newFakeSource()
	m, buckets := newTestManager(t, src, 400, 24)
	gA := src.hold(buckets[10].Key)
	gB := src.hold(buckets[300].Key)
	defer close(gA)
	defer close(gB)

	a := m.RequestBucket(10)
	b := m.RequestBucket(300)

	n := m.Supersede(func(i int) bool { return i >= 297 && i <= 303 })
	if n != 1 {
		t.Errorf("Supersede cancelled %d batches, want 1", n)
	}
	if !a.Cancelled() || b.Cancelled() {
		t.Errorf("cancelled: a=%v b=%v", a.Cancelled(), b.Cancelled())
	}
	if m.State(10) != timeline.StateAbsent || m.State(300) != timeline.StateLoading {
		t.Errorf("states: 10=%v 300=%v", m.State(10), m.State(300))
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	src := newFakeSource()
	m, _ := newTestManager(t, src, 10, 1)

	wait(t, m.RequestBuckets([]int{0, 1}))
	snap := m.Snapshot()
	m.ReportVisible(0, 0)

	if snap.State(1) != timeline.StateResident || len(snap.Items(1)) != 1 {
		t.Errorf("snapshot changed after eviction: %v %v", snap.State(1), snap.Items(1))
	}
	if m.State(1) != timeline.StateAbsent {
		t.Errorf("bucket 1 should be evicted, got %v", m.State(1))
	}
	if snap.Count(timeline.StateResident) != 2 {
		t.Errorf("snapshot resident count = %d", snap.Count(timeline.StateResident))
	}
}

func TestScrubScenario(t *testing.T) {
	src := newFakeSource()
	m, buckets := newTestManager(t, src, 400, 24)
	src.counts[buckets[0].Key] = 5

	wait(t, m.RequestBuckets([]int{0, 1, 2}))
	if got := fmt.Sprint(m.ResidentBuckets()); got != "[0 1 2]" {
		t.Fatalf("resident = %s, want [0 1 2]", got)
	}
	m.ReportVisible(0, 0)

	// scrub to 300: eviction is off during the drag
	m.SetScrubbing(true)
	window := make([]int, 0, 7)
	for i := 297; i <= 303; i++ {
		window = append(window, i)
	}
	wait(t, m.RequestBuckets(window))
	m.SetScrubbing(false)
	m.ReportVisible(300, 300)

	// ten resident buckets fit the budget, nothing is evicted yet
	if m.State(0) != timeline.StateResident {
		t.Fatalf("bucket 0 evicted below budget")
	}

	// the end-of-scrub buffer pushes the count over the budget
	wide := make([]int, 0, 41)
	for i := 280; i <= 320; i++ {
		wide = append(wide, i)
	}
	wait(t, m.RequestBuckets(wide))
	m.ReportVisible(300, 300)

	for _, i := range []int{0, 1, 2} {
		if m.State(i) != timeline.StateAbsent {
			t.Errorf("bucket %d = %v, want absent", i, m.State(i))
		}
	}
	resident := m.ResidentBuckets()
	if len(resident) > 24 {
		t.Errorf("resident = %d, want <= 24", len(resident))
	}
	for _, i := range resident {
		if i < 288 || i > 311 {
			t.Errorf("bucket %d outside keep window is resident", i)
		}
	}
}

func TestSetBucketsResets(t *testing.T) {
	src := newFakeSource()
	m, buckets := newTestManager(t, src, 10, 24)
	gate := src.hold(buckets[4].Key)
	defer close(gate)

	wait(t, m.RequestBucket(1))
	b := m.RequestBucket(4)

	m.SetBuckets(makeBuckets(5))
	if !b.Cancelled() {
		t.Error("pending batch should be cancelled")
	}
	if len(m.ResidentBuckets()) != 0 || len(m.ResidentItems()) != 0 {
		t.Error("residency should be dropped")
	}
	waitFor(t, "batch to finish", func() bool {
		select {
		case <-b.Done():
			return true
		default:
			return false
		}
	})
}
