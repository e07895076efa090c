package layout

import "github.com/wethinkt/go-timegrid/internal/timeline"

// flatResidency serves a list of already loaded items as fully resident
// buckets.
type flatResidency struct {
	groups [][]timeline.Item
}

func (f flatResidency) State(i int) timeline.ResidencyState {
	if i < 0 || i >= len(f.groups) {
		return timeline.StateAbsent
	}
	return timeline.StateResident
}

func (f flatResidency) Items(i int) []timeline.Item {
	if i < 0 || i >= len(f.groups) {
		return nil
	}
	return f.groups[i]
}

// GroupByBucket splits an ordered item list into runs of equal bucket key.
// Items without a bucket key are keyed by their capture day.
func GroupByBucket(items []timeline.Item) ([]timeline.Bucket, [][]timeline.Item) {
	var (
		buckets []timeline.Bucket
		groups  [][]timeline.Item
	)
	for _, it := range items {
		key := timeline.NormalizeKey(string(it.Bucket))
		if key == "" {
			key = timeline.KeyOf(it.TakenAt)
		}
		it.Bucket = key
		if n := len(buckets); n > 0 && buckets[n-1].Key == key {
			buckets[n-1].Count++
			groups[n-1] = append(groups[n-1], it)
			continue
		}
		buckets = append(buckets, timeline.Bucket{Key: key, Count: 1})
		groups = append(groups, []timeline.Item{it})
	}
	return buckets, groups
}

// PlanFlat lays out a flat list of loaded items, for hosts that have no
// bucket metadata. Every bucket it derives is resident, so the plan never
// contains placeholders.
func PlanFlat(items []timeline.Item, g Geometry, vp Viewport, opts Options) (RenderPlan, *Skeleton) {
	buckets, groups := GroupByBucket(items)
	sk := ComputeSkeleton(buckets, g)
	return Plan(sk, vp, flatResidency{groups: groups}, opts), sk
}
