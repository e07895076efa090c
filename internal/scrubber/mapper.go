// Package scrubber maps the vertical scrubber track to bucket indices and
// drives residency and scrolling during a drag.
package scrubber

import (
	"math"
	"time"

	"github.com/wethinkt/go-timegrid/internal/i18n"
	"github.com/wethinkt/go-timegrid/internal/timeline"
)

// IndexAt maps a track position to a bucket index in [0, n-1], or -1 when
// there are no buckets.
func IndexAt(y, trackHeight float64, n int) int {
	if n <= 0 {
		return -1
	}
	if trackHeight <= 0 || n == 1 {
		return 0
	}
	f := min(max(y/trackHeight, 0), 1)
	return min(int(math.Floor(f*float64(n-1)+1e-9)), n-1)
}

// OffsetOf is the inverse of IndexAt: the track position of index.
func OffsetOf(index int, trackHeight float64, n int) float64 {
	if n <= 1 || trackHeight <= 0 {
		return 0
	}
	index = min(max(index, 0), n-1)
	return float64(index) / float64(n-1) * trackHeight
}

// Label returns the localized "Month Year" label for key, or the raw key
// when it does not parse.
func Label(key timeline.BucketKey) string {
	t, err := key.Time()
	if err != nil {
		return key.String()
	}
	return i18n.MonthYear(t)
}

// Mark is a month boundary on the track.
type Mark struct {
	Index int
	Month time.Time
	Label string
}

// Marks returns one mark for the first bucket of every month in buckets,
// which must already be in display order.
func Marks(buckets []timeline.Bucket) []Mark {
	var marks []Mark
	var last time.Time
	for i, b := range buckets {
		t, err := b.Key.Time()
		if err != nil {
			continue
		}
		month := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		if len(marks) > 0 && month.Equal(last) {
			continue
		}
		last = month
		marks = append(marks, Mark{Index: i, Month: month, Label: i18n.MonthYear(month)})
	}
	return marks
}
