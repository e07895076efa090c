package timeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want BucketKey
	}{
		{"2024-03-01", "2024-03-01"},
		{"2024-03-01T10:00:00Z", "2024-03-01"},
		{"2024-03-01T00:00:00.000+02:00", "2024-03-01"},
		{"2024-03-01 23:59:59", "2024-03-01"},
		{" 2024-03-01 ", "2024-03-01"},
		{"2024-03", "2024-03"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeKey(tt.in); got != tt.want {
				t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBucketKeyTime(t *testing.T) {
	k := BucketKey("2023-12-31T08:00:00Z")
	got, err := k.Time()
	if err != nil {
		t.Fatalf("Time() error: %v", err)
	}
	if got.Year() != 2023 || got.Month() != time.December || got.Day() != 31 {
		t.Errorf("Time() = %v", got)
	}
	if BucketKey("yesterday").Valid() {
		t.Error("non-date key should be invalid")
	}
}

func TestSortItems(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	items := []Item{
		{ID: "b", TakenAt: base},
		{ID: "c", TakenAt: base.Add(time.Hour)},
		{ID: "a", TakenAt: base},
	}

	SortItems(items, OrderNewestFirst)
	if items[0].ID != "c" || items[1].ID != "a" || items[2].ID != "b" {
		t.Errorf("newest first = %v", ids(items))
	}

	SortItems(items, OrderOldestFirst)
	if items[0].ID != "a" || items[1].ID != "b" || items[2].ID != "c" {
		t.Errorf("oldest first = %v", ids(items))
	}
}

func TestSortBuckets(t *testing.T) {
	b := []Bucket{{Key: "2024-01-02"}, {Key: "2024-01-03"}, {Key: "2024-01-01"}}
	SortBuckets(b, OrderNewestFirst)
	if b[0].Key != "2024-01-03" || b[2].Key != "2024-01-01" {
		t.Errorf("SortBuckets desc = %v", b)
	}
}

func TestFilterValuesRoundTrip(t *testing.T) {
	f := Filter{Album: "trip", MediaType: "video"}
	if got := FilterFromValues(f.Values()); got != f {
		t.Errorf("round trip = %+v, want %+v", got, f)
	}
	if (Filter{}).Key() != "" {
		t.Error("empty filter key should be empty")
	}
}

func TestResultOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"ok", nil, OutcomeOK},
		{"cancelled sentinel", fmt.Errorf("x: %w", ErrFetchCancelled), OutcomeCancelled},
		{"context canceled", context.Canceled, OutcomeCancelled},
		{"failed", ErrFetchFailed, OutcomeFailed},
		{"malformed", ErrMalformedResponse, OutcomeFailed},
		{"deadline", context.DeadlineExceeded, OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResultOf(nil, tt.err).Outcome; got != tt.want {
				t.Errorf("ResultOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestValidateItems(t *testing.T) {
	items, err := ValidateItems("2024-03-01", []Item{{ID: "a"}, {ID: "b", Bucket: "2024-03-01"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items[0].Bucket != "2024-03-01" || items[1].Bucket != "2024-03-01" {
		t.Errorf("items not tagged: %q %q", items[0].Bucket, items[1].Bucket)
	}

	if _, err := ValidateItems("2024-03-01", []Item{{ID: "a"}, {ID: "b", Bucket: "2024-03-02"}}); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("foreign bucket error = %v, want ErrMalformedResponse", err)
	}

	if _, err := ValidateItems("2024-03-01", []Item{{ID: "a"}, {}}); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("missing id error = %v, want ErrMalformedResponse", err)
	}
	if _, err := ValidateItems("2024-03-01", nil); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("nil list error = %v, want ErrMalformedResponse", err)
	}
	if got, err := ValidateItems("2024-03-01", []Item{}); err != nil || len(got) != 0 {
		t.Errorf("empty list = %v, %v", got, err)
	}
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
