package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/wethinkt/go-timegrid/internal/layout"
	"github.com/wethinkt/go-timegrid/internal/scrubber"
	"github.com/wethinkt/go-timegrid/internal/timeline"
)

func TestFit(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"abc", 5, "abc  "},
		{"abcdef", 4, "abcd"},
		{"", 2, "  "},
		{"abc", 0, ""},
		{"\x1b[1mbold\x1b[0m", 6, "bold  "},
	}
	for _, tt := range tests {
		if got := ansi.Strip(fit(tt.in, tt.width)); got != tt.want {
			t.Errorf("fit(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
	if got := center("ab", 6); got != "  ab  " {
		t.Errorf("center = %q", got)
	}
}

func TestRenderGridKinds(t *testing.T) {
	g := layout.Geometry{Width: 18, Columns: 3, RowHeight: 4, HeaderHeight: 1, Gap: 1}
	buckets := []timeline.Bucket{{Key: "2024-06-30", Count: 2}, {Key: "2024-06-29", Count: 3}, {Key: "2024-01-02", Count: 9}}
	items := []timeline.Item{{ID: "a", Color: "#ff0000"}, {ID: "b", MediaType: "video"}}
	plan := layout.RenderPlan{Items: []layout.Item{
		{Kind: layout.KindHeader, Bucket: 0, Key: "2024-06-30", Row: -1, Top: 0, Height: 1},
		{Kind: layout.KindRow, Bucket: 0, Key: "2024-06-30", Row: 0, Top: 1, Height: 4, Items: items, Slots: 2},
		{Kind: layout.KindPlaceholderHeader, Bucket: 1, Key: "2024-06-29", Row: -1, Top: 5, Height: 1},
		{Kind: layout.KindPlaceholderRow, Bucket: 1, Key: "2024-06-29", Row: 0, Top: 6, Height: 4, Slots: 3},
		{Kind: layout.KindCollapsed, Bucket: 2, Key: "2024-01-02", Row: -1, Top: 10, Height: 13},
	}}
	failed := errors.New("boom")
	f := gridFrame{
		plan:      plan,
		geom:      g,
		buckets:   buckets,
		lines:     12,
		cols:      40,
		cursor:    "a",
		pinned:    "b",
		now:       time.Date(2024, 6, 30, 9, 0, 0, 0, time.UTC),
		lastError: func(i int) error { return map[int]error{1: failed}[i] },
	}

	lines := renderGrid(f)
	if len(lines) != 12 {
		t.Fatalf("got %d lines", len(lines))
	}
	for i, l := range lines {
		if w := ansi.StringWidth(l); w != 40 {
			t.Errorf("line %d width = %d", i, w)
		}
	}
	plain := make([]string, len(lines))
	for i, l := range lines {
		plain[i] = ansi.Strip(l)
	}

	if !strings.HasPrefix(plain[0], "Today  2 items") {
		t.Errorf("header = %q", plain[0])
	}
	if !strings.Contains(plain[1], "▀") {
		t.Errorf("cursor tile top edge missing: %q", plain[1])
	}
	if !strings.Contains(plain[2], "▶★") {
		t.Errorf("video/pinned marker missing: %q", plain[2])
	}
	if strings.TrimSpace(plain[4]) != "" {
		t.Errorf("row spacing line = %q", plain[4])
	}
	if !strings.Contains(plain[5], "Yesterday") || !strings.Contains(plain[5], "failed to load") {
		t.Errorf("failed placeholder header = %q", plain[5])
	}
	if got := strings.Count(plain[6], "░"); got != 3*10 {
		t.Errorf("placeholder row has %d shade cells, want 30", got)
	}
	if !strings.HasPrefix(plain[10], "┄") || strings.TrimSpace(plain[11]) != "" {
		t.Errorf("collapsed block = %q / %q", plain[10], plain[11])
	}
}

func TestRenderScrubber(t *testing.T) {
	var buckets []timeline.Bucket
	day := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	for i := range 91 {
		buckets = append(buckets, timeline.Bucket{Key: timeline.KeyOf(day.AddDate(0, 0, -i)), Count: 1})
	}
	marks := scrubber.Marks(buckets)
	if len(marks) != 3 {
		t.Fatalf("marks = %+v", marks)
	}

	lines := renderScrubber(buckets, marks, 90, 10, scrubberCols)
	plain := make([]string, len(lines))
	for i, l := range lines {
		plain[i] = ansi.Strip(l)
		if w := ansi.StringWidth(l); w != scrubberCols {
			t.Errorf("line %d width = %d", i, w)
		}
	}
	if !strings.HasPrefix(plain[0], "├March 2024") {
		t.Errorf("first mark = %q", plain[0])
	}
	if !strings.HasPrefix(plain[9], "▶January 20") {
		t.Errorf("thumb = %q", plain[9])
	}
	if !strings.HasPrefix(plain[5], "│") {
		t.Errorf("plain track = %q", plain[5])
	}

	if got := scrubIndex(9, 10, 91); got != 90 {
		t.Errorf("scrubIndex(bottom) = %d", got)
	}
	if got := scrubIndex(0, 10, 91); got != 0 {
		t.Errorf("scrubIndex(top) = %d", got)
	}
}
