package tui

import (
	"math"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/x/ansi"

	"github.com/wethinkt/go-timegrid/internal/i18n"
	"github.com/wethinkt/go-timegrid/internal/layout"
	"github.com/wethinkt/go-timegrid/internal/scrubber"
	"github.com/wethinkt/go-timegrid/internal/timeline"
)

// scrubberCols is the width of the scrubber column, separator excluded.
const scrubberCols = 12

// gridFrame is everything needed to draw one frame of the grid area.
type gridFrame struct {
	plan      layout.RenderPlan
	geom      layout.Geometry
	buckets   []timeline.Bucket
	scrollTop int
	lines     int
	cols      int
	cursor    string
	pinned    string
	now       time.Time
	// state and lastError describe absent buckets; either may be nil.
	state     func(bucket int) timeline.ResidencyState
	lastError func(bucket int) error
}

// renderGrid draws the grid area line by line. Plan items are sorted by
// offset, so one forward walk covers the viewport.
func renderGrid(f gridFrame) []string {
	out := make([]string, max(f.lines, 0))
	items := f.plan.Items
	j := 0
	for y := range out {
		abs := f.scrollTop + y
		for j < len(items) && items[j].Bottom() <= abs {
			j++
		}
		var line string
		if j < len(items) && items[j].Top <= abs {
			line = f.renderLine(items[j], abs-items[j].Top)
		}
		out[y] = fit(line, f.cols)
	}
	return out
}

func (f gridFrame) renderLine(it layout.Item, dy int) string {
	st := GetStyles()
	switch it.Kind {
	case layout.KindHeader:
		if dy != 0 {
			return ""
		}
		return st.Header.Render(f.headerLabel(it))
	case layout.KindPlaceholderHeader:
		if dy != 0 {
			return ""
		}
		label := st.PlaceholderHeader.Render(f.headerLabel(it))
		if f.lastError != nil && f.lastError(it.Bucket) != nil {
			return label + " " + st.StatusError.Render(i18n.T("grid.failed", "failed to load"))
		}
		if f.state != nil && f.state(it.Bucket) == timeline.StateLoading {
			return label + " " + st.Placeholder.Render(i18n.T("common.loading", "Loading..."))
		}
		return label
	case layout.KindRow:
		return f.rowLine(it, dy)
	case layout.KindPlaceholderRow:
		if !f.tileLine(dy) {
			return ""
		}
		w, gap := f.tileCols()
		cell := st.Placeholder.Render(strings.Repeat("░", w)) + strings.Repeat(" ", gap)
		return strings.Repeat(cell, it.Slots)
	case layout.KindCollapsed:
		if dy == 0 {
			return st.Collapsed.Render("┄")
		}
	}
	return ""
}

func (f gridFrame) headerLabel(it layout.Item) string {
	label := it.Key.String()
	if t, err := it.Key.Time(); err == nil {
		label = i18n.DayLabel(t, f.now)
	}
	if it.Bucket >= 0 && it.Bucket < len(f.buckets) {
		n := f.buckets[it.Bucket].Count
		label += "  " + i18n.Tn("grid.items", "{{.Count}} item", "{{.Count}} items", n)
	}
	return label
}

// tileCols returns the tile width and the horizontal gap in columns.
func (f gridFrame) tileCols() (int, int) {
	cell := f.geom.CellWidth() * colsPerPx
	gap := min(f.geom.Gap*colsPerPx, cell-1)
	return max(cell-gap, 1), max(gap, 0)
}

// tileLine reports whether row line dy is drawn; the last line of a row
// is left blank as vertical spacing.
func (f gridFrame) tileLine(dy int) bool {
	return f.geom.RowHeight <= 1 || dy < f.geom.RowHeight-1
}

func (f gridFrame) rowLine(it layout.Item, dy int) string {
	if !f.tileLine(dy) {
		return ""
	}
	st := GetStyles()
	w, gap := f.tileCols()
	mid := (f.geom.RowHeight - 1) / 2
	if f.geom.RowHeight > 1 {
		mid = (f.geom.RowHeight - 2) / 2
	}

	var b strings.Builder
	for _, item := range it.Items {
		style := lipgloss.NewStyle().Background(tileColor(item.ID, item.Color))
		text := ""
		if dy == mid {
			text = tileMarker(item, item.ID == f.pinned)
		}
		if item.ID == f.cursor {
			style = st.Cursor.Background(tileColor(item.ID, item.Color))
			if dy == 0 || dy == max(f.geom.RowHeight-2, 0) {
				text = strings.Repeat("▀", w)
				if dy != 0 {
					text = strings.Repeat("▄", w)
				}
			} else if text == "" {
				text = "•"
			}
		}
		b.WriteString(style.Render(center(text, w)))
		b.WriteString(strings.Repeat(" ", gap))
	}
	for range it.Slots - len(it.Items) {
		b.WriteString(st.Empty.Render(strings.Repeat("·", w)))
		b.WriteString(strings.Repeat(" ", gap))
	}
	return b.String()
}

func tileMarker(it timeline.Item, pinned bool) string {
	var s string
	if it.MediaType == "video" {
		s = "▶"
	}
	if pinned {
		s += "★"
	}
	return s
}

// renderScrubber draws the scrubber column: a track with month marks and
// a thumb at the first visible bucket.
func renderScrubber(buckets []timeline.Bucket, marks []scrubber.Mark, thumb, lines, width int) []string {
	st := GetStyles()
	out := make([]string, max(lines, 0))
	if len(out) == 0 {
		return out
	}
	for y := range out {
		out[y] = st.Track.Render("│")
	}
	n := len(buckets)
	track := float64(lines - 1)
	taken := make(map[int]bool)
	for _, m := range marks {
		y := int(math.Round(scrubber.OffsetOf(m.Index, track, n)))
		if y < 0 || y >= lines || taken[y] {
			continue
		}
		taken[y] = true
		out[y] = st.TrackMark.Render("├" + ansi.Truncate(m.Label, width-1, ""))
	}
	if thumb >= 0 && thumb < n {
		y := int(math.Round(scrubber.OffsetOf(thumb, track, n)))
		y = min(max(y, 0), lines-1)
		out[y] = st.Thumb.Render("▶" + ansi.Truncate(scrubber.Label(buckets[thumb].Key), width-1, ""))
	}
	for y := range out {
		out[y] = fit(out[y], width)
	}
	return out
}

// scrubIndex maps a line within the scrubber column to a bucket index.
func scrubIndex(y, lines, n int) int {
	return scrubber.IndexAt(float64(y), float64(lines-1), n)
}

// fit truncates or pads s to exactly width cells.
func fit(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = ansi.Truncate(s, width, "")
	if w := ansi.StringWidth(s); w < width {
		s += strings.Repeat(" ", width-w)
	}
	return s
}

func center(s string, width int) string {
	s = ansi.Truncate(s, width, "")
	pad := width - ansi.StringWidth(s)
	if pad <= 0 {
		return s
	}
	return strings.Repeat(" ", pad/2) + s + strings.Repeat(" ", pad-pad/2)
}
