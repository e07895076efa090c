package grid

import (
	"github.com/wethinkt/go-timegrid/internal/config"
	"github.com/wethinkt/go-timegrid/internal/layout"
	"github.com/wethinkt/go-timegrid/internal/residency"
	"github.com/wethinkt/go-timegrid/internal/scrubber"
	"github.com/wethinkt/go-timegrid/internal/timeline"
)

// ConfigFrom converts the user-facing grid settings into engine config.
func ConfigFrom(g config.GridConfig) Config {
	return Config{
		Layout: layout.Config{
			ColumnTargetPx: g.ColumnTargetPx,
			MinColumns:     g.MinColumns,
			HeaderHeight:   g.HeaderHeight,
			RowGapPx:       g.RowGapPx,
			ShowHeaders:    g.ShowHeaders,
		},
		Window: layout.Options{
			BufferRows:       g.BufferRows,
			LayoutBufferRows: g.LayoutBufferRows,
		},
		Residency: residency.Config{
			Budget:      g.ResidentBucketBudget,
			Concurrency: g.FetchConcurrency,
			Order:       timeline.ParseOrder(g.Order),
		},
		Scrub: scrubber.Config{
			Debounce:  g.ScrubDebounce(),
			Window:    g.ScrubWindow,
			EndWindow: g.ScrubEndWindow,
		},
	}
}
