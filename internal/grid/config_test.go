package grid

import (
	"testing"
	"time"

	"github.com/wethinkt/go-timegrid/internal/config"
	"github.com/wethinkt/go-timegrid/internal/timeline"
)

func TestConfigFrom(t *testing.T) {
	g := config.Default().Grid
	g.Order = "oldest"
	g.ScrubDebounceMs = 0

	cfg := ConfigFrom(g)
	if cfg.Layout.ColumnTargetPx != g.ColumnTargetPx || cfg.Layout.MinColumns != g.MinColumns ||
		cfg.Layout.HeaderHeight != g.HeaderHeight || cfg.Layout.RowGapPx != g.RowGapPx || !cfg.Layout.ShowHeaders {
		t.Errorf("layout = %+v", cfg.Layout)
	}
	if cfg.Window.BufferRows != g.BufferRows || cfg.Window.LayoutBufferRows != g.LayoutBufferRows {
		t.Errorf("window = %+v", cfg.Window)
	}
	if cfg.Residency.Budget != 24 || cfg.Residency.Concurrency != g.FetchConcurrency {
		t.Errorf("residency = %+v", cfg.Residency)
	}
	if cfg.Residency.Order != timeline.OrderOldestFirst {
		t.Errorf("order = %v, want oldest first", cfg.Residency.Order)
	}
	if cfg.Scrub.Debounce != 150*time.Millisecond {
		t.Errorf("debounce = %v, want 150ms default", cfg.Scrub.Debounce)
	}
	if cfg.Scrub.Window != g.ScrubWindow || cfg.Scrub.EndWindow != g.ScrubEndWindow {
		t.Errorf("scrub = %+v", cfg.Scrub)
	}
}
