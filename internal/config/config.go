// Package config provides application configuration management for timegrid.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds the timegrid configuration.
type Config struct {
	Language string        `json:"language,omitempty"` // UI language, e.g. "de"
	Grid     GridConfig    `json:"grid"`               // Grid layout and residency tuning
	Library  LibraryConfig `json:"library"`            // Local library settings
	Server   ServerConfig  `json:"server"`             // API server settings
}

// GridConfig holds the grid engine tuning knobs.
type GridConfig struct {
	ColumnTargetPx       int    `json:"columnTargetPx"`
	MinColumns           int    `json:"minColumns"`
	HeaderHeight         int    `json:"headerHeight"`
	RowGapPx             int    `json:"rowGapPx"`
	BufferRows           int    `json:"bufferRows"`
	LayoutBufferRows     int    `json:"layoutBufferRows"`
	ResidentBucketBudget int    `json:"residentBucketBudget"`
	ScrubDebounceMs      int    `json:"scrubDebounceMs"`
	ScrubWindow          int    `json:"scrubWindow"`
	ScrubEndWindow       int    `json:"scrubEndWindow"`
	FetchConcurrency     int    `json:"fetchConcurrency"`
	Order                string `json:"order"` // "newest" or "oldest"
	ShowHeaders          bool   `json:"showHeaders"`
}

// ScrubDebounce returns the scrub debounce as a duration (default: 150ms).
func (g GridConfig) ScrubDebounce() time.Duration {
	if g.ScrubDebounceMs <= 0 {
		return 150 * time.Millisecond
	}
	return time.Duration(g.ScrubDebounceMs) * time.Millisecond
}

// LibraryConfig holds local library settings.
type LibraryConfig struct {
	Path     string   `json:"path,omitempty"` // DuckDB file (empty = ~/.timegrid/library.duckdb)
	Dirs     []string `json:"dirs"`           // Directories indexed by default
	Debounce string   `json:"debounce"`       // Watcher debounce (e.g. "500ms")
	Colors   bool     `json:"colors"`         // Compute average colours while indexing
}

// DebounceDuration returns the parsed debounce duration (default: 500ms).
func (c LibraryConfig) DebounceDuration() time.Duration {
	if c.Debounce != "" {
		if d, err := time.ParseDuration(c.Debounce); err == nil {
			return d
		}
	}
	return 500 * time.Millisecond
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	CORSOrigin string `json:"cors_origin,omitempty"`
}

// Dir returns the path to the .timegrid directory. TIMEGRID_HOME overrides it.
func Dir() (string, error) {
	if dir := os.Getenv("TIMEGRID_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".timegrid"), nil
}

// Path returns the path to the main config file.
func Path() (string, error) {
	configDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.json"), nil
}

// Load loads the configuration from ~/.timegrid/config.json.
func Load() (Config, error) {
	configPath, err := Path()
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		cfg := Default()
		if saveErr := Save(cfg); saveErr != nil {
			return cfg, nil // return defaults even if save fails
		}
		return cfg, nil
	} else if err != nil {
		return Config{}, err
	}

	// Start from defaults so missing keys keep their default values.
	config := Default()
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, err
	}
	config.Grid = config.Grid.normalized()
	return config, nil
}

// normalized replaces out-of-range values with defaults.
func (g GridConfig) normalized() GridConfig {
	d := Default().Grid
	if g.ColumnTargetPx <= 0 {
		g.ColumnTargetPx = d.ColumnTargetPx
	}
	if g.MinColumns <= 0 {
		g.MinColumns = d.MinColumns
	}
	if g.HeaderHeight < 0 {
		g.HeaderHeight = d.HeaderHeight
	}
	if g.RowGapPx < 0 {
		g.RowGapPx = 0
	}
	if g.BufferRows < 0 {
		g.BufferRows = d.BufferRows
	}
	if g.LayoutBufferRows < g.BufferRows {
		g.LayoutBufferRows = g.BufferRows
	}
	if g.ResidentBucketBudget <= 0 {
		g.ResidentBucketBudget = d.ResidentBucketBudget
	}
	if g.ScrubWindow < 0 {
		g.ScrubWindow = d.ScrubWindow
	}
	if g.ScrubEndWindow < g.ScrubWindow {
		g.ScrubEndWindow = max(g.ScrubWindow, d.ScrubEndWindow)
	}
	if g.FetchConcurrency <= 0 {
		g.FetchConcurrency = d.FetchConcurrency
	}
	if g.Order != "newest" && g.Order != "oldest" {
		g.Order = d.Order
	}
	return g
}

// Default returns a default configuration with all defaults set.
func Default() Config {
	return Config{
		Grid: GridConfig{
			ColumnTargetPx:       200,
			MinColumns:           2,
			HeaderHeight:         48,
			RowGapPx:             4,
			BufferRows:           3,
			LayoutBufferRows:     12,
			ResidentBucketBudget: 24,
			ScrubDebounceMs:      150,
			ScrubWindow:          2,
			ScrubEndWindow:       6,
			FetchConcurrency:     4,
			Order:                "newest",
			ShowHeaders:          true,
		},
		Library: LibraryConfig{
			Dirs:     []string{},
			Debounce: "500ms",
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8785,
		},
	}
}

// Save saves the configuration to ~/.timegrid/config.json.
func Save(config Config) error {
	configPath, err := Path()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}
