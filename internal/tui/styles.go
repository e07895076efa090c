package tui

import (
	"hash/fnv"
	"image/color"
	"sync"

	"charm.land/lipgloss/v2"
)

// Styles holds the lipgloss styles of the grid browser.
type Styles struct {
	// Top bar with the sticky date header
	TopBar   lipgloss.Style
	TopLabel lipgloss.Style
	TopInfo  lipgloss.Style

	// Grid
	Header            lipgloss.Style
	PlaceholderHeader lipgloss.Style
	Placeholder       lipgloss.Style
	Collapsed         lipgloss.Style
	Empty             lipgloss.Style
	Cursor            lipgloss.Style
	Pinned            lipgloss.Style

	// Scrubber column
	Track     lipgloss.Style
	TrackMark lipgloss.Style
	Thumb     lipgloss.Style
	Separator lipgloss.Style

	// Status bar
	Status      lipgloss.Style
	StatusError lipgloss.Style
	Help        lipgloss.Style

	// Confirm dialog
	ConfirmPrompt     lipgloss.Style
	ConfirmSelected   lipgloss.Style
	ConfirmUnselected lipgloss.Style
}

const (
	accent    = "#7aa2f7"
	textMuted = "#565f89"
	textDim   = "#3b4261"
	textMain  = "#c0caf5"
	errorFg   = "#f7768e"
	pinFg     = "#e0af68"
)

var (
	stylesOnce sync.Once
	styles     Styles
)

// GetStyles returns the browser styles.
func GetStyles() *Styles {
	stylesOnce.Do(func() {
		styles = buildStyles()
	})
	return &styles
}

func buildStyles() Styles {
	return Styles{
		TopBar:   lipgloss.NewStyle().Background(lipgloss.Color("#1f2335")),
		TopLabel: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(accent)).Background(lipgloss.Color("#1f2335")).Padding(0, 1),
		TopInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color(textMuted)).Background(lipgloss.Color("#1f2335")),

		Header:            lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(textMain)),
		PlaceholderHeader: lipgloss.NewStyle().Foreground(lipgloss.Color(textMuted)),
		Placeholder:       lipgloss.NewStyle().Foreground(lipgloss.Color(textDim)),
		Collapsed:         lipgloss.NewStyle().Foreground(lipgloss.Color(textDim)).Faint(true),
		Empty:             lipgloss.NewStyle().Foreground(lipgloss.Color(textDim)),
		Cursor:            lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffffff")),
		Pinned:            lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(pinFg)),

		Track:     lipgloss.NewStyle().Foreground(lipgloss.Color(textDim)),
		TrackMark: lipgloss.NewStyle().Foreground(lipgloss.Color(textMuted)),
		Thumb:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(accent)),
		Separator: lipgloss.NewStyle().Foreground(lipgloss.Color(textDim)),

		Status:      lipgloss.NewStyle().Foreground(lipgloss.Color(textMain)),
		StatusError: lipgloss.NewStyle().Foreground(lipgloss.Color(errorFg)),
		Help:        lipgloss.NewStyle().Foreground(lipgloss.Color(textMuted)),

		ConfirmPrompt:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(textMain)),
		ConfirmSelected:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1a1b26")).Background(lipgloss.Color(accent)).Padding(0, 2),
		ConfirmUnselected: lipgloss.NewStyle().Foreground(lipgloss.Color(textMuted)).Padding(0, 2),
	}
}

// tileColor returns the tile background for an item: its stored average
// colour, or one derived from its id.
func tileColor(id, stored string) color.Color {
	if len(stored) == 7 && stored[0] == '#' {
		return lipgloss.Color(stored)
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	palette := [...]string{"#2d4f67", "#4a3f5c", "#3f5c4a", "#5c4a3f", "#3f4a5c", "#5c3f4a", "#4f5d2f", "#2f5d5a"}
	return lipgloss.Color(palette[h.Sum32()%uint32(len(palette))])
}
