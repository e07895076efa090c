package tui

import (
	"sync"

	tea "charm.land/bubbletea/v2"
)

// Terminal cells map to layout pixels at two columns per pixel
// horizontally and one line per pixel vertically, which keeps tiles
// roughly square.
const colsPerPx = 2

// frameMsg carries a scheduled callback into the update loop.
type frameMsg struct{ fn func() }

// paintMsg carries a post-paint callback into the update loop.
type paintMsg struct{ fn func() }

// teaFrames schedules engine callbacks on the bubbletea update loop.
// Program.Send blocks until the loop reads the message, so sends happen
// on their own goroutine.
type teaFrames struct {
	send func(tea.Msg)
}

func (f teaFrames) RequestFrame(fn func()) { go f.send(frameMsg{fn: fn}) }
func (f teaFrames) AfterPaint(fn func())   { go f.send(paintMsg{fn: fn}) }

// termViewport is the scroll container of the grid area, in layout pixels.
type termViewport struct {
	mu     sync.Mutex
	top    int
	width  int
	height int
}

func (v *termViewport) ScrollTop() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.top
}

func (v *termViewport) SetScrollTop(off int) {
	v.mu.Lock()
	v.top = off
	v.mu.Unlock()
}

func (v *termViewport) Height() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.height
}

func (v *termViewport) Width() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.width
}

// resize sets the grid area from terminal cells.
func (v *termViewport) resize(cols, lines int) {
	v.mu.Lock()
	v.width = max(cols/colsPerPx, 1)
	v.height = max(lines, 1)
	v.mu.Unlock()
}
