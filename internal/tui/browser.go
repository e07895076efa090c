package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/wethinkt/go-timegrid/internal/api"
	"github.com/wethinkt/go-timegrid/internal/grid"
	"github.com/wethinkt/go-timegrid/internal/i18n"
	"github.com/wethinkt/go-timegrid/internal/layout"
	"github.com/wethinkt/go-timegrid/internal/scrubber"
	"github.com/wethinkt/go-timegrid/internal/source"
	"github.com/wethinkt/go-timegrid/internal/timeline"
	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

// BrowserOptions configures the grid browser.
type BrowserOptions struct {
	Grid grid.Config
	// Clock drives the scrubber debounce; nil uses the runtime timer.
	Clock scrubber.Clock
	// EventsURL, when set, is a server event socket watched for library
	// changes.
	EventsURL string
	Token     string
	// Title is shown in the terminal window title.
	Title string
	Now   func() time.Time
}

// TerminalLayout is the layout config used for terminal cells. Residency
// and scrub settings are kept from cfg.
func TerminalLayout(cfg grid.Config) grid.Config {
	cfg.Layout = layout.Config{
		ColumnTargetPx: 6,
		MinColumns:     2,
		HeaderHeight:   1,
		RowGapPx:       1,
		ShowHeaders:    cfg.Layout.ShowHeaders,
	}
	cfg.Window = layout.Options{BufferRows: 2, LayoutBufferRows: 8}
	return cfg
}

var mediaFilters = []string{"", "image", "video"}

type (
	loadedMsg    struct{ err error }
	visibleMsg   struct{ key timeline.BucketKey }
	settledMsg   struct{ index int }
	activatedMsg struct {
		item timeline.Item
		rect timeline.Rect
	}
	libraryMsg struct {
		ev api.Event
		ok bool
	}
)

// Browser is the bubbletea model of the timeline grid.
type Browser struct {
	ctx    context.Context
	src    timeline.Source
	opts   BrowserOptions
	engine *grid.Engine
	vp     *termViewport
	keys   browserKeyMap
	spin   spinner.Model
	post   func(tea.Msg)
	events <-chan api.Event
	log    *tuilog.Logger

	width, height int
	loaded        bool
	loading       bool
	err           error
	status        string
	cursor        string
	filter        int
	dragging      bool
	marks         []scrubber.Mark
	visible       timeline.BucketKey
}

// NewBrowser returns a browser over src. SetSender must be called before
// the program starts.
func NewBrowser(ctx context.Context, src timeline.Source, opts BrowserOptions) *Browser {
	if opts.Clock == nil {
		opts.Clock = scrubber.RealClock
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &Browser{
		ctx:  ctx,
		src:  src,
		opts: opts,
		vp:   &termViewport{},
		keys: defaultBrowserKeyMap(),
		spin: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(GetStyles().TopLabel),
		),
		post: func(tea.Msg) {},
		log:  tuilog.Log.With("browser"),
	}
	for i, f := range mediaFilters {
		if f == opts.Grid.Residency.Filter.MediaType {
			b.filter = i
		}
	}
	frames := teaFrames{send: func(msg tea.Msg) { b.post(msg) }}
	b.engine = grid.New(src, b.vp, frames, opts.Clock, opts.Grid, grid.Events{
		VisibleBucketChanged: func(key timeline.BucketKey) { go b.post(visibleMsg{key: key}) },
		ItemActivated: func(it timeline.Item, rect timeline.Rect) {
			go b.post(activatedMsg{item: it, rect: rect})
		},
	})
	b.engine.Scrubber().OnSettled(func(index int) { go b.post(settledMsg{index: index}) })
	if opts.EventsURL != "" {
		b.events = source.WatchEvents(ctx, opts.EventsURL, opts.Token)
	}
	return b
}

// SetSender routes engine callbacks into the program, normally
// Program.Send.
func (b *Browser) SetSender(send func(tea.Msg)) { b.post = send }

// Engine returns the grid engine.
func (b *Browser) Engine() *grid.Engine { return b.engine }

// RunBrowser runs the browser until the user quits or ctx ends.
func RunBrowser(ctx context.Context, src timeline.Source, opts BrowserOptions, progOpts ...tea.ProgramOption) error {
	b := NewBrowser(ctx, src, opts)
	defer b.engine.Close()
	p := tea.NewProgram(b, append([]tea.ProgramOption{tea.WithContext(ctx)}, progOpts...)...)
	b.SetSender(p.Send)
	_, err := p.Run()
	return err
}

func (b *Browser) Init() tea.Cmd {
	return tea.Batch(b.spin.Tick, b.waitEvent())
}

func (b *Browser) waitEvent() tea.Cmd {
	if b.events == nil {
		return nil
	}
	ch := b.events
	return func() tea.Msg {
		ev, ok := <-ch
		return libraryMsg{ev: ev, ok: ok}
	}
}

func (b *Browser) load(fn func(context.Context) error) tea.Cmd {
	b.loading = true
	ctx := b.ctx
	return func() tea.Msg {
		return loadedMsg{err: fn(ctx)}
	}
}

func (b *Browser) gridCols() int  { return max(b.width-scrubberCols-1, 1) }
func (b *Browser) gridLines() int { return max(b.height-2, 1) }

func (b *Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.width, b.height = msg.Width, msg.Height
		b.vp.resize(b.gridCols(), b.gridLines())
		if !b.loaded && !b.loading {
			return b, b.load(b.engine.Load)
		}
		if b.loaded {
			b.engine.OnResize()
		}
		return b, nil

	case loadedMsg:
		b.loading = false
		b.loaded = true
		b.err = msg.err
		b.marks = scrubber.Marks(b.engine.Buckets())
		if msg.err != nil {
			b.log.Error("load failed", "error", msg.err)
		}
		return b, nil

	case frameMsg:
		msg.fn()
		return b, nil

	case paintMsg:
		msg.fn()
		return b, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		b.spin, cmd = b.spin.Update(msg)
		return b, cmd

	case visibleMsg:
		b.visible = msg.key
		return b, nil

	case settledMsg:
		b.status = ""
		return b, nil

	case activatedMsg:
		b.status = fmt.Sprintf("%s  %dx%d  %s", msg.item.Path, msg.item.Width, msg.item.Height,
			msg.item.TakenAt.Format(time.DateTime))
		return b, nil

	case libraryMsg:
		if !msg.ok {
			return b, nil
		}
		if msg.ev.Type == api.EventBucketsChanged || msg.ev.Type == api.EventItemRemoved {
			b.status = i18n.T("browser.libraryChanged", "Library changed, press r to reload")
		}
		return b, b.waitEvent()

	case tea.KeyPressMsg:
		return b.handleKey(msg)

	case tea.MouseWheelMsg:
		switch msg.Mouse().Button {
		case tea.MouseWheelUp:
			b.engine.ScrollBy(-3)
		case tea.MouseWheelDown:
			b.engine.ScrollBy(3)
		}
		return b, nil

	case tea.MouseClickMsg:
		m := msg.Mouse()
		if m.Button != tea.MouseLeft {
			return b, nil
		}
		if y := m.Y - 1; y >= 0 && y < b.gridLines() {
			if m.X > b.gridCols() {
				b.dragging = true
				b.status = ""
				b.engine.Scrubber().OnScrub(scrubIndex(y, b.gridLines(), len(b.engine.Buckets())))
			} else if it, ok := b.engine.ItemAt(m.X/colsPerPx, y); ok {
				b.cursor = it.ID
			}
		}
		return b, nil

	case tea.MouseMotionMsg:
		if b.dragging {
			y := min(max(msg.Mouse().Y-1, 0), b.gridLines()-1)
			b.engine.Scrubber().OnScrub(scrubIndex(y, b.gridLines(), len(b.engine.Buckets())))
		}
		return b, nil

	case tea.MouseReleaseMsg:
		if b.dragging {
			b.dragging = false
			y := min(max(msg.Mouse().Y-1, 0), b.gridLines()-1)
			b.engine.Scrubber().OnScrubEnd(scrubIndex(y, b.gridLines(), len(b.engine.Buckets())))
		}
		return b, nil
	}
	return b, nil
}

func (b *Browser) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	sk := b.engine.Skeleton()
	row := 1
	if sk != nil {
		row = sk.Geometry().RowHeight
	}
	switch {
	case key.Matches(msg, b.keys.Quit):
		return b, tea.Quit
	case key.Matches(msg, b.keys.Up):
		b.engine.ScrollBy(-row)
	case key.Matches(msg, b.keys.Down):
		b.engine.ScrollBy(row)
	case key.Matches(msg, b.keys.PgUp):
		b.engine.ScrollBy(-b.vp.Height())
	case key.Matches(msg, b.keys.PgDown):
		b.engine.ScrollBy(b.vp.Height())
	case key.Matches(msg, b.keys.Home):
		b.engine.ScrollToBucket(0)
	case key.Matches(msg, b.keys.End):
		if sk != nil {
			b.engine.ScrollToBucket(sk.Len() - 1)
		}
	case key.Matches(msg, b.keys.PrevDay):
		b.stepDay(-1)
	case key.Matches(msg, b.keys.NextDay):
		b.stepDay(1)
	case key.Matches(msg, b.keys.Left):
		b.moveCursor(-1)
	case key.Matches(msg, b.keys.Right):
		b.moveCursor(1)
	case key.Matches(msg, b.keys.Activate):
		if b.cursor != "" && !b.engine.Activate(b.cursor) {
			b.status = i18n.T("browser.notResident", "Item is not loaded")
		}
	case key.Matches(msg, b.keys.Pin):
		b.togglePin()
	case key.Matches(msg, b.keys.Filter):
		b.filter = (b.filter + 1) % len(mediaFilters)
		f := b.engine.Filter()
		f.MediaType = mediaFilters[b.filter]
		b.status = ""
		return b, b.load(func(ctx context.Context) error { return b.engine.SetFilter(ctx, f) })
	case key.Matches(msg, b.keys.Reload):
		b.status = ""
		return b, b.load(b.engine.Load)
	}
	return b, nil
}

// stepDay scrolls to the previous or next day header. Going back from
// inside a day first returns to that day's top.
func (b *Browser) stepDay(dir int) {
	sk := b.engine.Skeleton()
	first := sk.BucketAt(b.vp.ScrollTop())
	if first < 0 {
		return
	}
	target := first + dir
	if dir < 0 {
		if ext, ok := sk.Extent(first); ok && b.vp.ScrollTop() > ext.Top {
			target = first
		}
	}
	b.engine.ScrollToBucket(min(max(target, 0), sk.Len()-1))
}

// visibleItems lists the items of rows inside the viewport, in reading
// order.
func (b *Browser) visibleItems() []timeline.Item {
	plan := b.engine.Plan()
	top := b.vp.ScrollTop()
	bottom := top + b.vp.Height()
	var out []timeline.Item
	for _, it := range plan.Items {
		if it.Kind != layout.KindRow || it.Bottom() <= top || it.Top >= bottom {
			continue
		}
		out = append(out, it.Items...)
	}
	return out
}

func (b *Browser) moveCursor(delta int) {
	items := b.visibleItems()
	if len(items) == 0 {
		return
	}
	idx := -1
	for i, it := range items {
		if it.ID == b.cursor {
			idx = i
			break
		}
	}
	switch {
	case idx < 0 && delta > 0:
		b.cursor = items[0].ID
	case idx < 0:
		b.cursor = items[len(items)-1].ID
	case idx+delta < 0 || idx+delta >= len(items):
		if sk := b.engine.Skeleton(); sk != nil {
			b.engine.ScrollBy(delta * sk.Geometry().RowHeight)
		}
	default:
		b.cursor = items[idx+delta].ID
	}
}

func (b *Browser) togglePin() {
	if b.cursor == "" {
		return
	}
	if b.engine.Pinned() == b.cursor {
		b.engine.Pin("")
		b.status = i18n.T("browser.unpinned", "Unpinned")
		return
	}
	b.engine.Pin(b.cursor)
	b.status = i18n.T("browser.pinned", "Pinned")
}

func (b *Browser) View() tea.View {
	if b.width == 0 || !b.loaded {
		v := tea.NewView(b.spin.View() + " " + i18n.T("common.loading", "Loading..."))
		v.AltScreen = true
		return v
	}
	st := GetStyles()
	sk := b.engine.Skeleton()
	plan := b.engine.Plan()
	buckets := b.engine.Buckets()
	snap := b.engine.Residency()

	frame := gridFrame{
		plan:      plan,
		geom:      sk.Geometry(),
		buckets:   buckets,
		scrollTop: b.vp.ScrollTop(),
		lines:     b.gridLines(),
		cols:      b.gridCols(),
		cursor:    b.cursor,
		pinned:    b.engine.Pinned(),
		now:       b.opts.Now(),
		state:     snap.State,
		lastError: b.engine.LastError,
	}

	var sb strings.Builder
	sb.WriteString(b.topBar(frame, snap.Count(timeline.StateLoading) > 0))
	sb.WriteByte('\n')

	rows := renderGrid(frame)
	track := renderScrubber(buckets, b.marks, plan.FirstVisible, frame.lines, scrubberCols)
	sep := st.Separator.Render("│")
	for i := range rows {
		sb.WriteString(rows[i])
		sb.WriteString(sep)
		sb.WriteString(track[i])
		sb.WriteByte('\n')
	}
	sb.WriteString(b.statusLine())

	v := tea.NewView(sb.String())
	v.AltScreen = true
	v.MouseMode = tea.MouseModeCellMotion
	v.WindowTitle = b.opts.Title
	if b.visible != "" {
		v.WindowTitle = strings.TrimSpace(b.opts.Title + " " + b.visible.String())
	}
	return v
}

func (b *Browser) topBar(f gridFrame, fetching bool) string {
	st := GetStyles()
	label := ""
	if f.plan.Sticky != nil {
		label = f.headerLabel(*f.plan.Sticky)
	}
	total := 0
	for _, bk := range f.buckets {
		total += bk.Count
	}
	info := i18n.Tf("browser.summary", "%[1]s days, %[2]s items",
		humanize.Comma(int64(len(f.buckets))), humanize.Comma(int64(total)))
	if mt := mediaFilters[b.filter]; mt != "" {
		info += "  [" + mt + "]"
	}
	if fetching {
		info = b.spin.View() + " " + info
	}
	left := st.TopLabel.Render(label)
	right := st.TopInfo.Render(info + " ")
	gap := b.width - ansi.StringWidth(left) - ansi.StringWidth(right)
	return st.TopBar.Render(fit(left+strings.Repeat(" ", max(gap, 1))+right, b.width))
}

func (b *Browser) statusLine() string {
	st := GetStyles()
	switch {
	case b.err != nil:
		return fit(st.StatusError.Render(b.err.Error()), b.width)
	case b.status != "":
		return fit(st.Status.Render(b.status), b.width)
	}
	bindings := []key.Binding{b.keys.Down, b.keys.NextDay, b.keys.Right, b.keys.Activate, b.keys.Pin, b.keys.Filter, b.keys.Reload, b.keys.Quit}
	parts := make([]string, 0, len(bindings))
	for _, k := range bindings {
		h := k.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return fit(st.Help.Render(strings.Join(parts, "  ")), b.width)
}
