package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wethinkt/go-timegrid/internal/grid"
	"github.com/wethinkt/go-timegrid/internal/library"
	"github.com/wethinkt/go-timegrid/internal/server"
	"github.com/wethinkt/go-timegrid/internal/source"
	"github.com/wethinkt/go-timegrid/internal/timeline"
	"github.com/wethinkt/go-timegrid/internal/tui"
	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

// source selection flags, shared by browse and buckets
var (
	serverURL   string
	serverToken string
	dbPath      string
	demoMode    bool
	demoDays    int
	demoSeed    uint64
	demoLatency time.Duration
	orderFlag   string
	mediaFlag   string
	albumFlag   string
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Open the grid browser",
	Long: `Browse the library as a scrolling grid of days. Only days near the
viewport are loaded; the rest are placeholders sized from their counts.

The scrubber on the right jumps through months: click or drag it.

Keys:
  j/k, pgup/pgdn   scroll
  g/G              first/last day
  [ ]              previous/next day
  h/l, enter       move selection, open item
  p                pin the selected item across resizes
  f                cycle media filter (all, image, video)
  r                reload
  q                quit`,
	RunE: runBrowse,
}

func addBrowseFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serverURL, "server", "", "read from a timegrid server instead of the local library")
	cmd.Flags().StringVar(&serverToken, "token", "", "bearer token for --server (default: TIMEGRID_API_TOKEN)")
	cmd.Flags().StringVar(&dbPath, "db", "", "library database (default ~/.timegrid/library.duckdb)")
	cmd.Flags().BoolVar(&demoMode, "demo", false, "browse a generated in-memory library")
	cmd.Flags().IntVar(&demoDays, "days", 730, "days generated by --demo")
	cmd.Flags().Uint64Var(&demoSeed, "seed", 1, "random seed for --demo")
	cmd.Flags().DurationVar(&demoLatency, "latency", 80*time.Millisecond, "simulated fetch latency for --demo")
	cmd.Flags().StringVar(&orderFlag, "order", "", "newest or oldest first (default from config)")
	cmd.Flags().StringVar(&mediaFlag, "type", "", "only show media of this type (image|video)")
	cmd.Flags().StringVar(&albumFlag, "album", "", "only show items in this album")
}

// openedSource is a timeline source with its cleanup and, for servers,
// the event socket to follow.
type openedSource struct {
	timeline.Source
	close     func() error
	eventsURL string
	token     string
	name      string
}

func openSource(ctx context.Context) (*openedSource, error) {
	switch {
	case serverURL != "":
		token := serverToken
		if token == "" {
			token = os.Getenv(server.TokenEnvVar)
		}
		h, err := source.NewHTTP(source.HTTPConfig{BaseURL: serverURL, Token: token})
		if err != nil {
			return nil, err
		}
		return &openedSource{Source: h, close: func() error { return nil }, eventsURL: h.EventsURL(), token: token, name: h.BaseURL()}, nil

	case demoMode:
		m := source.Generate(demoSeed, demoDays, 40, time.Now())
		m.Latency = demoLatency
		return &openedSource{Source: m, close: func() error { return nil }, name: "demo"}, nil
	}

	path, err := libraryPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no library at %s (run 'timegrid index <dir>' or 'timegrid seed' first)", path)
	}
	store, err := library.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	return &openedSource{Source: store, close: store.Close, name: path}, nil
}

// libraryPath resolves --db, then the config, then the default location.
func libraryPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	if settings.Library.Path != "" {
		return settings.Library.Path, nil
	}
	return library.DefaultPath()
}

// gridConfig builds the engine config from settings and flags.
func gridConfig() grid.Config {
	g := settings.Grid
	if orderFlag != "" {
		g.Order = orderFlag
	}
	cfg := grid.ConfigFrom(g)
	cfg.Residency.Filter = timeline.Filter{Album: albumFlag, MediaType: mediaFlag}
	return cfg
}

func runBrowse(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	src, err := openSource(ctx)
	if err != nil {
		return err
	}
	defer src.close()

	tuilog.Log.Info("Starting browser", "source", src.name)

	// Get initial terminal size - try stdout, stdin, stderr in order
	var opts []tea.ProgramOption
	for _, fd := range []int{int(os.Stdout.Fd()), int(os.Stdin.Fd()), int(os.Stderr.Fd())} {
		if term.IsTerminal(fd) {
			w, h, err := term.GetSize(fd)
			if err == nil && w > 0 && h > 0 {
				tuilog.Log.Info("Terminal size", "fd", fd, "width", w, "height", h)
				opts = append(opts, tea.WithWindowSize(w, h))
				break
			}
		}
	}

	err = tui.RunBrowser(ctx, src, tui.BrowserOptions{
		Grid:      tui.TerminalLayout(gridConfig()),
		EventsURL: src.eventsURL,
		Token:     src.token,
		Title:     "timegrid",
	}, opts...)

	tuilog.Log.Info("Browser exited", "error", err)
	return err
}
