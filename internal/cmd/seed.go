package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wethinkt/go-timegrid/internal/i18n"
	"github.com/wethinkt/go-timegrid/internal/library"
	"github.com/wethinkt/go-timegrid/internal/tui"
)

// Seed command flags
var (
	seedProfile string
	seedYes     bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill the library with synthetic items",
	Long: `Generate a synthetic library from a TOML profile and write it into the
library database. Useful for trying the browser on years of data without
real media.

A profile looks like:

  name = "family"
  seed = 7
  start = 2019-01-01T00:00:00Z
  end = 2024-12-31T00:00:00Z
  mean_per_day = 6.0
  empty_day_ratio = 0.3
  video_ratio = 0.1

  [[burst]]
  from = 2023-07-01T00:00:00Z
  to = 2023-07-14T00:00:00Z
  mean_per_day = 80.0
  album = "Holiday 2023"

Without --profile, three years ending today are generated.`,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	p := library.DefaultProfile(time.Now())
	if seedProfile != "" {
		var err error
		if p, err = library.LoadProfile(seedProfile); err != nil {
			return err
		}
	}
	if err := p.Validate(); err != nil {
		return err
	}

	path, err := libraryPath()
	if err != nil {
		return err
	}

	if !seedYes && term.IsTerminal(int(os.Stdin.Fd())) {
		res, err := tui.Confirm(tui.ConfirmOptions{
			Prompt: i18n.Tf("seed.confirm", "Add synthetic items from profile %[1]q to %[2]s?", p.Name, path),
		})
		if err != nil {
			return err
		}
		if res != tui.ConfirmYes {
			fmt.Println(i18n.T("common.cancelled", "Cancelled."))
			return nil
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := library.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := library.Seed(ctx, store, p)
	if err != nil {
		return err
	}
	fmt.Println(i18n.Tf("seed.done", "Added %[1]s items to %[2]s", humanize.Comma(int64(n)), path))
	return nil
}

func init() {
	seedCmd.Flags().StringVar(&seedProfile, "profile", "", "TOML profile describing the library")
	seedCmd.Flags().BoolVarP(&seedYes, "yes", "y", false, "skip confirmation prompt")
	seedCmd.Flags().StringVar(&dbPath, "db", "", "library database (default ~/.timegrid/library.duckdb)")
}
