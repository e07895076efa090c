package cmd

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wethinkt/go-timegrid/internal/config"
	"github.com/wethinkt/go-timegrid/internal/i18n"
	"github.com/wethinkt/go-timegrid/internal/library"
	"github.com/wethinkt/go-timegrid/internal/timeline"
	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

// Index command flags
var (
	indexWatch   bool
	indexWorkers int
	indexColors  bool
	indexSave    bool
)

var indexCmd = &cobra.Command{
	Use:   "index [dir...]",
	Short: "Index media directories into the library",
	Long: `Walk directories and record every photo and video in the library,
grouped by the day it was taken. Files already indexed and unchanged
since are skipped.

Without arguments the directories from the config (library.dirs) are
indexed.

Examples:
  timegrid index ~/Pictures             # Index once
  timegrid index ~/Pictures --save      # ...and remember the directory
  timegrid index --watch                # Index, then follow changes`,
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	dirs := args
	if len(dirs) == 0 {
		dirs = settings.Library.Dirs
	}
	if len(dirs) == 0 {
		return fmt.Errorf("no directories given and library.dirs is empty")
	}
	if indexSave && len(args) > 0 {
		settings.Library.Dirs = mergeDirs(settings.Library.Dirs, args)
		if err := config.Save(settings); err != nil {
			return err
		}
	}
	if indexWatch {
		ensureLog()
	}

	ctx, cancel := signalContext()
	defer cancel()

	path, err := libraryPath()
	if err != nil {
		return err
	}
	store, err := library.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	colors := indexColors || settings.Library.Colors
	s := &library.Scanner{Store: store, Workers: indexWorkers, Colors: colors}
	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	if interactive {
		var mu sync.Mutex
		last := time.Time{}
		s.Progress = func(p library.ScanProgress) {
			mu.Lock()
			defer mu.Unlock()
			if time.Since(last) < 100*time.Millisecond {
				return
			}
			last = time.Now()
			fmt.Printf("\r\033[K%s", i18n.Tf("index.progress", "Scanned %[1]s files, indexed %[2]s",
				humanize.Comma(p.Seen), humanize.Comma(p.Indexed)))
		}
	}

	started := time.Now()
	res, err := s.Scan(ctx, dirs...)
	if interactive {
		fmt.Print("\r\033[K")
	}
	if err != nil {
		return err
	}
	fmt.Println(i18n.Tf("index.done", "Indexed %[1]s of %[2]s files (%[3]s skipped, %[4]s failed) across %[5]s days in %[6]s",
		humanize.Comma(int64(res.Indexed)), humanize.Comma(int64(res.Files)),
		humanize.Comma(int64(res.Skipped)), humanize.Comma(int64(res.Failed)),
		humanize.Comma(int64(len(res.Buckets))), time.Since(started).Round(time.Millisecond)))

	if !indexWatch {
		return nil
	}

	if inst := config.FindWatcher(path); inst != nil {
		return fmt.Errorf("library %s is already watched by PID %d", path, inst.PID)
	}
	w, err := library.NewWatcher(store, settings.Library.DebounceDuration(), colors, func(keys []timeline.BucketKey) {
		tuilog.Log.Info("library changed", "days", len(keys))
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx, dirs...); err != nil {
		return err
	}
	defer w.Stop()

	if err := config.RegisterInstance(config.Instance{
		Type:      config.InstanceWatch,
		PID:       os.Getpid(),
		Library:   path,
		StartedAt: time.Now(),
	}); err != nil {
		tuilog.Log.Warn("failed to register watch instance", "error", err)
	}
	defer config.UnregisterInstance(os.Getpid())

	fmt.Println(i18n.T("index.watching", "Watching for changes, press Ctrl+C to stop"))
	<-ctx.Done()
	return nil
}

// mergeDirs appends dirs not already present in existing.
func mergeDirs(existing, dirs []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, d := range existing {
		seen[d] = true
	}
	for _, d := range dirs {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

func init() {
	indexCmd.Flags().BoolVarP(&indexWatch, "watch", "w", false, "keep running and index changes as they happen")
	indexCmd.Flags().IntVar(&indexWorkers, "workers", runtime.NumCPU(), "parallel file probes")
	indexCmd.Flags().BoolVar(&indexColors, "colors", false, "compute average colours (slower, decodes every image)")
	indexCmd.Flags().BoolVar(&indexSave, "save", false, "add the given directories to library.dirs")
	indexCmd.Flags().StringVar(&dbPath, "db", "", "library database (default ~/.timegrid/library.duckdb)")
}
