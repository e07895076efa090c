// Package cmd provides the CLI commands for timegrid.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"

	"github.com/spf13/cobra"

	"github.com/wethinkt/go-timegrid/internal/config"
	"github.com/wethinkt/go-timegrid/internal/i18n"
	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

// global flags
var (
	profileFile *os.File // held open for profiling
	logPath     string
	logLevel    string
	langFlag    string
	homeFlag    string
	outputJSON  bool
)

// settings is the loaded configuration, set by the root pre-run hook.
var settings = config.Default()

// rootCmd is the root command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "timegrid",
	Short: "Browse a photo library as a chronological grid",
	Long: `timegrid indexes local photos and videos into day buckets and lets you
scroll through years of them in a terminal grid that only keeps nearby
days in memory.

Running without a subcommand opens the browser on the local library.

Commands:
  browse    Open the grid browser (default)
  index     Index media directories into the library
  serve     Serve the library over HTTP
  seed      Fill the library with synthetic items
  buckets   List day buckets and their counts

Examples:
  timegrid index ~/Pictures          # Index a directory
  timegrid                           # Browse the local library
  timegrid browse --demo             # Browse a generated library
  timegrid serve --watch             # Serve and follow file changes
  timegrid browse --server http://localhost:8785`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if homeFlag != "" {
			os.Setenv("TIMEGRID_HOME", homeFlag)
		}

		// Start pprof profiling if TIMEGRID_PROFILE is set
		if profilePath := os.Getenv("TIMEGRID_PROFILE"); profilePath != "" {
			f, err := os.Create(profilePath)
			if err != nil {
				return fmt.Errorf("create profile file: %w", err)
			}
			profileFile = f

			if err := pprof.StartCPUProfile(f); err != nil {
				f.Close()
				profileFile = nil
				return fmt.Errorf("start CPU profile: %w", err)
			}
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		settings = cfg

		lang := cfg.Language
		if langFlag != "" {
			lang = langFlag
		}
		i18n.Init(i18n.ResolveLocale(lang))

		if err := tuilog.Init(logPath); err != nil {
			return err
		}
		if logLevel != "" {
			tuilog.Log.SetLevel(tuilog.ParseLevel(logLevel))
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Stop CPU profiling
		if profileFile != nil {
			pprof.StopCPUProfile()
			profileFile.Close()
			profileFile = nil
		}
		return tuilog.Log.Close()
	},
	RunE: runBrowse,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// signalContext returns a context cancelled on interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// defaultLogPath is where long-running commands log when --log is unset.
func defaultLogPath() string {
	dir, err := config.Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "logs", "timegrid.log")
}

// ensureLog opens the default log for long-running commands.
func ensureLog() {
	if tuilog.Log.Enabled() {
		return
	}
	if p := defaultLogPath(); p != "" {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err == nil {
			if err := tuilog.Init(p); err == nil {
				logPath = p
			}
		}
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "write debug log to file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&langFlag, "lang", "", "display language (e.g. en, de, fr)")
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "config and data directory (default ~/.timegrid)")

	addBrowseFlags(rootCmd)
	addBrowseFlags(browseCmd)

	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(bucketsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(languageCmd)
	rootCmd.AddCommand(versionCmd)
}
