package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wethinkt/go-timegrid/internal/library"
	"github.com/wethinkt/go-timegrid/internal/server"
	"github.com/wethinkt/go-timegrid/internal/timeline"
	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

// Serve command flags
var (
	servePort       int
	serveHost       string
	serveQuiet      bool
	serveCORSOrigin string
	serveWatch      bool
	serveDemo       bool
	apiToken        string // Bearer token for API server authentication
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the library over HTTP",
	Long: `Start an HTTP server exposing the library's day buckets.

Endpoints:
  GET /api/v1/buckets               day buckets with counts
  GET /api/v1/buckets/{key}/items   items of one day
  GET /api/v1/info                  server and library info
  GET /api/v1/events                websocket of library changes
  GET /metrics                      Prometheus metrics
  GET /healthz                      liveness

With --watch the configured library directories are followed and
connected browsers are told which days changed.

Authentication:
  Use --token or the TIMEGRID_API_TOKEN environment variable.
  Generate a token with: timegrid serve token

Examples:
  timegrid serve                    # Serve on localhost:8785
  timegrid serve -p 9000 --watch    # Custom port, follow file changes
  timegrid serve --demo             # Serve a generated library`,
	RunE: runServe,
}

var serveTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a secure authentication token",
	Long: `Generate a cryptographically secure random token for API authentication.

The token format is: timegrid_YYYYMMDD_<random>

Examples:
  timegrid serve token
  export TIMEGRID_API_TOKEN=$(timegrid serve token)
  timegrid serve                    # Uses token from env`,
	RunE: runServeToken,
}

func runServe(cmd *cobra.Command, args []string) error {
	ensureLog()
	ctx, cancel := signalContext()
	defer cancel()

	tuilog.Log.Info("Starting HTTP server", "port", servePort, "host", serveHost)

	var (
		src     timeline.Source
		libName string
		store   *library.Store
	)
	if serveDemo {
		demoMode = true
		opened, err := openSource(ctx)
		if err != nil {
			return err
		}
		src, libName = opened.Source, opened.name
	} else {
		path, err := libraryPath()
		if err != nil {
			return err
		}
		store, err = library.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		src, libName = store, path
	}

	// Configure authentication
	auth := server.AuthFromEnv()
	if apiToken != "" {
		auth = server.AuthConfig{
			Mode:  server.AuthModeToken,
			Token: apiToken,
		}
	}

	hub := server.NewHub()
	watching := false
	if serveWatch && store != nil && len(settings.Library.Dirs) > 0 {
		w, err := library.NewWatcher(store, settings.Library.DebounceDuration(), settings.Library.Colors, hub.BucketsChanged)
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		if err := w.Start(ctx, settings.Library.Dirs...); err != nil {
			return fmt.Errorf("watching library: %w", err)
		}
		defer w.Stop()
		watching = true
	} else if serveWatch {
		fmt.Fprintln(os.Stderr, "--watch: no library.dirs configured, not watching")
	}

	srv := server.NewHTTPServer(src, hub, server.Config{
		Port:       servePort,
		Host:       serveHost,
		CORSOrigin: resolveCORSOrigin(auth.Mode != server.AuthModeNone),
		Quiet:      serveQuiet,
		Auth:       auth,
		Library:    libName,
		Watching:   watching,
	})
	return srv.ListenAndServe(ctx)
}

func runServeToken(cmd *cobra.Command, args []string) error {
	token, err := server.GenerateSecureTokenWithPrefix()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	fmt.Println(token)
	return nil
}

// resolveCORSOrigin picks the allowed origin: the flag, then
// TIMEGRID_CORS_ORIGIN, then the config. Without any of them, a server
// with auth sends no CORS headers and an open one allows any origin.
func resolveCORSOrigin(authEnabled bool) string {
	if serveCORSOrigin != "" {
		return serveCORSOrigin
	}
	if v := os.Getenv("TIMEGRID_CORS_ORIGIN"); v != "" {
		return v
	}
	if settings.Server.CORSOrigin != "" {
		return settings.Server.CORSOrigin
	}
	if authEnabled {
		return ""
	}
	return "*"
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "server host (default from config)")
	serveCmd.Flags().BoolVarP(&serveQuiet, "quiet", "q", false, "suppress HTTP request logging")
	serveCmd.Flags().StringVar(&serveCORSOrigin, "cors-origin", "", "allowed CORS origin (default: TIMEGRID_CORS_ORIGIN)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "follow library directories and push changes")
	serveCmd.Flags().BoolVar(&serveDemo, "demo", false, "serve a generated in-memory library")
	serveCmd.Flags().StringVar(&apiToken, "token", "", "bearer token for API authentication (default: TIMEGRID_API_TOKEN)")
	serveCmd.Flags().StringVar(&dbPath, "db", "", "library database (default ~/.timegrid/library.duckdb)")

	serveCmd.PreRun = func(cmd *cobra.Command, args []string) {
		if !cmd.Flags().Changed("port") {
			servePort = settings.Server.Port
		}
		if !cmd.Flags().Changed("host") {
			serveHost = settings.Server.Host
		}
	}

	serveCmd.AddCommand(serveTokenCmd)
}
