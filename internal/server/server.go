// Package server implements the HTTP API of timegrid serve.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wethinkt/go-timegrid/internal/api"
	"github.com/wethinkt/go-timegrid/internal/config"
	"github.com/wethinkt/go-timegrid/internal/timeline"
	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

// Config holds server configuration.
type Config struct {
	Port       int
	Host       string
	CORSOrigin string // empty disables CORS headers
	Quiet      bool   // disable request logging
	Auth       AuthConfig
	// Library is reported by /api/v1/info.
	Library  string
	Watching bool
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Port: 8785,
		Host: "localhost",
	}
}

// HTTPServer serves the bucket API over a timeline.Source.
type HTTPServer struct {
	src    timeline.Source
	hub    *Hub
	auth   *BearerAuthenticator
	router chi.Router
	config Config
	log    *tuilog.Logger
}

// NewHTTPServer creates a new HTTP server for src. hub may be nil when
// the library is not watched.
func NewHTTPServer(src timeline.Source, hub *Hub, cfg Config) *HTTPServer {
	if hub == nil {
		hub = NewHub()
	}
	s := &HTTPServer{
		src:    src,
		hub:    hub,
		auth:   NewBearerAuthenticator(cfg.Auth),
		config: cfg,
		log:    tuilog.Log.With("server"),
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures all routes.
func (s *HTTPServer) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware(s.config.CORSOrigin))
	if !s.config.Quiet {
		r.Use(requestLogger(os.Stderr))
	}
	r.Use(metricsMiddleware)

	if s.auth.IsEnabled() {
		s.log.Info("API authentication enabled")
	} else {
		s.log.Warn("API running without authentication")
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route(api.BasePath, func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Get("/buckets", s.handleGetBuckets)
		r.Get("/buckets/{key}/items", s.handleGetBucketItems)
		r.Get("/info", s.handleGetInfo)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// Router returns the chi router.
func (s *HTTPServer) Router() chi.Router {
	return s.router
}

// Hub returns the event hub library changes are published to.
func (s *HTTPServer) Hub() *Hub { return s.hub }

// Addr returns the server address.
func (s *HTTPServer) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled.
func (s *HTTPServer) ListenAndServe(ctx context.Context) error {
	if existing := config.FindInstanceByPort(s.config.Port); existing != nil && s.config.Port != 0 {
		return fmt.Errorf("port %d is already in use by timegrid %s (PID %d, started %s)",
			s.config.Port, existing.Type, existing.PID, existing.StartedAt.Format(time.RFC3339))
	}

	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	// Update port if it was auto-assigned
	if s.config.Port == 0 {
		s.config.Port = ln.Addr().(*net.TCPAddr).Port
	}

	inst := config.Instance{
		Type:      config.InstanceServer,
		PID:       os.Getpid(),
		Port:      s.config.Port,
		Host:      s.config.Host,
		Library:   s.config.Library,
		StartedAt: time.Now(),
	}
	if err := config.RegisterInstance(inst); err != nil {
		s.log.Warn("failed to register server instance", "error", err)
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		config.UnregisterInstance(os.Getpid())
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("timegrid server running at http://%s\n", s.Addr())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// corsMiddleware adds CORS headers for origin. An empty origin disables CORS.
func corsMiddleware(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if origin == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
