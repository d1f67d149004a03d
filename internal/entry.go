// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/starford/foxtales/internal/api"
	"github.com/starford/foxtales/internal/calibre"
	"github.com/starford/foxtales/internal/covercache"
	"github.com/starford/foxtales/internal/index"
	"github.com/starford/foxtales/internal/library"
	"github.com/starford/foxtales/internal/mcpserver"
	"github.com/starford/foxtales/internal/metrics"
	"github.com/starford/foxtales/internal/reader"
	"github.com/starford/foxtales/internal/session"
	"github.com/starford/foxtales/internal/sse"
	"github.com/starford/foxtales/internal/storage"
)

const (
	sessionSweepInterval = time.Minute
	limiterSweepInterval = 5 * time.Minute
)

// components holds everything Run and RunMCP share.
type components struct {
	cfg       *Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector
	factory   *library.Factory

	// Reader fields are nil when the comic reader is disabled.
	db          *index.DB
	store       *storage.FS
	comics      *reader.Service
	uploadLimit int64
}

func (c *components) Close() {
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Warn("close index", slog.String("error", err.Error()))
		}
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// build wires the calibre gateway, metrics and, when enabled, the comic
// reader. notify receives comic changes made through the reader service.
func (a *application) build(logger *slog.Logger, notify reader.Notifier) (*components, error) {
	cfg := a.config
	c := &components{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	c.collector = metrics.NewCollector(c.registry)

	runner := a.runner
	if runner == nil {
		runner = &calibre.ExecRunner{Timeout: cfg.Calibre.Timeout, Logger: logger}
	}

	covers, err := covercache.New(cfg.Calibre.CoverCacheSize, c.collector)
	if err != nil {
		return nil, fmt.Errorf("init cover cache: %w", err)
	}

	c.factory = library.NewFactory(calibre.Config{
		Binary:         cfg.Calibre.Binary,
		Library:        cfg.Calibre.Library,
		UseCredentials: cfg.Calibre.UseCredentials,
		CoverBox:       cfg.Calibre.CoverBox,
	}, runner, c.collector, covers, logger)

	if !cfg.Reader.Enabled {
		return c, nil
	}

	c.uploadLimit, err = cfg.Reader.UploadLimit()
	if err != nil {
		return nil, fmt.Errorf("reader max_upload_size: %w", err)
	}

	// Ensure books directory exists.
	if err := os.MkdirAll(cfg.Reader.BooksPath, 0o755); err != nil {
		return nil, fmt.Errorf("create books dir: %w", err)
	}

	c.store, err = storage.NewFS(cfg.Reader.BooksPath)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	c.db, err = index.Open(cfg.Reader.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	// Run initial sync.
	if err := index.Sync(c.db, c.store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	c.comics = reader.New(c.store, c.db, reader.Config{
		CoverBox:      cfg.Reader.CoverBox,
		MaxUploadSize: c.uploadLimit,
	}, notify, logger)

	return c, nil
}

// handler builds the root router: health checks, metrics and the API
// under /api.
func (c *components) handler(sessions api.Sessions, limiter *api.LoginLimiter, broker *sse.Broker) http.Handler {
	apiRouter := api.NewRouter(api.Deps{
		Opener:         c.factory,
		Sessions:       sessions,
		Limiter:        limiter,
		Recorder:       c.collector,
		Reader:         c.comics,
		Notifier:       broker,
		Events:         broker,
		MaxUploadSize:  c.uploadLimit,
		AllowedOrigins: c.cfg.App.HTTP.CORSOrigin,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(c.collector.Middleware)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if c.db != nil {
			if err := c.db.Ping(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if c.cfg.Metrics.Enabled {
		r.Method(http.MethodGet, c.cfg.Metrics.Path, metrics.Handler(c.registry))
	}

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	return r
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(os.Stdout, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("calibre_library", cfg.Calibre.Library),
		slog.Bool("reader_enabled", cfg.Reader.Enabled),
		slog.String("books_path", cfg.Reader.BooksPath),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	c, err := app.build(logger, broker)
	if err != nil {
		return err
	}
	defer c.Close()

	sessions := session.NewMemoryStore[*library.Service](cfg.Auth.SessionTTL)
	limiter := api.NewLoginLimiter(cfg.Auth.LoginRate, cfg.Auth.LoginBurst)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           c.handler(sessions, limiter, broker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	if c.comics != nil {
		g.Go(func() error {
			if err := index.Watch(gCtx, c.db, c.store, c.store.Root(), logger, broker.ComicEvent); err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		return sessions.Run(gCtx, sessionSweepInterval, logger)
	})
	g.Go(func() error {
		return limiter.Run(gCtx, limiterSweepInterval)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Event streams never finish on their own.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group once the server has been shut down.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin and stdout. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(os.Stderr, cfg.App.LogLevel)
	slog.SetDefault(logger)

	c, err := app.build(logger, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	var lib mcpserver.Library
	if cfg.MCP.Username != "" {
		svc, err := c.factory.Open(ctx, cfg.MCP.Username, cfg.MCP.Password)
		if err != nil {
			return fmt.Errorf("open library as %s: %w", cfg.MCP.Username, err)
		}
		lib = svc
	} else {
		logger.Info("mcp: no username configured, library tools disabled")
	}

	srv := mcpserver.New(lib, c.comics, c.uploadLimit)
	logger.Info("mcp: serving on stdio",
		slog.Bool("library", lib != nil),
		slog.Bool("reader", c.comics != nil))
	return srv.ServeStdio()
}
