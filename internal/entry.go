// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/sddbundle/internal/api"
	"github.com/starford/sddbundle/internal/engine"
	"github.com/starford/sddbundle/internal/index"
	"github.com/starford/sddbundle/internal/mcpserver"
	"github.com/starford/sddbundle/internal/metrics"
	"github.com/starford/sddbundle/internal/sse"

	// Revert backends register themselves with the vcs registry.
	_ "github.com/starford/sddbundle/internal/vcs/gitcli"
	_ "github.com/starford/sddbundle/internal/vcs/gogit"
)

// Runtime bundles the engine with the resources it owns.
type Runtime struct {
	Engine  *engine.Service
	Metrics *metrics.Metrics
	Broker  *sse.Broker
	Logger  *slog.Logger

	closers []func() error
}

// Close releases the index, the broker and the log file.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// Open builds the logger, metrics, optional index and SSE broker, and loads
// the bundle into a new engine.
func Open(ctx context.Context, opts ...Option) (*Runtime, error) {
	app := newApplication(opts)
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger, logCloser := NewLogger(cfg.App, app.logOutput)
	slog.SetDefault(logger)
	rt := &Runtime{Logger: logger, Metrics: metrics.New(), Broker: sse.NewBroker(2 * time.Second)}
	rt.closers = append(rt.closers, logCloser.Close, func() error { rt.Broker.Close(); return nil })

	logger.Info("Configuration loaded",
		slog.String("bundle_path", cfg.Bundle.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("commit_backend", cfg.Commit.Backend),
		slog.String("log_level", cfg.App.LogLevel.String()))

	var idx index.EntityIndex
	if cfg.SQLite.Enabled() {
		db, err := index.Open(cfg.SQLite.Path)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("init index: %w", err)
		}
		idx = db
		rt.closers = append(rt.closers, db.Close)
	}

	svc, err := engine.New(ctx, engine.Options{
		Root:        cfg.Bundle.Path,
		Concurrency: cfg.Bundle.Concurrency,
		Backend:     cfg.Commit.Backend,
		Index:       idx,
		Notifier:    rt.Broker,
		Metrics:     rt.Metrics,
		Logger:      logger,
	})
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("load bundle: %w", err)
	}
	rt.Engine = svc
	return rt, nil
}

// Run starts the HTTP server and the bundle watcher with the given options.
func Run(ctx context.Context, opts ...Option) error {
	rt, err := Open(ctx, opts...)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := newApplication(opts).config
	logger := rt.Logger

	apiRouter := api.NewRouter(rt.Engine, cfg.Auth.AuthEnabled(), cfg.Auth.Token, rt.Broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health and metrics endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if rt.Engine.Snapshot() == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"loading"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", rt.Metrics.Handler())

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.Engine.Watch(gCtx, cfg.Bundle.WatchDebounce)
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
// Console logging must not use stdout; pass WithLogOutput(os.Stderr).
func RunMCP(ctx context.Context, opts ...Option) error {
	rt, err := Open(ctx, opts...)
	if err != nil {
		return err
	}
	defer rt.Close()

	app := newApplication(opts)
	rt.Logger.Info("Starting MCP server on stdio")
	return mcpserver.New(rt.Engine, app.version).ServeStdio()
}
