package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphummel/smartmine/internal/apiclient"
	"github.com/tphummel/smartmine/internal/config"
	"github.com/tphummel/smartmine/internal/equipment"
	"github.com/tphummel/smartmine/internal/form"
	"github.com/tphummel/smartmine/internal/maintenance"
	"github.com/tphummel/smartmine/internal/metrics"
	"github.com/tphummel/smartmine/internal/refresh"
	"github.com/tphummel/smartmine/internal/sample"
	"github.com/tphummel/smartmine/internal/store"
	"github.com/tphummel/smartmine/internal/web"
)

// version and commit are injected at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

// app is the wired console.
type app struct {
	store  *store.Store
	loader *refresh.Loader
	web    *web.Server
}

// sampleProvider returns the snapshot source: the embedded copy, or
// sample-data.json in dir when dir is set.
func sampleProvider(dir string) *sample.Provider {
	if dir == "" {
		return sample.New()
	}
	return sample.FromFS(os.DirFS(dir))
}

// newApp wires every component from cfg.
func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	api := apiclient.NewClient(cfg.Backend.URL, cfg.Backend.Timeout)
	snap := sampleProvider(cfg.Sample.Dir)
	eq := equipment.NewClient(api, snap, logger)
	maint := maintenance.NewClient(api)

	st := store.New()
	st.Subscribe(func(s store.Snapshot) {
		logger.Debug("equipment collection updated",
			"count", len(s.Equipment), "source", s.Source, "version", s.Version)
	})
	loader := refresh.NewLoader(eq, st, logger)
	reg := prometheus.NewRegistry()
	metrics.Register(reg, st)
	logger.Info("backend configured", "url", api.BaseURL(), "timeout", cfg.Backend.Timeout)

	srv, err := web.New(web.Options{
		Store:     st,
		Loader:    loader,
		Scheduler: refresh.NewScheduler(loader.Refresh, cfg.Refresh.Interval),
		Submitter: &form.Submitter{
			Equipment:   eq,
			Maintenance: maint,
			Store:       st,
			Refresh:     loader.Refresh,
			Logger:      logger,
		},
		Maintenance:     maint,
		Sample:          snap,
		Logger:          logger,
		Gatherer:        reg,
		RefreshInterval: cfg.Refresh.Interval,
		Version:         version,
		Commit:          commit,
	})
	if err != nil {
		return nil, err
	}
	return &app{store: st, loader: loader, web: srv}, nil
}

func main() {
	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	a, err := newApp(cfg, logger)
	if err != nil {
		log.Fatalf("failed to build console: %v", err)
	}

	// Warm the store so the first page view does not wait on the backend.
	// Failures are logged by the loader and retried on the next page view.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		outcome, _ := a.loader.Initial(ctx)
		logger.Info("initial load finished", "outcome", outcome.String(), "backend", cfg.Backend.URL)
	}()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.web.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Addr(), "version", version, "commit", commit)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.web.Close()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "graceful shutdown failed: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
