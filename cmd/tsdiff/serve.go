package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vjranagit/tsdiff/pkg/api"
	"github.com/vjranagit/tsdiff/pkg/engine"
	"github.com/vjranagit/tsdiff/pkg/loader"
	"github.com/vjranagit/tsdiff/pkg/metrics"
	"github.com/vjranagit/tsdiff/pkg/session"
	"github.com/vjranagit/tsdiff/pkg/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve [run.csv...]",
	Short: "Serve the HTTP API, optionally preloading and watching run files",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	eng := engine.NewEngine()
	eng.EnableCache(cfg.Engine.CacheCapacity, cfg.Engine.CacheTTL)

	store, err := session.Open(cfg.Session.Path, cfg.Session.CompressionLevel)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	registry := prometheus.NewRegistry()
	m.MustRegister(registry)

	server := api.NewServer(api.Options{
		Addr:         cfg.Server.ListenAddr,
		Engine:       eng,
		Sessions:     store,
		Metrics:      m,
		Registry:     registry,
		Logger:       logger,
		MaxShift:     cfg.Engine.MaxShift,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	det := stream.NewDetector(cfg.Watch.InactivityTimeout, logger)
	hub := server.Hub()
	cb := stream.Callbacks{
		OnGrew: func(runIdx, rows int) {
			hub.Broadcast(api.Event{Type: "run_updated", Run: runIdx, Kind: "grew", Rows: rows, Time: time.Now().UTC().Format(time.RFC3339)})
		},
		OnRewritten: func(runIdx int) {
			hub.Broadcast(api.Event{Type: "run_updated", Run: runIdx, Kind: "rewritten", Time: time.Now().UTC().Format(time.RFC3339)})
		},
		OnStop: func(runIdx int) {
			hub.Broadcast(api.Event{Type: "watch_stopped", Run: runIdx, Time: time.Now().UTC().Format(time.RFC3339)})
		},
	}
	watcher := stream.NewWatcher(eng, det, cfg.Watch.PollInterval, logger, m, cb)

	for _, path := range args {
		src, run, err := loader.OpenCSV(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		idx := eng.AddRun(run)
		if err := watcher.Track(idx, src); err != nil {
			return err
		}
		logger.Info("preloaded run", "path", path, "rows", run.Meta.SampleCount)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watchDone := make(chan error, 1)
	go func() {
		watchDone <- watcher.Watch(ctx)
	}()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	if err := <-watchDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("watcher error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
