// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

// Command server runs the GIPOD sync service: the incremental sync
// pipeline, the cleanup sweeps and the map query API in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/our-city-app/plugin-gipod/internal/api"
	"github.com/our-city-app/plugin-gipod/internal/cleanup"
	"github.com/our-city-app/plugin-gipod/internal/config"
	"github.com/our-city-app/plugin-gipod/internal/gipod"
	"github.com/our-city-app/plugin-gipod/internal/index"
	"github.com/our-city-app/plugin-gipod/internal/logging"
	"github.com/our-city-app/plugin-gipod/internal/projection"
	"github.com/our-city-app/plugin-gipod/internal/scheduler"
	"github.com/our-city-app/plugin-gipod/internal/store"
	"github.com/our-city-app/plugin-gipod/internal/sync"
)

// jobs satisfies api.Triggers by combining the sync engine and the sweeps.
type jobs struct {
	*sync.Engine
	*cleanup.Sweeper
}

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server exited with error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	st, err := store.Open(&cfg.Store)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer func() { _ = st.Close() }()

	if err := st.BootstrapConsumers(cfg.Consumers); err != nil {
		return fmt.Errorf("bootstrap consumers: %w", err)
	}

	idx, err := index.Open(&cfg.Index)
	if err != nil {
		return fmt.Errorf("open search index: %w", err)
	}
	defer func() { _ = idx.Close() }()

	client := gipod.NewCircuitBreakerClient(gipod.NewHTTPClient(&cfg.Upstream))
	reindexer := projection.NewReindexer(st, idx)

	engine, err := sync.NewEngine(cfg, client, st, reindexer)
	if err != nil {
		return fmt.Errorf("create sync engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	sweeper := cleanup.NewSweeper(cfg, client, st, reindexer, engine.Publisher())
	engine.Router().AddConsumerHandler("cleanup-delete", sync.TopicCleanupDelete, engine.Subscriber(), sweeper.HandleDelete)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := engine.Run(ctx); err != nil {
			logging.Error().Err(err).Msg("Task router stopped")
		}
	}()
	<-engine.Running()

	sched := scheduler.New(
		scheduler.Job{Name: "sync", Schedule: cfg.Sync.Schedule, Run: engine.TriggerSync},
		scheduler.Job{Name: "cleanup-timed-out", Schedule: cfg.Sync.TimedOutSchedule, Run: sweeper.SweepTimedOut},
		scheduler.Job{Name: "cleanup-deleted", Schedule: cfg.Sync.DeletedSchedule, Run: sweeper.SweepDeleted},
	)
	sched.Start(ctx)

	handler := api.NewHandler(cfg, st, idx, jobs{engine, sweeper})
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	sched.Wait()
	return nil
}
