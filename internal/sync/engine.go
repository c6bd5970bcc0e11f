// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

// Package sync drives the incremental synchronization pipeline. A sync run
// advances the synced-until watermark, then walks the upstream listing page
// by page; every listed record becomes an update task that fetches the
// detail payload, normalizes its geometry and re-indexes it. Work flows
// through a Watermill router so each unit retries independently and
// permanent failures land on a poison topic instead of wedging the run.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/our-city-app/plugin-gipod/internal/config"
	"github.com/our-city-app/plugin-gipod/internal/geometry"
	"github.com/our-city-app/plugin-gipod/internal/gipod"
	"github.com/our-city-app/plugin-gipod/internal/logging"
	"github.com/our-city-app/plugin-gipod/internal/metrics"
	"github.com/our-city-app/plugin-gipod/internal/models"
	"github.com/our-city-app/plugin-gipod/internal/projection"
	"github.com/our-city-app/plugin-gipod/internal/store"
)

// Engine owns the in-process task queue and the page and update handlers.
type Engine struct {
	cfg       *config.Config
	client    gipod.Client
	store     *store.Store
	reindexer *projection.Reindexer

	pubSub *gochannel.GoChannel
	router *message.Router
}

// NewEngine builds the pub/sub, the router and its middleware, and
// registers the sync handlers. Call Run to start processing.
func NewEngine(cfg *config.Config, client gipod.Client, st *store.Store, reindexer *projection.Reindexer) (*Engine, error) {
	logger := NewWatermillLogger()

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(cfg.Sync.QueueBuffer),
	}, logger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 30 * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.Sync.RetryMaxRetries,
		InitialInterval: cfg.Sync.RetryInitialInterval,
		MaxInterval:     cfg.Sync.RetryMaxInterval,
		Multiplier:      2.0,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	poison, err := middleware.PoisonQueue(pubSub, TopicPoison)
	if err != nil {
		return nil, fmt.Errorf("create poison queue: %w", err)
	}
	router.AddMiddleware(poison)

	e := &Engine{
		cfg:       cfg,
		client:    client,
		store:     st,
		reindexer: reindexer,
		pubSub:    pubSub,
		router:    router,
	}

	router.AddConsumerHandler("sync-page", TopicSyncPage, pubSub, e.handlePage)
	router.AddConsumerHandler("sync-update", TopicSyncUpdate, pubSub, e.handleUpdate)
	return e, nil
}

// Publisher exposes the task queue for the cleanup sweeps.
func (e *Engine) Publisher() message.Publisher { return e.pubSub }

// Subscriber exposes the task queue for additional handlers registered at
// wiring time.
func (e *Engine) Subscriber() message.Subscriber { return e.pubSub }

// Router exposes the underlying router so wiring code can attach the
// cleanup delete handler before Run.
func (e *Engine) Router() *message.Router { return e.router }

// Run starts the router and blocks until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

// Running returns a channel that closes once all handlers are consuming.
func (e *Engine) Running() <-chan struct{} { return e.router.Running() }

// Close stops the router and the pub/sub.
func (e *Engine) Close() error {
	if err := e.router.Close(); err != nil {
		return err
	}
	return e.pubSub.Close()
}

// TriggerSync starts one incremental sync run. The watermark advances to
// now before any page is fetched, so updates arriving mid-run are caught by
// the next run instead of being lost.
func (e *Engine) TriggerSync(ctx context.Context) error {
	now := time.Now().UTC()
	previous, err := e.store.AdvanceWatermark(now)
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}

	endDate := now.AddDate(0, e.cfg.Upstream.LookaheadMonths, 0)
	logging.Info().
		Time("end_date", endDate).
		Interface("watermark", previous).
		Msg("Sync run triggered")

	for _, kind := range models.Kinds {
		task := PageTask{Kind: kind, Offset: 0, EndDate: endDate, Watermark: previous}
		if err := Publish(e.pubSub, TopicSyncPage, task); err != nil {
			return err
		}
	}
	return nil
}

// handlePage fetches one list page, schedules an update task per entry and
// re-enqueues itself for the next page while entries keep coming.
func (e *Engine) handlePage(msg *message.Message) error {
	var task PageTask
	if err := decodeTask(msg, &task); err != nil {
		return err
	}
	if !task.Kind.Valid() {
		return fmt.Errorf("page task with unknown kind %q", task.Kind)
	}

	ctx := msg.Context()
	items, err := e.client.List(ctx, task.Kind, task.EndDate, e.cfg.Upstream.PageSize, task.Offset)
	if err != nil {
		return fmt.Errorf("list %s page at offset %d: %w", task.Kind, task.Offset, err)
	}
	metrics.SyncPagesFetched.WithLabelValues(task.Kind.String()).Inc()

	for _, item := range items {
		// Entries touched at or since the previous run are refreshed
		// unconditionally; strictly older ones only when missing
		// locally. A nil watermark (first run) refreshes everything.
		skip := task.Watermark != nil && item.LatestUpdate.Before(*task.Watermark)
		update := UpdateTask{Kind: task.Kind, GipodID: item.GipodID, SkipIfExists: skip}
		if err := Publish(e.pubSub, TopicSyncUpdate, update); err != nil {
			return err
		}
		mode := "unconditional"
		if skip {
			mode = "skip_if_exists"
		}
		metrics.SyncUpdatesScheduled.WithLabelValues(task.Kind.String(), mode).Inc()
	}

	if len(items) > 0 {
		next := task
		next.Offset += len(items)
		if err := Publish(e.pubSub, TopicSyncPage, next); err != nil {
			return err
		}
		return nil
	}

	logging.Info().
		Str("kind", task.Kind.String()).
		Int("offset", task.Offset).
		Msg("List walk finished")
	return nil
}

// handleUpdate refreshes one record: fetch the detail payload, round its
// geometry, and write store and index.
func (e *Engine) handleUpdate(msg *message.Message) error {
	var task UpdateTask
	if err := decodeTask(msg, &task); err != nil {
		return err
	}
	if !task.Kind.Valid() {
		return fmt.Errorf("update task with unknown kind %q", task.Kind)
	}

	ctx := msg.Context()
	uid := models.MakeUID(task.Kind, task.GipodID)

	existing, err := e.store.Get(uid)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load %s: %w", uid, err)
	}
	if task.SkipIfExists && existing != nil {
		metrics.SyncRecordsProcessed.WithLabelValues(task.Kind.String(), "skipped").Inc()
		return nil
	}

	data, err := e.client.Detail(ctx, task.Kind, task.GipodID)
	if errors.Is(err, gipod.ErrNotFound) {
		// Listed but already gone upstream. The deleted sweep reconciles
		// any local copy.
		logging.Warn().Str("uid", uid).Msg("Detail fetch returned not found")
		metrics.SyncRecordsProcessed.WithLabelValues(task.Kind.String(), "missing").Inc()
		return nil
	}
	if err != nil {
		metrics.SyncRecordsProcessed.WithLabelValues(task.Kind.String(), "error").Inc()
		return fmt.Errorf("fetch detail %s: %w", uid, err)
	}

	normalizeGeometry(data, uid)

	record := &models.Record{UID: uid, Kind: task.Kind, Data: *data}
	if err := e.reindexer.Reindex(ctx, record, time.Now().UTC()); err != nil {
		metrics.SyncRecordsProcessed.WithLabelValues(task.Kind.String(), "error").Inc()
		return err
	}

	metrics.SyncRecordsProcessed.WithLabelValues(task.Kind.String(), "updated").Inc()
	logging.Debug().Str("uid", uid).Bool("visible", record.Visible).Msg("Record re-indexed")
	return nil
}

// normalizeGeometry rounds every coordinate in the payload to 6 decimals,
// the upstream's effective precision.
func normalizeGeometry(data *models.ItemData, uid string) {
	geometry.Normalize(data.Location.Coordinate, uid)
	geometry.Normalize(data.Location.Geometry, uid)
	for i := range data.Diversions {
		geometry.Normalize(data.Diversions[i].Geometry, uid)
	}
}
