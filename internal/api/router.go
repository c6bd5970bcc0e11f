// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

// Package api serves the map query endpoints and the cron trigger
// endpoints. Query endpoints authenticate with a consumer key and fail
// empty: bad input or an index failure yields an empty result set, never an
// error page, so map clients degrade to an empty layer.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/our-city-app/plugin-gipod/internal/config"
	"github.com/our-city-app/plugin-gipod/internal/index"
	"github.com/our-city-app/plugin-gipod/internal/logging"
	"github.com/our-city-app/plugin-gipod/internal/store"
)

// Triggers starts the background jobs from the cron endpoints.
type Triggers interface {
	TriggerSync(ctx context.Context) error
	SweepTimedOut(ctx context.Context) error
	SweepDeleted(ctx context.Context) error
}

// Handler bundles the dependencies of all HTTP handlers.
type Handler struct {
	cfg      *config.Config
	store    *store.Store
	index    index.Index
	triggers Triggers
}

// NewHandler wires the HTTP handlers.
func NewHandler(cfg *config.Config, st *store.Store, idx index.Index, triggers Triggers) *Handler {
	return &Handler{cfg: cfg, store: st, index: idx, triggers: triggers}
}

// Router builds the chi router with middleware and all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/plugins/gipod", func(r chi.Router) {
		r.Use(httprate.LimitByIP(h.cfg.API.RateLimitRequests, h.cfg.API.RateLimitWindow))
		r.Use(h.requireConsumerKey)
		r.Post("/items", h.handleItems)
		r.Post("/items/new", h.handleNewItems)
		r.Post("/items/detail", h.handleItemDetails)
	})

	r.Route("/admin/cron", func(r chi.Router) {
		r.Use(h.requireCronKey)
		r.Get("/sync", h.handleCronSync)
		r.Get("/cleanup/timed-out", h.handleCronTimedOut)
		r.Get("/cleanup/deleted", h.handleCronDeleted)
	})

	return r
}

// handleCronSync starts a sync run. The run itself is asynchronous: it
// fans out over the task queue, so the trigger returns as soon as the
// first page tasks are enqueued.
func (h *Handler) handleCronSync(w http.ResponseWriter, r *http.Request) {
	if err := h.triggers.TriggerSync(r.Context()); err != nil {
		logging.Error().Err(err).Msg("Sync trigger failed")
		http.Error(w, "sync trigger failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCronTimedOut(w http.ResponseWriter, r *http.Request) {
	if err := h.triggers.SweepTimedOut(r.Context()); err != nil {
		logging.Error().Err(err).Msg("Timed-out sweep failed")
		http.Error(w, "timed-out sweep failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCronDeleted(w http.ResponseWriter, r *http.Request) {
	if err := h.triggers.SweepDeleted(r.Context()); err != nil {
		logging.Error().Err(err).Msg("Deleted sweep failed")
		http.Error(w, "deleted sweep failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
