// Plugin GIPOD - Flemish Roadworks and Manifestation Sync for City Apps
// Copyright 2026 Our City App
// SPDX-License-Identifier: Apache-2.0
// https://github.com/our-city-app/plugin-gipod

package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/our-city-app/plugin-gipod/internal/logging"
	"github.com/our-city-app/plugin-gipod/internal/metrics"
	"github.com/our-city-app/plugin-gipod/internal/store"
)

// requireConsumerKey authenticates map query requests against the consumer
// registry. The key travels in the consumer_key header.
func (h *Handler) requireConsumerKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("consumer_key")
		if key == "" {
			metrics.QueryRequests.WithLabelValues(r.URL.Path, "unauthorized").Inc()
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		consumer, err := h.store.GetConsumer(key)
		if errors.Is(err, store.ErrNotFound) {
			metrics.QueryRequests.WithLabelValues(r.URL.Path, "unauthorized").Inc()
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err != nil {
			logging.Error().Err(err).Msg("Consumer lookup failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		logging.Debug().Str("consumer", consumer.Name).Str("path", r.URL.Path).Msg("Query request")
		next.ServeHTTP(w, r)
	})
}

// requireCronKey guards the cron trigger endpoints. With no key configured
// the endpoints do not exist.
func (h *Handler) requireCronKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		configured := h.cfg.Server.CronKey
		if configured == "" {
			http.NotFound(w, r)
			return
		}
		provided := r.Header.Get("X-Cron-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
